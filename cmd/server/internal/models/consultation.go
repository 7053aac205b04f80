package models

import (
	"strings"
	"time"
)

// Segment 一段带说话人标签的语音文本
// StartTime/EndTime 单位为秒，既可以是切片内相对时间也可以是会话全局时间
// SpeakerID 在重写前是切片本地标签，重写后是规范说话人 ID
type Segment struct {
	StartTime float64 `json:"start_time" yaml:"start_time"`
	EndTime   float64 `json:"end_time" yaml:"end_time"`
	SpeakerID string  `json:"speaker_id" yaml:"speaker_id"`
	Text      string  `json:"text" yaml:"text"`
}

// Duration 返回片段时长
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Valid 片段必须满足 start < end，文本可以为空
func (s Segment) Valid() bool {
	return s.StartTime < s.EndTime
}

// Shift 返回平移 offset 秒后的副本
func (s Segment) Shift(offset float64) Segment {
	s.StartTime += offset
	s.EndTime += offset
	return s
}

// ChunkSpec 描述一个切片在会话中的全局时间范围及其与前一切片的重叠窗口
// 首个切片没有重叠窗口，OverlapStart == OverlapEnd == 0
type ChunkSpec struct {
	Index        int     `json:"index"`
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	OverlapStart float64 `json:"overlap_start"`
	OverlapEnd   float64 `json:"overlap_end"`
}

// Duration 返回切片时长
func (c ChunkSpec) Duration() float64 {
	return c.EndTime - c.StartTime
}

// HasOverlap 判断切片是否带有前导重叠窗口
func (c ChunkSpec) HasOverlap() bool {
	return c.OverlapEnd > c.OverlapStart
}

// SpeakerStat 单个说话人在某时间窗口内的聚合统计
type SpeakerStat struct {
	TotalDuration    float64 `json:"total_duration"`
	WordCount        int     `json:"word_count"`
	SegmentCount     int     `json:"segment_count"`
	SampleText       string  `json:"sample_text"`
	AvgSegmentLength float64 `json:"avg_segment_length"`
}

// SpeakerStats 以说话人 ID 为键的窗口统计
type SpeakerStats map[string]SpeakerStat

// ContinuityMatch 当前切片某说话人与前一切片规范说话人的匹配结果
// MatchedTo 为空表示未匹配
type ContinuityMatch struct {
	MatchedTo     string  `json:"matched_to,omitempty"`
	Confidence    float64 `json:"confidence"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

// Matched 只有非空且置信度不低于阈值的配对才视为同一说话人
func (m ContinuityMatch) Matched() bool {
	return m.MatchedTo != "" && !m.LowConfidence
}

// ContinuityMapping 当前切片本地 ID -> 匹配结果
type ContinuityMapping map[string]ContinuityMatch

// CanonicalSpeaker 会话内稳定的说话人身份
type CanonicalSpeaker struct {
	ID             string    `json:"id"`
	CreatedInChunk int       `json:"created_in_chunk"`
	CreatedAt      time.Time `json:"created_at"`
}

// Role 说话人在问诊中的语义角色
type Role string

const (
	RoleDoctor  Role = "Doctor"
	RolePatient Role = "Patient"
	RoleOther   Role = "Other"
	RoleUnknown Role = "Unknown"
)

// ParseRole 不区分大小写地解析角色名称
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "doctor", "clinician", "physician":
		return RoleDoctor, true
	case "patient":
		return RolePatient, true
	case "other":
		return RoleOther, true
	case "unknown":
		return RoleUnknown, true
	default:
		return RoleUnknown, false
	}
}

// RoleSource 角色分配的来源
type RoleSource string

const (
	RoleSourceRemote    RoleSource = "remote"
	RoleSourceHeuristic RoleSource = "heuristic"
	RoleSourceManual    RoleSource = "manual"
	RoleSourceFallback  RoleSource = "fallback"
)

// RoleAssignment 规范说话人的角色判定
// RequiresManualAssignment 为 true 时需要人工确认
type RoleAssignment struct {
	Role                     Role       `json:"role"`
	Confidence               float64    `json:"confidence"`
	Reasoning                string     `json:"reasoning,omitempty"`
	RequiresManualAssignment bool       `json:"requires_manual_assignment"`
	Source                   RoleSource `json:"source"`
}

// TranscriptSegment 会话转写中的片段，附带解析后的角色
type TranscriptSegment struct {
	Segment
	Role Role `json:"role"`
}

// ChunkStatus 单个切片的处理状态
type ChunkStatus string

const (
	ChunkStatusOK       ChunkStatus = "ok"
	ChunkStatusFailed   ChunkStatus = "failed"
	ChunkStatusDegraded ChunkStatus = "degraded"
)

// SchemaVersion ChunkResult 的结构版本，UI 和存储依赖该结构
const SchemaVersion = "v1"

// ChunkResult 每处理完一个切片向外输出的结构化结果
type ChunkResult struct {
	SchemaVersion     string                    `json:"schema_version"`
	SessionID         string                    `json:"session_id"`
	ChunkIndex        int                       `json:"chunk_index"`
	ChunkStart        float64                   `json:"chunk_start"`
	ChunkEnd          float64                   `json:"chunk_end"`
	Status            ChunkStatus               `json:"status"`
	Attempts          int                       `json:"attempts"`
	Segments          []Segment                 `json:"segments"`
	DetectedSpeakers  []string                  `json:"detected_speakers"`
	NewSpeakers       []string                  `json:"new_speakers,omitempty"`
	RoleMapping       map[string]RoleAssignment `json:"role_mapping"`
	ContinuityMapping ContinuityMapping         `json:"continuity_mapping"`
	DroppedDuplicates int                       `json:"dropped_duplicates"`
	LatencyMs         int64                     `json:"latency_ms"`
	Error             string                    `json:"error,omitempty"`
	ProcessedAt       time.Time                 `json:"processed_at"`
}
