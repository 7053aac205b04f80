package orchestrator

import (
	"time"

	"github.com/houzhh15/consultscribe/cmd/server/internal/chunking"
	"github.com/houzhh15/consultscribe/cmd/server/internal/continuity"
	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/cmd/server/internal/roles"
	"github.com/houzhh15/consultscribe/cmd/server/internal/simhash"
)

// Config 会话级流水线参数
type Config struct {
	ChunkDuration   time.Duration
	OverlapDuration time.Duration
	MaxChunks       int

	// 跨切片匹配
	Weights                continuity.Weights
	LowConfidenceThreshold float64

	// 重叠区去重
	DedupThreshold       int
	DedupMinOverlapRatio float64

	// 角色识别
	RoleConfidenceThreshold float64
	RoleTimeout             time.Duration

	// 说话人分离调用：超时、重试次数与退避基数（第 n 次重试等待 n*n*RetryBackoff）
	DiarizationTimeout time.Duration
	MaxAttempts        int
	RetryBackoff       time.Duration

	QueueSize int
}

// DefaultConfig returns the defaults: 30s chunks with 5s overlap, 0.5/0.3/0.2 weights,
// 0.5 continuity threshold and 0.7 role threshold.
func DefaultConfig() Config {
	return Config{
		ChunkDuration:           30 * time.Second,
		OverlapDuration:         5 * time.Second,
		MaxChunks:               chunking.DefaultMaxChunks,
		Weights:                 continuity.DefaultWeights(),
		LowConfidenceThreshold:  continuity.DefaultLowConfidenceThreshold,
		DedupThreshold:          simhash.DefaultThreshold,
		DedupMinOverlapRatio:    simhash.DefaultMinOverlapRatio,
		RoleConfidenceThreshold: roles.DefaultConfidenceThreshold,
		RoleTimeout:             120 * time.Second,
		DiarizationTimeout:      180 * time.Second,
		MaxAttempts:             3,
		RetryBackoff:            time.Second,
		QueueSize:               8,
	}
}

// ChunkOptions converts the durations for the planner.
func (c Config) ChunkOptions() chunking.Options {
	return chunking.Options{
		ChunkDuration:   c.ChunkDuration.Seconds(),
		OverlapDuration: c.OverlapDuration.Seconds(),
		MaxChunks:       c.MaxChunks,
	}
}

// SpecFor builds the ChunkSpec of chunk index. A non-positive end uses the planned
// chunk length; a negative start uses the planned stride position.
func (c Config) SpecFor(index int, start, end float64) models.ChunkSpec {
	opts := c.ChunkOptions()
	if start < 0 {
		start = float64(index) * opts.Stride()
	}
	if end <= 0 {
		end = start + opts.ChunkDuration
	}
	return chunking.SpecAt(index, start, end, opts.OverlapDuration)
}
