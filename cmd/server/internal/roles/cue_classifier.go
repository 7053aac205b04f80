package roles

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

var (
	defaultDoctorCues = []string{
		"let me check", "let me take", "let me look", "let me listen", "blood pressure", "take a deep breath",
		"how long have you", "how are you feeling", "any allergies", "are you taking", "i'll prescribe",
		"i will prescribe", "prescription", "i recommend", "i'd recommend", "we'll run", "we will run",
		"test results", "your symptoms", "follow up", "follow-up", "dosage", "examine", "diagnosis",
		"量一下血压", "检查一下", "哪里不舒服", "多久了", "开药", "建议你", "我给你开", "复查",
	}
	defaultPatientCues = []string{
		"i've been", "i have been", "i feel", "i'm feeling", "i am feeling", "it hurts", "my head",
		"my chest", "my stomach", "headache", "dizzy", "nausea", "fever", "cough", "can't sleep",
		"since last", "i'm worried", "i noticed", "my doctor", "painful",
		"我头疼", "头晕", "不舒服", "难受", "我最近", "睡不着", "发烧", "咳嗽",
	}
)

// questionBonus 提问在问诊中偏向医生
const questionBonus = 0.5

// CueClassifier labels speakers by counting clinician and patient cue phrases.
// It supports any number of speakers and assigns at most one Doctor and one Patient;
// other speakers with cues are Other with a confidence that always needs review.
type CueClassifier struct {
	doctorCues  []string
	patientCues []string
}

// NewCueClassifier 使用内置提示词表，extra* 追加自定义提示词
func NewCueClassifier(extraDoctor, extraPatient []string) *CueClassifier {
	c := &CueClassifier{
		doctorCues:  append([]string(nil), defaultDoctorCues...),
		patientCues: append([]string(nil), defaultPatientCues...),
	}
	for _, cue := range extraDoctor {
		c.doctorCues = append(c.doctorCues, strings.ToLower(cue))
	}
	for _, cue := range extraPatient {
		c.patientCues = append(c.patientCues, strings.ToLower(cue))
	}
	return c
}

// Name 返回分类器名称
func (c *CueClassifier) Name() string { return "cue" }

// Source 启发式分类
func (c *CueClassifier) Source() models.RoleSource { return models.RoleSourceHeuristic }

type cueScore struct {
	id      string
	doctor  float64
	patient float64
}

func (s cueScore) doctorProb() float64 {
	return (s.doctor + 0.25) / (s.doctor + s.patient + 0.5)
}

func (s cueScore) patientProb() float64 {
	return (s.patient + 0.25) / (s.doctor + s.patient + 0.5)
}

// Classify never fails for a non-empty batch.
func (c *CueClassifier) Classify(_ context.Context, batch []models.Segment, hints Hints) (*Classification, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: empty segment batch", ErrInvalidInput)
	}

	scores := make(map[string]*cueScore)
	var order []string
	for _, seg := range batch {
		if _, known := hints.KnownRoles[seg.SpeakerID]; known {
			continue
		}
		s, ok := scores[seg.SpeakerID]
		if !ok {
			s = &cueScore{id: seg.SpeakerID}
			scores[seg.SpeakerID] = s
			order = append(order, seg.SpeakerID)
		}
		text := normalizeCueText(seg.Text)
		s.doctor += float64(countCues(text, c.doctorCues))
		s.patient += float64(countCues(text, c.patientCues))
		if strings.HasSuffix(text, "?") || strings.HasSuffix(text, "？") {
			s.doctor += questionBonus
		}
	}
	sort.Strings(order)

	taken := make(map[models.Role]bool)
	for _, role := range hints.KnownRoles {
		taken[role] = true
	}

	out := &Classification{
		RoleMapping:      make(map[string]string),
		ConfidenceScores: make(map[string]float64),
		Reasoning:        make(map[string]string),
	}
	assign := func(id string, role models.Role, conf float64, why string) {
		out.RoleMapping[id] = string(role)
		out.ConfidenceScores[id] = conf
		out.Reasoning[id] = why
	}

	doctor := ""
	if !taken[models.RoleDoctor] {
		doctor = argmax(order, scores, func(s *cueScore) float64 { return s.doctor - s.patient })
	}
	if doctor != "" {
		s := scores[doctor]
		assign(doctor, models.RoleDoctor, s.doctorProb(), fmt.Sprintf("clinician cues %.1f vs patient cues %.1f", s.doctor, s.patient))
	}

	patient := ""
	if !taken[models.RolePatient] {
		rest := make([]string, 0, len(order))
		for _, id := range order {
			if id != doctor {
				rest = append(rest, id)
			}
		}
		patient = argmax(rest, scores, func(s *cueScore) float64 { return s.patient - s.doctor })
	}
	if patient != "" {
		s := scores[patient]
		assign(patient, models.RolePatient, s.patientProb(), fmt.Sprintf("patient cues %.1f vs clinician cues %.1f", s.patient, s.doctor))
	}

	for _, id := range order {
		if id == doctor || id == patient {
			continue
		}
		s := scores[id]
		if s.doctor == 0 && s.patient == 0 {
			assign(id, models.RoleUnknown, 0, "no role cues")
			continue
		}
		conf := 0.5 * max(s.doctorProb(), s.patientProb())
		assign(id, models.RoleOther, conf, "role cues present but doctor and patient already identified")
	}
	return out, nil
}

// argmax returns the id with the largest positive key, ties by id order.
func argmax(ids []string, scores map[string]*cueScore, key func(*cueScore) float64) string {
	best, bestVal := "", 0.0
	for _, id := range ids {
		if v := key(scores[id]); v > bestVal {
			best, bestVal = id, v
		}
	}
	return best
}

func normalizeCueText(text string) string {
	text = strings.ReplaceAll(text, "’", "'")
	return strings.ToLower(strings.TrimSpace(text))
}

func countCues(text string, cues []string) int {
	n := 0
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			n++
		}
	}
	return n
}
