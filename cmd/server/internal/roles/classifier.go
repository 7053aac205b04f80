// Package roles maps canonical speakers to consultation roles.
package roles

import (
	"context"
	"errors"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

var (
	// ErrResponseInvalid 分类服务返回的内容无法解析
	ErrResponseInvalid = errors.New("roles: classifier response invalid")
	// ErrInvalidInput 调用参数或客户端配置不合法
	ErrInvalidInput = errors.New("roles: invalid input")
)

// Hints 角色判定的上下文提示，均为可选
type Hints struct {
	DoctorSpecialty string                 `json:"doctor_specialty,omitempty" yaml:"doctor_specialty"`
	PatientContext  string                 `json:"patient_context,omitempty" yaml:"patient_context"`
	LanguageHint    string                 `json:"language_hint,omitempty" yaml:"language_hint"`
	KnownRoles      map[string]models.Role `json:"known_roles,omitempty" yaml:"-"`
}

// Classification is the raw, advisory output of a classifier.
type Classification struct {
	RoleMapping      map[string]string  `json:"role_mapping"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	Reasoning        map[string]string  `json:"reasoning"`
}

// Classifier infers roles for the speakers of a canonical-labelled segment batch.
type Classifier interface {
	Classify(ctx context.Context, batch []models.Segment, hints Hints) (*Classification, error)
	Name() string
	Source() models.RoleSource
}
