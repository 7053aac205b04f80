// Package simhash detects segments that two adjacent chunks both transcribed
// from the shared overlap window.
package simhash

import (
	"math"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// DefaultMinOverlapRatio 时间重叠需达到较短片段时长的 50%
const DefaultMinOverlapRatio = 0.5

// Detector 判断两个片段是否为同一段语音的重复转写
type Detector struct {
	threshold       int
	minOverlapRatio float64
}

// NewDetector 创建检测器，非正参数使用默认值
func NewDetector(threshold int, minOverlapRatio float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minOverlapRatio <= 0 || minOverlapRatio > 1 {
		minOverlapRatio = DefaultMinOverlapRatio
	}
	return &Detector{threshold: threshold, minOverlapRatio: minOverlapRatio}
}

// OverlapRatio returns the shared time of a and b relative to the shorter one.
func OverlapRatio(a, b models.Segment) float64 {
	shorter := math.Min(a.Duration(), b.Duration())
	if shorter <= 0 {
		return 0
	}
	shared := math.Min(a.EndTime, b.EndTime) - math.Max(a.StartTime, b.StartTime)
	if shared <= 0 {
		return 0
	}
	return shared / shorter
}

// IsDuplicate 时间重叠足够且文本指纹相近即为重复
func (d *Detector) IsDuplicate(a, b models.Segment) bool {
	if OverlapRatio(a, b) < d.minOverlapRatio {
		return false
	}
	return HammingDistance(Fingerprint(a.Text), Fingerprint(b.Text)) <= d.threshold
}

// Filter drops incoming segments that duplicate an accepted one. Accepted
// fingerprints are computed once per call.
func (d *Detector) Filter(accepted, incoming []models.Segment) ([]models.Segment, int) {
	if len(accepted) == 0 || len(incoming) == 0 {
		return incoming, 0
	}

	hashes := make([]uint64, len(accepted))
	for i, seg := range accepted {
		hashes[i] = Fingerprint(seg.Text)
	}

	kept := make([]models.Segment, 0, len(incoming))
	dropped := 0
	for _, seg := range incoming {
		hash := Fingerprint(seg.Text)
		duplicate := false
		for i, prev := range accepted {
			if OverlapRatio(prev, seg) < d.minOverlapRatio {
				continue
			}
			if HammingDistance(hashes[i], hash) <= d.threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			dropped++
			continue
		}
		kept = append(kept, seg)
	}
	return kept, dropped
}
