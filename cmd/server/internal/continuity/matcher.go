package continuity

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// DefaultLowConfidenceThreshold 低于该置信度的配对会被标记
const DefaultLowConfidenceThreshold = 0.5

// Weights 相似度各分量的权重
type Weights struct {
	Duration  float64 `json:"duration" yaml:"duration"`
	Words     float64 `json:"words" yaml:"words"`
	AvgLength float64 `json:"avg_length" yaml:"avg_length"`
}

// DefaultWeights returns 0.5 / 0.3 / 0.2.
func DefaultWeights() Weights {
	return Weights{Duration: 0.5, Words: 0.3, AvgLength: 0.2}
}

func (w Weights) sum() float64 {
	return w.Duration + w.Words + w.AvgLength
}

// Matcher pairs current-chunk speakers with previous-chunk canonical speakers by
// rank of speaking time inside the overlap window.
type Matcher struct {
	weights   Weights
	threshold float64
}

// NewMatcher 创建匹配器，零值权重使用默认权重
func NewMatcher(weights Weights, lowConfidenceThreshold float64) *Matcher {
	if weights.sum() <= 0 {
		weights = DefaultWeights()
	}
	return &Matcher{weights: weights, threshold: lowConfidenceThreshold}
}

// Threshold returns the low-confidence threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match builds the continuity mapping for curr against prev. When either side is
// empty the mapping is empty. Current speakers left without a partner are present
// with an empty MatchedTo and zero confidence.
func (m *Matcher) Match(prev, curr models.SpeakerStats) models.ContinuityMapping {
	mapping := make(models.ContinuityMapping, len(curr))
	if len(prev) == 0 || len(curr) == 0 {
		return mapping
	}

	prevRank := rank(prev)
	currRank := rank(curr)

	for i, cid := range currRank {
		if i >= len(prevRank) {
			mapping[cid] = models.ContinuityMatch{}
			continue
		}
		pid := prevRank[i]
		conf := Similarity(prev[pid], curr[cid], m.weights)
		mapping[cid] = models.ContinuityMatch{
			MatchedTo:     pid,
			Confidence:    conf,
			LowConfidence: conf < m.threshold,
		}
	}
	return mapping
}

// Similarity is the weighted relative closeness of duration, word count and average
// segment length, normalised by the weight sum into [0, 1].
func Similarity(a, b models.SpeakerStat, w Weights) float64 {
	total := w.sum()
	if total <= 0 {
		return 0
	}
	score := w.Duration*ratioSim(a.TotalDuration, b.TotalDuration) +
		w.Words*ratioSim(float64(a.WordCount), float64(b.WordCount)) +
		w.AvgLength*ratioSim(a.AvgSegmentLength, b.AvgSegmentLength)
	return clamp01(score / total)
}

func ratioSim(a, b float64) float64 {
	hi := math.Max(a, b)
	if hi <= 0 {
		return 0
	}
	return 1 - math.Abs(a-b)/hi
}

// rank orders speaker ids by total duration descending, ties by id ascending
// (speaker_2 before speaker_10).
func rank(stats models.SpeakerStats) []string {
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		di, dj := stats[ids[i]].TotalDuration, stats[ids[j]].TotalDuration
		if di != dj {
			return di > dj
		}
		return idLess(ids[i], ids[j])
	})
	return ids
}

// idLess 比较 "<前缀><数字>" 形式的 id 时按数字大小，其余按字典序
func idLess(a, b string) bool {
	pa, na, okA := splitNumericSuffix(a)
	pb, nb, okB := splitNumericSuffix(b)
	if okA && okB && pa == pb && na != nb {
		return na < nb
	}
	return a < b
}

func splitNumericSuffix(id string) (string, int, bool) {
	cut := strings.LastIndexFunc(id, func(r rune) bool { return r < '0' || r > '9' }) + 1
	if cut == len(id) {
		return id, 0, false
	}
	n, err := strconv.Atoi(id[cut:])
	if err != nil {
		return id, 0, false
	}
	return id[:cut], n, true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
