// Package continuity links chunk-local speaker labels across adjacent chunks using
// statistics of the audio window both chunks cover.
package continuity

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// SampleTextLimit is the number of characters kept in SpeakerStat.SampleText.
const SampleTextLimit = 100

// ComputeStats aggregates per-speaker statistics for the segments intersecting
// [from, to). Only the part of each segment inside the window is counted.
// The input slice is not modified.
func ComputeStats(segments []models.Segment, from, to float64) models.SpeakerStats {
	stats := make(models.SpeakerStats)
	if !(to > from) {
		return stats
	}

	inWindow := make([]models.Segment, 0, len(segments))
	for _, seg := range segments {
		if !seg.Valid() {
			continue
		}
		if seg.StartTime < to && seg.EndTime > from {
			inWindow = append(inWindow, seg)
		}
	}
	// sample_text 取最早的片段
	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].StartTime < inWindow[j].StartTime
	})

	for _, seg := range inWindow {
		clipped := math.Min(seg.EndTime, to) - math.Max(seg.StartTime, from)
		st := stats[seg.SpeakerID]
		st.TotalDuration += clipped
		st.WordCount += len(strings.Fields(seg.Text))
		st.SegmentCount++
		if st.SegmentCount == 1 {
			st.SampleText = truncateChars(seg.Text, SampleTextLimit)
		}
		stats[seg.SpeakerID] = st
	}

	for id, st := range stats {
		st.AvgSegmentLength = st.TotalDuration / float64(max(st.SegmentCount, 1))
		stats[id] = st
	}
	return stats
}

func truncateChars(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
