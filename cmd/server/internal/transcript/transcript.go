// Package transcript renders a session transcript as text, json, srt or vtt.
package transcript

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
	"github.com/houzhh15/consultscribe/cmd/server/internal/registry"
)

// Format 输出格式
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// ParseFormat accepts text, json, srt and vtt; empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "srt":
		return FormatSRT, nil
	case "vtt", "webvtt":
		return FormatVTT, nil
	default:
		return "", fmt.Errorf("invalid transcript format: %q", s)
	}
}

// ContentType returns the HTTP content type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Document is the complete, read-only transcript of a session.
type Document struct {
	SessionID string                           `json:"session_id"`
	Final     bool                             `json:"final"`
	Speakers  []models.CanonicalSpeaker        `json:"speakers"`
	Roles     map[string]models.RoleAssignment `json:"roles"`
	Segments  []models.TranscriptSegment       `json:"segments"`
}

// FromRegistry snapshots the registry. Final is true once the session is closed.
func FromRegistry(reg *registry.Registry) Document {
	doc := Document{
		SessionID: reg.SessionID(),
		Final:     reg.Frozen(),
		Speakers:  reg.Speakers(),
		Roles:     reg.Roles(),
		Segments:  reg.Transcript(),
	}
	if doc.Speakers == nil {
		doc.Speakers = []models.CanonicalSpeaker{}
	}
	if doc.Segments == nil {
		doc.Segments = []models.TranscriptSegment{}
	}
	return doc
}

// Render writes doc to w in format f.
func Render(w io.Writer, f Format, doc Document) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatSRT:
		for i, seg := range doc.Segments {
			if _, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n", i+1,
				formatTimestampSrt(seg.StartTime), formatTimestampSrt(seg.EndTime), labelled(seg)); err != nil {
				return err
			}
		}
		return nil
	case FormatVTT:
		if _, err := io.WriteString(w, "WEBVTT\n\n"); err != nil {
			return err
		}
		for _, seg := range doc.Segments {
			// WebVTT voice span 标注说话人
			if _, err := fmt.Fprintf(w, "%s --> %s\n<v %s>%s\n\n",
				formatTimestamp(seg.StartTime), formatTimestamp(seg.EndTime), speakerLabel(seg), seg.Text); err != nil {
				return err
			}
		}
		return nil
	case FormatText:
		for _, seg := range doc.Segments {
			if _, err := fmt.Fprintf(w, "[%s --> %s] [%s] %s\n",
				formatTimestamp(seg.StartTime), formatTimestamp(seg.EndTime), speakerLabel(seg), seg.Text); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("invalid transcript format: %q", f)
	}
}

func speakerLabel(seg models.TranscriptSegment) string {
	if seg.Role == "" || seg.Role == models.RoleUnknown {
		return seg.SpeakerID
	}
	return fmt.Sprintf("%s %s", seg.SpeakerID, seg.Role)
}

func labelled(seg models.TranscriptSegment) string {
	return fmt.Sprintf("[%s] %s", speakerLabel(seg), seg.Text)
}

func toDuration(seconds float64) time.Duration {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	return time.Duration(math.Round(seconds * float64(time.Second/time.Millisecond))) * time.Millisecond
}

// formatTimestamp formats as HH:MM:SS.mmm
func formatTimestamp(seconds float64) string {
	h, m, s, ms := split(toDuration(seconds))
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// formatTimestampSrt formats as HH:MM:SS,mmm (SRT uses comma)
func formatTimestampSrt(seconds float64) string {
	h, m, s, ms := split(toDuration(seconds))
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func split(d time.Duration) (h, m, s, ms time.Duration) {
	h = d / time.Hour
	d -= h * time.Hour
	m = d / time.Minute
	d -= m * time.Minute
	s = d / time.Second
	d -= s * time.Second
	ms = d / time.Millisecond
	return
}
