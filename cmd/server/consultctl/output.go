package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/houzhh15/consultscribe/cmd/server/internal/chunking"
	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// printJSON 缩进输出任意结构
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPlan(w io.Writer, plan chunking.Plan) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tSTART\tEND\tOVERLAP")
	for _, c := range plan.Chunks {
		overlap := "-"
		if c.HasOverlap() {
			overlap = fmt.Sprintf("%.3f-%.3f", c.OverlapStart, c.OverlapEnd)
		}
		fmt.Fprintf(tw, "%d\t%.3f\t%.3f\t%s\n", c.Index, c.StartTime, c.EndTime, overlap)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if plan.Truncated {
		fmt.Fprintf(w, "truncated after %d chunks\n", len(plan.Chunks))
	}
	return nil
}

func printChunkSummary(w io.Writer, res *models.ChunkResult) {
	line := fmt.Sprintf("chunk %d [%.3f-%.3f] status=%s attempts=%d speakers=%v new=%v dropped=%d",
		res.ChunkIndex, res.ChunkStart, res.ChunkEnd, res.Status, res.Attempts,
		res.DetectedSpeakers, res.NewSpeakers, res.DroppedDuplicates)
	if res.Error != "" {
		line += " error=" + res.Error
	}
	fmt.Fprintln(w, line)
}

func printRoles(w io.Writer, roles map[string]models.RoleAssignment) error {
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SPEAKER\tROLE\tCONFIDENCE\tSOURCE\tMANUAL")
	for _, id := range ids {
		a := roles[id]
		manual := ""
		if a.RequiresManualAssignment {
			manual = "required"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n", id, a.Role, a.Confidence, a.Source, manual)
	}
	return tw.Flush()
}
