package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/houzhh15/consultscribe/cmd/server/internal/chunking"
)

func newPlanCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "plan",
		Short: "按总时长、切片长度和重叠计算切片计划",
		Example: "  consultctl plan --total 95 --chunk 30 --overlap 5\n" +
			"  consultctl plan --total 7200 --chunk 30 --overlap 5 --max-chunks 200 -o json",
		RunE: func(cmd *cobra.Command, args []string) error {
			total, _ := cmd.Flags().GetFloat64("total")
			opts := chunking.Options{}
			opts.ChunkDuration, _ = cmd.Flags().GetFloat64("chunk")
			opts.OverlapDuration, _ = cmd.Flags().GetFloat64("overlap")
			opts.MaxChunks, _ = cmd.Flags().GetInt("max-chunks")

			plan, err := chunking.PlanChunks(total, opts)
			if err != nil {
				return fmt.Errorf("plan: %w", err)
			}
			switch output, _ := cmd.Flags().GetString("output"); output {
			case "json":
				return printJSON(cmd.OutOrStdout(), plan)
			case "text", "":
				return printPlan(cmd.OutOrStdout(), plan)
			default:
				return fmt.Errorf("unsupported output %q (text|json)", output)
			}
		},
	}
	c.Flags().Float64("total", 0, "会话总时长（秒，必选）")
	c.Flags().Float64("chunk", 30, "切片时长（秒）")
	c.Flags().Float64("overlap", 5, "相邻切片重叠时长（秒）")
	c.Flags().Int("max-chunks", chunking.DefaultMaxChunks, "最大切片数")
	c.Flags().StringP("output", "o", "text", "输出格式 text|json")
	_ = c.MarkFlagRequired("total")
	return c
}
