package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "consultctl",
		Short:         "consultctl - 问诊转写流水线命令行工具",
		Long:          "在本地规划切片，或用录制好的分离结果回放完整会话并输出转写与角色。",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "warn", "日志级别 debug/info/warn/error")

	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newReplayCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
