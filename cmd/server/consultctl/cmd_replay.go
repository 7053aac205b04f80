package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator"
	"github.com/houzhh15/consultscribe/cmd/server/internal/orchestrator/diarization"
	"github.com/houzhh15/consultscribe/cmd/server/internal/roles"
	"github.com/houzhh15/consultscribe/cmd/server/internal/transcript"
	"github.com/houzhh15/consultscribe/pkg/logger"
)

// replayFixture 录制好的会话：每个切片的分离结果（切片内相对时间、本地说话人标签）
type replayFixture struct {
	SessionID      string         `yaml:"session_id"`
	ChunkSeconds   float64        `yaml:"chunk_seconds"`
	OverlapSeconds float64        `yaml:"overlap_seconds"`
	Hints          roles.Hints    `yaml:"hints"`
	Chunks         []fixtureChunk `yaml:"chunks"`
}

// fixtureChunk StartTime 为空时使用计划位置，EndTime 为 0 时使用完整切片长度
type fixtureChunk struct {
	Index                    int      `yaml:"index"`
	StartTime                *float64 `yaml:"start_time"`
	EndTime                  float64  `yaml:"end_time"`
	diarization.FixtureChunk `yaml:",inline"`
}

func loadFixture(path string) (*replayFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx replayFixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(fx.Chunks) == 0 {
		return nil, fmt.Errorf("fixture %s has no chunks", path)
	}
	if fx.SessionID == "" {
		fx.SessionID = "replay"
	}
	return &fx, nil
}

func newReplayCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "replay",
		Short: "用 YAML 录制的分离结果在本地回放完整会话",
		Example: "  consultctl replay --fixture session.yaml\n" +
			"  consultctl replay --fixture session.yaml --format srt --strategy none",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("fixture")
			formatName, _ := cmd.Flags().GetString("format")
			strategy, _ := cmd.Flags().GetString("strategy")
			level, _ := cmd.Flags().GetString("log-level")

			format, err := transcript.ParseFormat(formatName)
			if err != nil {
				return err
			}
			fx, err := loadFixture(path)
			if err != nil {
				return err
			}
			l, err := logger.New(logger.Config{Level: level, Output: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			resolver, err := replayResolver(cmd, strategy, l)
			if err != nil {
				return err
			}
			return runReplay(cmd.Context(), fx, resolver, format, cmd.OutOrStdout(), cmd.ErrOrStderr(), l)
		},
	}
	c.Flags().String("fixture", "", "会话录制文件（YAML，必选）")
	c.Flags().String("format", "text", "转写输出格式 text|json|srt|vtt")
	c.Flags().String("strategy", "heuristic", "角色识别策略 heuristic|remote|none")
	c.Flags().String("role-url", "", "remote 策略的 OpenAI 兼容服务地址")
	c.Flags().String("role-model", "", "remote 策略使用的模型")
	_ = c.MarkFlagRequired("fixture")
	return c
}

func replayResolver(cmd *cobra.Command, strategy string, l *slog.Logger) (*roles.Resolver, error) {
	cfg := roles.ResolverConfig{Timeout: 30 * time.Second}
	switch strategy {
	case "none":
		return nil, nil
	case "heuristic":
		return roles.NewResolver(roles.NewCueClassifier(nil, nil), cfg, l), nil
	case "remote":
		url, _ := cmd.Flags().GetString("role-url")
		model, _ := cmd.Flags().GetString("role-model")
		c, err := roles.NewLLMClassifier(roles.LLMOptions{BaseURL: url, Model: model, Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		return roles.NewResolver(c, cfg, l), nil
	default:
		return nil, fmt.Errorf("unsupported strategy %q (heuristic|remote|none)", strategy)
	}
}

// runReplay 按顺序提交全部切片，关闭会话后把转写写到 out，切片摘要和角色表写到 info
func runReplay(ctx context.Context, fx *replayFixture, resolver *roles.Resolver, format transcript.Format, out, info io.Writer, l *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := orchestrator.DefaultConfig()
	if fx.ChunkSeconds > 0 {
		cfg.ChunkDuration = time.Duration(fx.ChunkSeconds * float64(time.Second))
	}
	if fx.OverlapSeconds > 0 {
		cfg.OverlapDuration = time.Duration(fx.OverlapSeconds * float64(time.Second))
	}
	cfg.RetryBackoff = 10 * time.Millisecond

	recorded := make(map[int]diarization.FixtureChunk, len(fx.Chunks))
	for _, ch := range fx.Chunks {
		recorded[ch.Index] = ch.FixtureChunk
	}

	o, err := orchestrator.New(orchestrator.Options{
		SessionID:    fx.SessionID,
		Config:       cfg,
		Diarizers:    orchestrator.StaticDiarizer{Diarizer: diarization.NewFixtureDiarizer(recorded)},
		Resolver:     resolver,
		Hints:        fx.Hints,
		LanguageHint: fx.Hints.LanguageHint,
		Logger:       l,
	})
	if err != nil {
		return err
	}
	defer o.Cancel()

	for _, ch := range fx.Chunks {
		in := orchestrator.ChunkInput{Index: ch.Index, StartTime: -1, EndTime: ch.EndTime}
		if ch.StartTime != nil {
			in.StartTime = *ch.StartTime
		}
		res, err := o.Submit(ctx, in)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", ch.Index, err)
		}
		printChunkSummary(info, res)
	}
	if err := o.Close(ctx); err != nil {
		return err
	}

	doc := transcript.FromRegistry(o.Registry())
	if err := transcript.Render(out, format, doc); err != nil {
		return err
	}
	if format == transcript.FormatJSON {
		return nil
	}
	return printRoles(info, doc.Roles)
}
