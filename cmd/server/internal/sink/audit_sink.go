package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/houzhh15/consultscribe/cmd/server/internal/models"
)

// AuditOptions 日志轮转参数
type AuditOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AuditSink writes every ChunkResult as one JSON line into a rotating file.
type AuditSink struct {
	mu     sync.Mutex
	logger *log.Logger
	closer io.Closer
}

// NewAuditSink creates an AuditSink with automatic log rotation.
func NewAuditSink(opts AuditOptions) *AuditSink {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}
	writer := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	return &AuditSink{
		logger: log.New(writer, "", 0), // 不加前缀和时间戳，记录自带 processed_at
		closer: writer,
	}
}

// Emit 序列化结果并写入一行
func (a *AuditSink) Emit(_ context.Context, result models.ChunkResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal chunk result: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logger.Output(2, string(data))
}

func (a *AuditSink) Name() string { return "audit" }

// Close closes the underlying rotating file.
func (a *AuditSink) Close() error {
	return a.closer.Close()
}
