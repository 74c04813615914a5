// Package audit captures one append-only record per completion attempt.
// Writes are fire-and-forget: LogRequest never blocks the response path.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Laisky/zap"

	"github.com/modelmux/modelmux/common/logger"
	"github.com/modelmux/modelmux/model"
)

// Entry is the audit record emitted by the adapter pipeline.
type Entry struct {
	RequestId string
	Provider  string
	Model     string
	UserId    string
	SessionId string
	Kind      string

	PromptHash     string
	PromptLength   int
	ResponseLength int
	TokensUsed     int
	DurationMs     int64
	EstimatedCost  float64

	Success      bool
	ErrorCode    string
	ErrorMessage string

	RequestMetadata  map[string]any
	ResponseMetadata map[string]any
}

// Logger is the audit sink contract. Implementations must tolerate
// arbitrary storage latency without blocking the caller.
type Logger interface {
	LogRequest(entry *Entry)
	Close()
}

// NullLogger drops every entry; used when audit logging is disabled.
type NullLogger struct{}

// LogRequest implements Logger.
func (NullLogger) LogRequest(entry *Entry) {}

// Close implements Logger.
func (NullLogger) Close() {}

// SqlLogger buffers entries and persists them on a background goroutine.
type SqlLogger struct {
	queue chan *Entry
	done  chan struct{}
}

// NewSqlLogger starts the background writer. model.InitDB must have run.
func NewSqlLogger() *SqlLogger {
	l := &SqlLogger{
		queue: make(chan *Entry, 1024),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// LogRequest implements Logger. When the buffer is full the entry is
// dropped rather than stalling the response path.
func (l *SqlLogger) LogRequest(entry *Entry) {
	select {
	case l.queue <- entry:
	default:
		logger.Logger.Warn("audit queue full, dropping entry",
			zap.String("request_id", entry.RequestId),
			zap.String("provider", entry.Provider))
	}
}

// Close drains the queue and stops the writer.
func (l *SqlLogger) Close() {
	close(l.queue)
	<-l.done
}

func (l *SqlLogger) run() {
	defer close(l.done)
	for entry := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := model.InsertAuditLog(ctx, toRow(entry)); err != nil {
			logger.Logger.Error("audit write failed",
				zap.String("request_id", entry.RequestId),
				zap.Error(err))
		}
		cancel()
	}
}

func toRow(entry *Entry) *model.AuditLogEntry {
	return &model.AuditLogEntry{
		RequestId:        entry.RequestId,
		Provider:         entry.Provider,
		Model:            entry.Model,
		UserId:           entry.UserId,
		SessionId:        entry.SessionId,
		Kind:             entry.Kind,
		PromptHash:       entry.PromptHash,
		PromptLength:     entry.PromptLength,
		ResponseLength:   entry.ResponseLength,
		TokensUsed:       entry.TokensUsed,
		DurationMs:       entry.DurationMs,
		EstimatedCost:    entry.EstimatedCost,
		Success:          entry.Success,
		ErrorCode:        entry.ErrorCode,
		ErrorMessage:     entry.ErrorMessage,
		RequestMetadata:  marshalMeta(entry.RequestMetadata),
		ResponseMetadata: marshalMeta(entry.ResponseMetadata),
	}
}

func marshalMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(data)
}
