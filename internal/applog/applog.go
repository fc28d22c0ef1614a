// Package applog wires the zap-backed Logger the rest of the pipeline
// depends on through the narrow Logger interface from spec §6.5 — the
// concrete backend is an external collaborator, swappable in tests.
package applog

import "go.uber.org/zap"

// Channel names the five logical channels the pipeline writes to.
type Channel string

const (
	Download Channel = "download"
	Ingest   Channel = "ingest"
	Security Channel = "security"
	Cache    Channel = "cache"
	DB       Channel = "db"
)

// Logger is the narrow interface the pipeline depends on (spec §6.5).
// Components never hold a concrete *zap.Logger directly.
type Logger interface {
	Info(channel Channel, msg string, fields ...zap.Field)
	Warn(channel Channel, msg string, fields ...zap.Field)
	Error(channel Channel, msg string, fields ...zap.Field)
}

// ZapLogger implements Logger over a single *zap.Logger, fanning out to
// named children per channel so log lines carry a "channel" field.
type ZapLogger struct {
	base *zap.Logger
}

// New builds a production zap logger (JSON encoding, info level).
func New() (*ZapLogger, error) {
	base, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{base: base}, nil
}

// NewNop returns a logger that discards everything; useful in tests.
func NewNop() *ZapLogger {
	return &ZapLogger{base: zap.NewNop()}
}

func (l *ZapLogger) Info(channel Channel, msg string, fields ...zap.Field) {
	l.base.Named(string(channel)).Info(msg, fields...)
}

func (l *ZapLogger) Warn(channel Channel, msg string, fields ...zap.Field) {
	l.base.Named(string(channel)).Warn(msg, fields...)
}

func (l *ZapLogger) Error(channel Channel, msg string, fields ...zap.Field) {
	l.base.Named(string(channel)).Error(msg, fields...)
}

// Sync flushes any buffered log entries; call on shutdown.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}
