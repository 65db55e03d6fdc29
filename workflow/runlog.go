package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// runLog 累积单次运行的日志，随每个步骤快照一起持久化
type runLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (l *runLog) add(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *runLog) snapshot() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// captureCore 把节点日志同时写入运行日志
type captureCore struct {
	zapcore.LevelEnabler
	sink   *runLog
	stepID string
	fields []zapcore.Field
}

func (c *captureCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *captureCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *captureCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	entry := LogEntry{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		StepID:  c.stepID,
		Message: ent.Message,
	}
	if len(enc.Fields) > 0 {
		entry.Fields = enc.Fields
	}
	c.sink.add(entry)
	return nil
}

func (c *captureCore) Sync() error { return nil }

// stepLogger 返回同时写入 base 与运行日志的节点 logger
func stepLogger(base *zap.Logger, sink *runLog, stepID string) *zap.Logger {
	capture := &captureCore{LevelEnabler: zapcore.DebugLevel, sink: sink, stepID: stepID}
	core := zapcore.NewTee(base.Core(), capture)
	return zap.New(core).With(zap.String("step_id", stepID))
}

func (l *runLog) record(level zapcore.Level, stepID, msg string, fields map[string]any) {
	l.add(LogEntry{Time: time.Now(), Level: level.String(), StepID: stepID, Message: msg, Fields: fields})
}
