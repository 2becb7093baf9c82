package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one security relevant transition of the identity provider:
// a sign-in step, a token grant, or an account change.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	AuthID    string            `json:"auth_id,omitempty"`
	ClientID  string            `json:"client_id,omitempty"`
	Org       string            `json:"org,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events. Implementations are called from the
// dispatcher goroutine only, never concurrently with themselves.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a consumer that reads Events().
type ChannelSink struct {
	out chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{out: make(chan Event, max(buffer, 1))}
}

// Emit waits for room in the channel or for ctx to end.
func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case <-ctx.Done():
	case s.out <- event:
	}
}

func (s *ChannelSink) Events() <-chan Event { return s.out }

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	_ = s.enc.Encode(event)
	s.mu.Unlock()
}

// LogSink writes events as structured zap entries on the audit logger.
// Failed transitions log at warn level.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event Event) {
	fields := make([]zap.Field, 0, 7+len(event.Metadata))
	fields = append(fields,
		zap.Time("at", event.Timestamp),
		zap.Bool("success", event.Success),
	)
	for key, value := range map[string]string{
		"auth_id":   event.AuthID,
		"client_id": event.ClientID,
		"org":       event.Org,
		"ip":        event.IP,
		"error":     event.Error,
	} {
		if value != "" {
			fields = append(fields, zap.String(key, value))
		}
	}
	for key, value := range event.Metadata {
		fields = append(fields, zap.String("meta."+key, value))
	}
	if event.Success {
		s.logger.Info(event.EventType, fields...)
		return
	}
	s.logger.Warn(event.EventType, fields...)
}

// MultiSink delivers every event to each sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}
