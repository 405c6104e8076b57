package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/edugate/edugate/internal/consts"
	"github.com/edugate/edugate/internal/metrics"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventBypass          EventType = "bypass"
	EventViolation       EventType = "violation"
	EventDegradation     EventType = "degradation"
	EventWhitelistChange EventType = "whitelist-change"
	EventUnblock         EventType = "unblock"
)

// Event is one structured audit record.
type Event struct {
	Type       EventType
	Reason     string
	Identifier string
	Profile    string
	Time       time.Time
	Fields     logrus.Fields
}

// Sink accepts audit events without ever blocking the request path. Events
// are handed to a single writer goroutine over a buffered channel; when the
// buffer is full the event is dropped and counted rather than queued.
type Sink struct {
	log     logrus.FieldLogger
	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64
	once    sync.Once
}

func NewSink(log logrus.FieldLogger, buffer int) *Sink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &Sink{
		log:  log.WithField("component", consts.EventSourceComponent),
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit records an event, fire-and-forget.
func (s *Sink) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
		metrics.AuditDroppedTotal.Inc()
	}
}

// Dropped returns how many events were discarded due to a full buffer.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close drains buffered events and stops the writer.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
	})
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.ch {
		fields := logrus.Fields{
			"audit":      true,
			"event_type": string(e.Type),
			"time":       e.Time.UTC().Format(time.RFC3339Nano),
		}
		if e.Reason != "" {
			fields["reason"] = e.Reason
		}
		if e.Identifier != "" {
			fields["identifier"] = e.Identifier
		}
		if e.Profile != "" {
			fields["profile"] = e.Profile
		}
		for k, v := range e.Fields {
			fields[k] = v
		}
		s.log.WithFields(fields).Info("audit event")
	}
}
