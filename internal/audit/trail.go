package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRingSize: сколько последних событий держим в памяти для быстрого просмотра
const DefaultRingSize = 1000

// Trail — append-only журнал: кольцевой буфер в памяти плюс долговременный Sink.
type Trail struct {
	mu     sync.RWMutex
	events []AuditEvent
	next   int
	full   bool
	sink   Sink
	clock  func() time.Time
}

// NewTrail создает журнал. sink может быть nil, тогда события живут только в памяти.
func NewTrail(size int, sink Sink) *Trail {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Trail{
		events: make([]AuditEvent, size),
		sink:   sink,
		clock:  time.Now,
	}
}

// WithClock подменяет часы для детерминированных тестов.
func (t *Trail) WithClock(clock func() time.Time) *Trail {
	t.clock = clock
	return t
}

// Record проставляет ID и время, кладет событие в кольцо и отправляет в Sink.
func (t *Trail) Record(event AuditEvent) AuditEvent {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.clock()
	}

	t.mu.Lock()
	t.events[t.next] = event
	t.next = (t.next + 1) % len(t.events)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()

	if t.sink != nil {
		t.sink.Log(event)
	}
	return event
}

// Recent возвращает до limit последних событий, от старых к новым.
func (t *Trail) Recent(limit int) []AuditEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	size := t.next
	if t.full {
		size = len(t.events)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]AuditEvent, 0, limit)
	start := t.next - limit
	if start < 0 {
		start += len(t.events)
	}
	for i := 0; i < limit; i++ {
		out = append(out, t.events[(start+i)%len(t.events)])
	}
	return out
}

// Len: сколько событий сейчас в кольце
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.full {
		return len(t.events)
	}
	return t.next
}
