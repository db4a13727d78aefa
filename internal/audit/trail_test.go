package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStorage struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (m *memStorage) WriteBatch(_ context.Context, events []AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memStorage) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestTrail_RingKeepsLastEvents(t *testing.T) {
	trail := NewTrail(3, nil)
	for i := 0; i < 5; i++ {
		trail.Record(AuditEvent{Reason: fmt.Sprintf("r%d", i)})
	}

	assert.Equal(t, 3, trail.Len())
	recent := trail.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "r2", recent[0].Reason)
	assert.Equal(t, "r4", recent[2].Reason)

	last := trail.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, "r4", last[0].Reason)
}

func TestTrail_FillsIDAndTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	trail := NewTrail(10, nil).WithClock(func() time.Time { return now })

	ev := trail.Record(AuditEvent{Signature: "abc"})
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, now, ev.Timestamp)
}

func TestAgentFS_FlushesOnStop(t *testing.T) {
	store := &memStorage{}
	fs := NewAgentFS(store, zap.NewNop(), 50, time.Hour)
	fs.Start()

	trail := NewTrail(10, fs)
	for i := 0; i < 7; i++ {
		trail.Record(AuditEvent{Decision: "deny"})
	}
	fs.Stop()

	assert.Equal(t, 7, store.count())

	// после остановки события отбрасываются, паники нет
	fs.Log(AuditEvent{ID: "late"})
	fs.Stop()
	assert.Equal(t, 7, store.count())
}

func TestCanonicalParams_Deterministic(t *testing.T) {
	a := CanonicalParams(map[string]string{"b": "2", "a": "1"})
	b := CanonicalParams(map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Equal(t, `{"a":"1","b":"2"}`, a)
	assert.Empty(t, CanonicalParams(nil))
}
