package history

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/stackctl/internal/logger"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error { return nil }

func TestRecorderStampsEvents(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, PhaseShutdown, logger.Discard())
	_, err := uuid.Parse(r.RunID())
	require.NoError(t, err)

	r.Record(context.Background(), "backend", "stopped", 4242, "sigterm", nil)
	r.Record(context.Background(), "infra", "failed", 0, "", errors.New("compose down: exit status 1"))

	require.Len(t, sink.events, 2)
	first := sink.events[0]
	assert.Equal(t, r.RunID(), first.RunID)
	assert.Equal(t, PhaseShutdown, first.Phase)
	assert.Equal(t, "backend", first.Component)
	assert.Equal(t, 4242, first.PID)
	assert.Empty(t, first.Error)
	assert.False(t, first.OccurredAt.IsZero())
	assert.Equal(t, "compose down: exit status 1", sink.events[1].Error)
}

func TestRecorderSwallowsSinkErrors(t *testing.T) {
	r := NewRecorder(&memSink{err: errors.New("db down")}, PhaseLaunch, logger.Discard())
	assert.NotPanics(t, func() {
		r.Record(context.Background(), "images", "pulled", 0, "", nil)
	})
}

func TestRecorderNilSink(t *testing.T) {
	r := NewRecorder(nil, PhaseLaunch, nil)
	r.Record(context.Background(), "backend", "started", 1, "", nil)
	assert.NotEqual(t, NewRecorder(nil, PhaseLaunch, nil).RunID(), r.RunID())
}
