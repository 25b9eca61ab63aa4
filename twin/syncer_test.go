package twin

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/udp-bridge/bus"
	"github.com/n0needt0/goodies/udp-bridge/domain"
)

func TestSyncerAppliesStoredDesiredAtStartup(t *testing.T) {
	r, svc, emitter := newTestReconciler(t)
	mem := bus.NewMemoryBus()
	mem.SetDesired([]byte(`{"listeningPort":11010,"minimumSeverity":1}`))

	s := NewSyncer(r, mem, emitter)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 11010, svc.Runtime.ListeningPort())
	assert.Equal(t, domain.SeverityInformation, svc.Runtime.MinimumSeverity())

	reported := mem.Reported()
	assert.EqualValues(t, 11010, reported[KeyListeningPort])
	assert.EqualValues(t, 1, reported[KeyMinimumSeverity])
}

func TestSyncerStartsWithoutDesired(t *testing.T) {
	r, svc, _ := newTestReconciler(t)
	mem := bus.NewMemoryBus()

	s := NewSyncer(r, mem, &recordingEmitter{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, svc.Runtime.DefaultListeningPort(), svc.Runtime.ListeningPort())
	assert.Empty(t, mem.Reported())
}

func TestSyncerAppliesChanges(t *testing.T) {
	r, svc, emitter := newTestReconciler(t)
	mem := bus.NewMemoryBus()

	s := NewSyncer(r, mem, emitter)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	mem.SetDesired([]byte(`{"minimumSeverity":4}`))

	require.Eventually(t, func() bool {
		return svc.Runtime.MinimumSeverity() == domain.SeverityCritical
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := mem.Reported()[KeyMinimumSeverity]
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.NotContains(t, mem.Reported(), KeyListeningPort, "only applied keys are acknowledged")
}

func TestSyncerAppliesChangeMadeRightAfterStart(t *testing.T) {
	r, svc, emitter := newTestReconciler(t)
	mem := bus.NewMemoryBus()

	s := NewSyncer(r, mem, emitter)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// no waiting for the watch goroutine: Start has already registered it
	mem.SetDesired([]byte(`{"minimumSeverity":"critical","listeningPort":11030}`))

	require.Eventually(t, func() bool {
		return svc.Runtime.MinimumSeverity() == domain.SeverityCritical
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(mem.Reported()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 11030, svc.Runtime.ListeningPort())
	assert.Empty(t, emitter.Events())
}

func TestSyncerStopEndsWatch(t *testing.T) {
	r, _, emitter := newTestReconciler(t)
	mem := bus.NewMemoryBus()

	s := NewSyncer(r, mem, emitter)
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, mem.Watchers())

	s.Stop()
	require.Eventually(t, func() bool {
		return mem.Watchers() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestSyncerReportFailure(t *testing.T) {
	r, svc, emitter := newTestReconciler(t)
	mem := bus.NewMemoryBus()
	mem.FailReport(errors.New("kv unavailable"))
	mem.SetDesired([]byte(`{"listeningPort":11020}`))

	s := NewSyncer(r, mem, emitter)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 11020, svc.Runtime.ListeningPort(), "no rollback when the acknowledgment fails")

	events := emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.CodeAcknowledgeFailed, events[0].Code)
	assert.Equal(t, domain.SeverityError, events[0].Severity)
}

func TestSyncerMalformedDesiredIsNotReported(t *testing.T) {
	r, _, emitter := newTestReconciler(t)
	mem := bus.NewMemoryBus()
	mem.SetDesired([]byte(`not json`))

	s := NewSyncer(r, mem, emitter)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Empty(t, mem.Reported())
	events := emitter.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.CodeMalformedConfigData, events[0].Code)
}
