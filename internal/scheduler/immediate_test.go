package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpulse/pulse/internal/clock"
)

type immediateFixture struct {
	scorer    *fakeScorer
	snapshots *fakeSnapshots
	rollup    *fakeRollup
	sink      *fakeSink
	dirty     *DirtyTracker
	loop      *ImmediateLoop
}

func newImmediateFixture() *immediateFixture {
	f := &immediateFixture{
		scorer:    newFakeScorer(),
		snapshots: &fakeSnapshots{},
		rollup:    &fakeRollup{},
		sink:      &fakeSink{},
		dirty:     NewDirtyTracker(),
	}
	f.loop = NewImmediateLoop(DefaultImmediateConfig(), f.dirty, f.scorer, f.snapshots, f.rollup, f.sink, clock.NewFixed(schedNow), nil)
	return f
}

func TestImmediateLoop_DrainOnce_DispatchesByEntityType(t *testing.T) {
	f := newImmediateFixture()
	taskID := uuid.New()
	projectID := uuid.New()
	userID := uuid.New()

	f.dirty.MarkChanged(EntityTask, taskID)
	f.dirty.MarkChanged(EntityProject, projectID)
	f.dirty.MarkChanged(EntityUser, userID)

	f.loop.DrainOnce(context.Background())

	assert.Equal(t, 1, f.scorer.taskCalls[taskID])
	assert.Equal(t, []uuid.UUID{projectID}, f.rollup.projects)
	assert.Equal(t, []uuid.UUID{userID}, f.snapshots.refreshes)
	assert.Equal(t, 0, f.dirty.Len())

	stats := f.loop.Stats()
	assert.Equal(t, uint64(3), stats.ProcessedCount)
	assert.Equal(t, uint64(0), stats.FailedCount)
	require.NotNil(t, stats.LastDrainAt)
	assert.Equal(t, schedNow, *stats.LastDrainAt)
}

func TestImmediateLoop_DrainOnce_EmptySetIsNoOp(t *testing.T) {
	f := newImmediateFixture()

	f.loop.DrainOnce(context.Background())

	stats := f.loop.Stats()
	assert.Equal(t, uint64(0), stats.ProcessedCount)
	assert.Nil(t, stats.LastDrainAt)
}

func TestImmediateLoop_DrainOnce_NotifiesSignificantTaskChanges(t *testing.T) {
	f := newImmediateFixture()
	assigneeID := uuid.New()
	taskID := uuid.New()
	f.scorer.updates[taskID] = significantUpdate(taskID, &assigneeID)
	f.dirty.MarkChanged(EntityTask, taskID)

	f.loop.DrainOnce(context.Background())

	require.Len(t, f.sink.sent, 1)
	assert.Equal(t, taskID, f.sink.sent[0].ReferenceID)
}

func TestImmediateLoop_DrainOnce_RecordsFailures(t *testing.T) {
	f := newImmediateFixture()
	failing := uuid.New()
	healthy := uuid.New()
	f.scorer.failures[failing] = []error{errors.New("scorer down")}
	f.dirty.MarkChanged(EntityTask, failing)
	f.dirty.MarkChanged(EntityTask, healthy)

	f.loop.DrainOnce(context.Background())

	stats := f.loop.Stats()
	assert.Equal(t, uint64(1), stats.ProcessedCount)
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Equal(t, "scorer down", stats.LastError)
}

func TestImmediateLoop_StartStop(t *testing.T) {
	f := newImmediateFixture()
	ctx := context.Background()

	assert.False(t, f.loop.IsRunning())
	f.loop.Start(ctx)
	assert.True(t, f.loop.IsRunning())
	f.loop.Start(ctx) // no-op

	f.loop.Stop()
	assert.False(t, f.loop.IsRunning())
	f.loop.Stop() // no-op
}
