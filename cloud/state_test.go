package cloud

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTracker_Lifecycle(t *testing.T) {
	tr := NewBuildTracker(nil)
	var events []BuildRecord
	tr.Subscribe(func(r BuildRecord) { events = append(events, r) })

	rec := tr.Start("scan", "/data/scan.las", "/out/scan")
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StateIdle, rec.State)

	tr.Transition(rec.ID, StateDestinationCleared)
	tr.Transition(rec.ID, StateBuildInvoked)

	colored := ColoredCloud{Points: []r3.Vector{{}}, Colors: []Color3{MidpointColor}}
	res := ConvertResult{
		BuildResult: BuildResult{State: StateSucceeded},
		PointCount:  1,
		Centroid:    r3.Vector{X: 1, Y: 2, Z: 3},
		Colored:     colored,
	}
	final := tr.Finish(rec.ID, res, nil)

	assert.Equal(t, StateSucceeded, final.State)
	require.NotNil(t, final.FinishedAt)
	require.NotNil(t, final.Centroid)
	assert.Equal(t, r3.Vector{X: 1, Y: 2, Z: 3}, *final.Centroid)

	states := make([]State, len(events))
	for i, e := range events {
		states[i] = e.State
	}
	assert.Equal(t, []State{StateIdle, StateDestinationCleared, StateBuildInvoked, StateSucceeded}, states)

	got, ok := tr.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, final, got)

	cloud, ok := tr.LatestCloud()
	require.True(t, ok)
	assert.Equal(t, colored, cloud)
}

func TestBuildTracker_FinishWithError(t *testing.T) {
	tr := NewBuildTracker(nil)
	rec := tr.Start("scan", "in", "out")

	res := ConvertResult{BuildResult: BuildResult{State: StateFailed, ExitCode: 3}}
	final := tr.Finish(rec.ID, res, &BuildError{ExitCode: 3})

	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, 3, final.ExitCode)
	assert.Contains(t, final.Error, "exit code 3")
	_, ok := tr.LatestCloud()
	assert.False(t, ok)
}

func TestBuildTracker_FailureBeforeBuildHasNegativeExitCode(t *testing.T) {
	tr := NewBuildTracker(nil)
	rec := tr.Start("scan", "in", "out")

	final := tr.Finish(rec.ID, ConvertResult{}, errors.New("reading input: no such file"))

	assert.Equal(t, StateFailed, final.State)
	assert.Equal(t, -1, final.ExitCode)
}

func TestBuildTracker_LatestCloudIsSampled(t *testing.T) {
	tr := NewBuildTracker(nil)
	rec := tr.Start("scan", "in", "out")

	colored := gridCloud(maxPreviewPoints + 10)
	res := ConvertResult{
		BuildResult: BuildResult{State: StateSucceeded},
		PointCount:  colored.Len(),
		Colored:     colored,
	}
	final := tr.Finish(rec.ID, res, nil)
	assert.Equal(t, maxPreviewPoints+10, final.PointCount)

	latest, ok := tr.LatestCloud()
	require.True(t, ok)
	assert.LessOrEqual(t, latest.Len(), maxPreviewPoints)
	assert.Equal(t, colored.Points[0], latest.Points[0])
}

func TestBuildTracker_CleanupErrorRecorded(t *testing.T) {
	tr := NewBuildTracker(nil)
	rec := tr.Start("scan", "in", "out")
	res := ConvertResult{BuildResult: BuildResult{
		State:      StateSucceeded,
		CleanupErr: &CleanupError{Path: "/tmp/x.las", Err: errors.New("busy")},
	}}
	final := tr.Finish(rec.ID, res, nil)
	assert.Equal(t, StateSucceeded, final.State)
	assert.Contains(t, final.CleanupErr, "/tmp/x.las")
}

func TestBuildTracker_ListNewestFirst(t *testing.T) {
	tr := NewBuildTracker(nil)
	a := tr.Start("a", "a", "a")
	b := tr.Start("b", "b", "b")

	list := tr.List()
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)

	latest, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, b.ID, latest.ID)

	_, ok = tr.Get("missing")
	assert.False(t, ok)
}

func TestBuildTracker_TrimsFinishedHistory(t *testing.T) {
	tr := NewBuildTracker(nil)
	running := tr.Start("running", "in", "out")
	for i := 0; i < maxHistory+10; i++ {
		r := tr.Start("done", "in", "out")
		tr.Finish(r.ID, ConvertResult{}, nil)
	}

	assert.LessOrEqual(t, len(tr.List()), maxHistory+1)
	_, ok := tr.Get(running.ID)
	assert.True(t, ok, "unfinished builds are never dropped")
}

func TestBuildTracker_LockDestinationSerializes(t *testing.T) {
	tr := NewBuildTracker(nil)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := tr.LockDestination("/out/scan/")
			defer unlock()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	tr.destMu.Lock()
	assert.Empty(t, tr.dests, "locks are released once unused")
	tr.destMu.Unlock()
}

func TestBuildTracker_DifferentDestinationsRunConcurrently(t *testing.T) {
	tr := NewBuildTracker(nil)
	unlockA := tr.LockDestination("/out/a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := tr.LockDestination("/out/b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on /out/b blocked behind /out/a")
	}
}

func TestBuildTracker_PersistsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "builds.json")

	tr := NewBuildTrackerWithCache(path, nil)
	done := tr.Start("done", "in", "out")
	tr.Finish(done.ID, ConvertResult{}, nil)
	interrupted := tr.Start("interrupted", "in", "out")
	// a second finish persists the running build too
	other := tr.Start("other", "in", "out")
	tr.Finish(other.ID, ConvertResult{}, nil)

	reloaded := NewBuildTrackerWithCache(path, nil)
	list := reloaded.List()
	require.Len(t, list, 3)
	assert.Equal(t, other.ID, list[0].ID)
	assert.Equal(t, done.ID, list[2].ID)

	rec, ok := reloaded.Get(interrupted.ID)
	require.True(t, ok)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, "interrupted", rec.Error)
}

func TestNewBuildTrackerWithCache_MissingFile(t *testing.T) {
	tr := NewBuildTrackerWithCache(filepath.Join(t.TempDir(), "none.json"), nil)
	assert.Empty(t, tr.List())
}
