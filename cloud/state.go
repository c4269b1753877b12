package cloud

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxHistory bounds the number of finished builds kept in memory
const maxHistory = 100

// BuildRecord is the tracked state of one conversion
type BuildRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Input       string     `json:"input"`
	Destination string     `json:"destination"`
	State       State      `json:"state"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	ExitCode    int        `json:"exitCode"`
	Error       string     `json:"error,omitempty"`
	CleanupErr  string     `json:"cleanupError,omitempty"`
	PointCount  int        `json:"pointCount"`
	Centroid    *r3.Vector `json:"centroid,omitempty"`
}

// BuildListener is notified with a copy of a record after every change
type BuildListener func(BuildRecord)

// BuildTracker records builds for the HTTP and MQTT surfaces and serializes
// builds that target the same destination.
type BuildTracker struct {
	mu        sync.RWMutex
	builds    map[string]*BuildRecord
	order     []string // oldest first
	latestOK  *ColoredCloud
	listeners []BuildListener
	cachePath string // build history JSON; empty disables persistence
	logger    *zap.SugaredLogger

	destMu sync.Mutex
	dests  map[string]*destLock
}

type destLock struct {
	mu   sync.Mutex
	refs int
}

// NewBuildTracker creates an empty tracker
func NewBuildTracker(logger *zap.SugaredLogger) *BuildTracker {
	return &BuildTracker{
		builds: make(map[string]*BuildRecord),
		dests:  make(map[string]*destLock),
		logger: orNop(logger),
	}
}

// NewBuildTrackerWithCache creates a tracker that persists its history to
// cachePath. If the file exists, the history is loaded on creation.
func NewBuildTrackerWithCache(cachePath string, logger *zap.SugaredLogger) *BuildTracker {
	t := NewBuildTracker(logger)
	t.cachePath = cachePath
	if cachePath == "" {
		return t
	}
	records, err := LoadBuildHistory(cachePath)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Warnw("ignoring build history cache", "path", cachePath, "error", err)
		}
		return t
	}
	for i := range records {
		r := records[i]
		// a build interrupted by a restart can never finish
		if !r.State.Terminal() {
			r.State = StateFailed
			r.Error = "interrupted"
		}
		t.builds[r.ID] = &r
		t.order = append(t.order, r.ID)
	}
	return t
}

// Subscribe registers a listener for record changes
func (t *BuildTracker) Subscribe(fn BuildListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Start registers a new build in StateIdle and returns its record
func (t *BuildTracker) Start(name, input, destination string) BuildRecord {
	rec := &BuildRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Input:       input,
		Destination: destination,
		State:       StateIdle,
		StartedAt:   time.Now().UTC(),
	}

	t.mu.Lock()
	t.builds[rec.ID] = rec
	t.order = append(t.order, rec.ID)
	t.trimLocked()
	snapshot := *rec
	listeners := t.listeners
	t.mu.Unlock()

	notify(listeners, snapshot)
	return snapshot
}

// Transition moves a build to a new state
func (t *BuildTracker) Transition(id string, to State) {
	t.update(id, func(r *BuildRecord) {
		r.State = to
	})
}

// Finish records the outcome of a conversion
func (t *BuildTracker) Finish(id string, res ConvertResult, err error) BuildRecord {
	var cloud *ColoredCloud
	if err == nil && res.State == StateSucceeded && res.Colored.Len() > 0 {
		c := decimate(res.Colored, maxPreviewPoints)
		cloud = &c
	}

	rec := t.update(id, func(r *BuildRecord) {
		now := time.Now().UTC()
		r.FinishedAt = &now
		r.PointCount = res.PointCount
		r.ExitCode = res.ExitCode
		if res.Colored.Len() > 0 {
			centroid := res.Centroid
			r.Centroid = &centroid
		}
		if err != nil {
			r.State = StateFailed
			r.Error = err.Error()
			if r.ExitCode == 0 {
				// the builder never ran
				r.ExitCode = -1
			}
		} else {
			r.State = StateSucceeded
		}
		if res.CleanupErr != nil {
			r.CleanupErr = res.CleanupErr.Error()
		}
	})

	t.mu.Lock()
	if cloud != nil {
		t.latestOK = cloud
	}
	t.mu.Unlock()

	t.persist()
	return rec
}

func (t *BuildTracker) update(id string, fn func(*BuildRecord)) BuildRecord {
	t.mu.Lock()
	rec, ok := t.builds[id]
	if !ok {
		t.mu.Unlock()
		return BuildRecord{}
	}
	fn(rec)
	snapshot := *rec
	listeners := t.listeners
	t.mu.Unlock()

	notify(listeners, snapshot)
	return snapshot
}

func notify(listeners []BuildListener, rec BuildRecord) {
	for _, fn := range listeners {
		fn(rec)
	}
}

// trimLocked drops the oldest finished builds beyond maxHistory
func (t *BuildTracker) trimLocked() {
	for len(t.order) > maxHistory {
		dropped := false
		for i, id := range t.order {
			if t.builds[id].State.Terminal() {
				delete(t.builds, id)
				t.order = append(t.order[:i], t.order[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return
		}
	}
}

// Get returns a copy of one build record
func (t *BuildTracker) Get(id string) (BuildRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.builds[id]
	if !ok {
		return BuildRecord{}, false
	}
	return *rec, true
}

// List returns all builds, newest first
func (t *BuildTracker) List() []BuildRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]BuildRecord, 0, len(t.order))
	for i := len(t.order) - 1; i >= 0; i-- {
		out = append(out, *t.builds[t.order[i]])
	}
	return out
}

// Latest returns the most recently started build
func (t *BuildTracker) Latest() (BuildRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.order) == 0 {
		return BuildRecord{}, false
	}
	return *t.builds[t.order[len(t.order)-1]], true
}

// LatestCloud returns the normalized, colored cloud of the last successful
// build, sampled down to at most maxPreviewPoints points.
func (t *BuildTracker) LatestCloud() (ColoredCloud, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.latestOK == nil {
		return ColoredCloud{}, false
	}
	return *t.latestOK, true
}

// LockDestination blocks until no other build holds destination and returns
// the function that releases it.
func (t *BuildTracker) LockDestination(destination string) (unlock func()) {
	key := filepath.Clean(destination)

	t.destMu.Lock()
	l, ok := t.dests[key]
	if !ok {
		l = &destLock{}
		t.dests[key] = l
	}
	l.refs++
	t.destMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.destMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.dests, key)
		}
		t.destMu.Unlock()
	}
}

func (t *BuildTracker) persist() {
	if t.cachePath == "" {
		return
	}
	records := t.List()
	if err := SaveBuildHistory(records, t.cachePath); err != nil {
		t.logger.Warnw("failed to save build history", "path", t.cachePath, "error", err)
	}
}

// SaveBuildHistory writes build records to disk as JSON.
func SaveBuildHistory(records []BuildRecord, path string) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal build history: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write build history: %w", err)
	}
	return nil
}

// LoadBuildHistory reads build records from a JSON file, oldest first.
func LoadBuildHistory(path string) ([]BuildRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []BuildRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal build history: %w", err)
	}
	// stored newest first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
