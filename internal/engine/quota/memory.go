package quota

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"divgate/internal/platform/models"
)

// Loader hydrates a credential's persisted windows the first time the
// memory store sees it.
type Loader interface {
	LoadWindows(ctx context.Context, credentialID string) ([]models.UsageWindow, error)
}

// Saver persists window snapshots.
type Saver interface {
	SaveWindows(ctx context.Context, windows []models.UsageWindow) error
}

type credentialState struct {
	windows  map[Window]WindowState
	dirty    bool
	flushing bool // snapshot taken, save not yet confirmed
	touched  time.Time
}

type shard struct {
	mu    sync.Mutex
	state map[string]*credentialState
}

// MemoryStore is a sharded in-process CounterStore. The shard lock is held
// across the whole read-check-increment, which serializes calls for one
// credential while other shards proceed in parallel.
type MemoryStore struct {
	shards []*shard
	loader Loader
}

type MemoryStoreConfig struct {
	Shards int    // default 32
	Loader Loader // optional
}

func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.Shards <= 0 {
		cfg.Shards = 32
	}
	s := &MemoryStore{
		shards: make([]*shard, cfg.Shards),
		loader: cfg.Loader,
	}
	for i := range s.shards {
		s.shards[i] = &shard{state: make(map[string]*credentialState)}
	}
	return s
}

func (s *MemoryStore) shardFor(credentialID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(credentialID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

func (s *MemoryStore) ResetIfExpiredAndIncrement(ctx context.Context, credentialID string, limits []Limit, now time.Time) (Outcome, error) {
	return s.apply(ctx, credentialID, limits, now, true)
}

func (s *MemoryStore) Peek(ctx context.Context, credentialID string, limits []Limit, now time.Time) (Outcome, error) {
	return s.apply(ctx, credentialID, limits, now, false)
}

func (s *MemoryStore) apply(ctx context.Context, credentialID string, limits []Limit, now time.Time, consume bool) (Outcome, error) {
	sh := s.shardFor(credentialID)

	var cs *credentialState
	for {
		if err := s.hydrate(ctx, sh, credentialID); err != nil {
			return Outcome{}, err
		}
		sh.mu.Lock()
		var ok bool
		if cs, ok = sh.state[credentialID]; ok {
			break
		}
		// Pruned between hydrate and lock.
		sh.mu.Unlock()
	}
	defer sh.mu.Unlock()

	states := make([]WindowState, len(limits))
	for i, l := range limits {
		states[i] = cs.windows[l.Window]
	}

	next, out := Evaluate(states, limits, now, consume)
	if consume && out.Admitted {
		for i, l := range limits {
			cs.windows[l.Window] = next[i]
		}
		cs.dirty = true
	}
	cs.touched = now
	return out, nil
}

// hydrate makes sure credentialID has an entry, loading persisted windows
// outside the shard lock so a slow loader only stalls its own credential.
func (s *MemoryStore) hydrate(ctx context.Context, sh *shard, credentialID string) error {
	sh.mu.Lock()
	_, ok := sh.state[credentialID]
	sh.mu.Unlock()
	if ok {
		return nil
	}

	windows := make(map[Window]WindowState)
	if s.loader != nil {
		rows, err := s.loader.LoadWindows(ctx, credentialID)
		if err != nil {
			return fmt.Errorf("quota: load windows for %s: %w", credentialID, err)
		}
		for _, row := range rows {
			windows[Window(row.Window)] = WindowState{
				Usage:       row.Usage,
				WindowStart: time.Unix(row.WindowStart, 0).UTC(),
			}
		}
	}

	sh.mu.Lock()
	if _, ok := sh.state[credentialID]; !ok {
		sh.state[credentialID] = &credentialState{windows: windows}
	}
	sh.mu.Unlock()
	return nil
}

// snapshot returns every window changed since the last snapshot. The
// entries stay pinned against Prune until settle reports the save outcome.
func (s *MemoryStore) snapshot() []models.UsageWindow {
	var out []models.UsageWindow
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, cs := range sh.state {
			if !cs.dirty {
				continue
			}
			for w, st := range cs.windows {
				out = append(out, models.UsageWindow{
					CredentialID: id,
					Window:       string(w),
					Usage:        st.Usage,
					WindowStart:  st.WindowStart.Unix(),
					UpdatedAt:    cs.touched.Unix(),
				})
			}
			cs.dirty = false
			cs.flushing = true
		}
		sh.mu.Unlock()
	}
	return out
}

// settle releases the entries taken by snapshot. After a failed save they
// are dirty again so the next flush retries them.
func (s *MemoryStore) settle(snap []models.UsageWindow, saved bool) {
	ids := make(map[string]struct{}, len(snap))
	for _, w := range snap {
		ids[w.CredentialID] = struct{}{}
	}
	for id := range ids {
		sh := s.shardFor(id)
		sh.mu.Lock()
		if cs, ok := sh.state[id]; ok {
			cs.flushing = false
			if !saved {
				cs.dirty = true
			}
		}
		sh.mu.Unlock()
	}
}

// FlushTo writes dirty windows to saver. On failure the windows stay dirty
// and are retried on the next flush.
func (s *MemoryStore) FlushTo(ctx context.Context, saver Saver) (int, error) {
	snap := s.snapshot()
	if len(snap) == 0 {
		return 0, nil
	}
	err := saver.SaveWindows(ctx, snap)
	s.settle(snap, err == nil)
	if err != nil {
		return 0, err
	}
	return len(snap), nil
}

// WriteBehind pairs a MemoryStore with the saver its dirty windows are
// flushed to.
type WriteBehind struct {
	Store *MemoryStore
	Saver Saver
}

func (w WriteBehind) Flush(ctx context.Context) (int, error) {
	return w.Store.FlushTo(ctx, w.Saver)
}

// Prune drops clean credentials not touched since cutoff. Credentials with
// a save in flight are kept.
func (s *MemoryStore) Prune(cutoff time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, cs := range sh.state {
			if !cs.dirty && !cs.flushing && cs.touched.Before(cutoff) {
				delete(sh.state, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked credentials.
func (s *MemoryStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.state)
		sh.mu.Unlock()
	}
	return total
}

var _ CounterStore = (*MemoryStore)(nil)
