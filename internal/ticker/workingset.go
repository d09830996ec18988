package ticker

import (
	"sort"
	"sync"
	"time"

	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

// entry is one flight held in local working memory.
type entry struct {
	flight   models.FlightRecord
	progress float64
	landed   bool
	seenAt   time.Time // when this process first saw the flight landed
}

// WorkingSet is the ticker's local view of the flights it animates.
// Landed flights linger for a fixed window before eviction; this is a
// presentation courtesy and never touches the store.
type WorkingSet struct {
	linger time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewWorkingSet creates an empty set with the given linger window.
func NewWorkingSet(linger time.Duration) *WorkingSet {
	return &WorkingSet{linger: linger, entries: make(map[string]*entry)}
}

// Sync reconciles the set with a freshly loaded live set. Unknown
// flights are added, known ones get the latest schedule, and entries
// missing from live are dropped unless they are lingering.
func (w *WorkingSet) Sync(live []models.FlightRecord, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(live))
	for _, f := range live {
		seen[f.ID] = true
		if e, ok := w.entries[f.ID]; ok {
			e.flight = f
			if f.Progress > e.progress {
				e.progress = f.Progress
			}
			continue
		}
		e := &entry{flight: f, progress: f.Progress}
		if f.Landed {
			e.landed, e.seenAt = true, now
		}
		w.entries[f.ID] = e
	}
	for id, e := range w.entries {
		if !seen[id] && !e.landed {
			delete(w.entries, id)
		}
	}
}

// snapshot returns copies of all entries ordered by flight id.
func (w *WorkingSet) snapshot() []entry {
	w.mu.RLock()
	out := make([]entry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, *e)
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].flight.ID < out[j].flight.ID })
	return out
}

// update replaces the held schedule with a freshly read record. Local
// progress follows the stored value, which may be lower after a delay.
func (w *WorkingSet) update(f models.FlightRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[f.ID]; ok && !e.landed {
		e.flight = f
		e.progress = f.Progress
	}
}

// setProgress records a persisted progress value. Progress never
// moves backwards locally.
func (w *WorkingSet) setProgress(id string, p float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[id]; ok && p > e.progress {
		e.progress = p
	}
}

// markLanded pins the entry at progress 1 and starts its linger window.
func (w *WorkingSet) markLanded(id string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[id]; ok && !e.landed {
		e.landed, e.progress, e.seenAt = true, 1, now
	}
}

// Remove drops an entry immediately.
func (w *WorkingSet) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, id)
}

// Expire evicts landed entries whose linger window has passed and
// returns their ids.
func (w *WorkingSet) Expire(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var expired []string
	for id, e := range w.entries {
		if e.landed && !now.Before(e.seenAt.Add(w.linger)) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(w.entries, id)
	}
	sort.Strings(expired)
	return expired
}

// Len returns the number of held flights.
func (w *WorkingSet) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// Progress returns the local progress of a flight and whether it is held.
func (w *WorkingSet) Progress(id string) (p float64, landed, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entries[id]
	if !ok {
		return 0, false, false
	}
	return e.progress, e.landed, true
}
