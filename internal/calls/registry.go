package calls

import (
	"sort"
	"sync"
	"time"
)

// Registry is the single source of truth for calls currently relevant to the
// running process. It is an explicitly constructed, injected object; request
// handlers and the webhook path all mutate it through Upsert under one
// mutex, which is the single-writer discipline the multi-goroutine runtime
// requires.
//
// Records leave the map only via Evict, which the lifecycle service calls
// after a terminal record has been flushed to the durable call log.
type Registry struct {
	mu      sync.Mutex
	records map[string]Record
	clock   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]Record),
		clock:   time.Now,
	}
}

// Upsert creates the record for id from p, or merges p into the existing
// record. It never fails: every entry point (outbound start, inbound
// webhook, control-action responses) may legitimately be the first to
// observe a call.
//
// Merge rules: non-zero patch fields overwrite, with one exception: an
// empty ControlHandle never clears a populated one, so a webhook that omits
// the handle cannot regress an earlier event that carried it.
func (r *Registry) Upsert(id string, p Patch) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		rec = Record{
			ID:         id,
			OwnerEmail: OwnerUnknown,
			StartedAt:  r.clock().UTC(),
		}
	}

	if p.Direction != "" {
		rec.Direction = p.Direction
	}
	if p.Status != "" {
		rec.Status = p.Status
	}
	if p.OwnerEmail != "" {
		rec.OwnerEmail = p.OwnerEmail
	}
	if p.CounterpartNumber != "" {
		rec.CounterpartNumber = p.CounterpartNumber
	}
	if p.ControlHandle != "" {
		rec.ControlHandle = p.ControlHandle
	}
	if p.ControlState != ControlStateNone {
		rec.ControlState = p.ControlState
	}
	if !p.StartedAt.IsZero() {
		rec.StartedAt = p.StartedAt.UTC()
	}
	if p.EndedAt != nil {
		t := p.EndedAt.UTC()
		rec.EndedAt = &t
	}
	if p.DurationSeconds != nil {
		rec.DurationSeconds = *p.DurationSeconds
	}

	r.records[id] = rec
	return rec
}

// Get returns the record for id. Side-effect-free.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

// ListForOwner returns all records when includeAll (admin view), else only
// records owned by email. Most recently started first.
func (r *Registry) ListForOwner(email string, includeAll bool) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if !includeAll && rec.OwnerEmail != email {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// OngoingCount counts records in a call-in-progress state.
func (r *Registry) OngoingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Status.InProgress() {
			n++
		}
	}
	return n
}

// Evict drops a record from memory. Only the lifecycle service calls this,
// and only after the terminal record has been written to the call log;
// evicting earlier would lose the call on process restart.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// Len reports how many records are resident. Exposed for tests and the
// health endpoint.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
