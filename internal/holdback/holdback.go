// Package holdback implements the holdback queue (§4.2): a buffer for
// operations whose causal predecessors have not yet arrived, releasing
// them in causal order once those predecessors show up.
//
// Grounded on the teacher's DAG tips bookkeeping
// (_examples/luxfi-consensus/dag/dag.go: a map keyed by id, revisited on
// each insertion) generalized from "which blocks have no successor yet"
// to "which dependents are waiting on this missing id."
package holdback

import (
	"sync"
	"time"

	"github.com/spaceway/spaceway/internal/ids"
	"github.com/spaceway/spaceway/internal/log"
	"github.com/spaceway/spaceway/internal/op"
)

// DefaultMaxPerAuthor and DefaultTTL are the spec's configurable
// defaults (§4.2): 1024 pending entries per author, 24h TTL.
const (
	DefaultMaxPerAuthor = 1024
	DefaultTTL          = 24 * time.Hour
)

// entry is one deferred operation and its bookkeeping.
type entry struct {
	record   *op.Record
	missing  map[ids.OpId]struct{}
	arrival  uint64 // monotone arrival sequence, for tie-breaking within a causal level
	deadline time.Time
}

// Queue is the holdback queue. All exported methods are safe for
// concurrent use (§5: "Holdback queue: exclusive lock; critical sections
// short").
type Queue struct {
	mu sync.Mutex

	maxPerAuthor int
	ttl          time.Duration
	log          log.Logger
	now          func() time.Time

	// waiting maps a missing predecessor id to the set of op ids that
	// depend on it.
	waiting map[ids.OpId]map[ids.OpId]struct{}
	// pending maps a deferred op id to its entry.
	pending map[ids.OpId]*entry
	// perAuthor bounds pending entries per author (flood resistance).
	perAuthor map[ids.UserId]int

	seq uint64
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxPerAuthor overrides DefaultMaxPerAuthor.
func WithMaxPerAuthor(n int) Option { return func(q *Queue) { q.maxPerAuthor = n } }

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option { return func(q *Queue) { q.ttl = d } }

// WithClock overrides the time source, for deterministic TTL tests.
func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

// New constructs an empty Queue.
func New(logger log.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = log.NewNoOp()
	}
	q := &Queue{
		maxPerAuthor: DefaultMaxPerAuthor,
		ttl:          DefaultTTL,
		log:          logger,
		now:          time.Now,
		waiting:      make(map[ids.OpId]map[ids.OpId]struct{}),
		pending:      make(map[ids.OpId]*entry),
		perAuthor:    make(map[ids.UserId]int),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// ErrQueueFull is returned by Defer when the author has hit
// maxPerAuthor pending entries.
var ErrQueueFull = errQueueFull{}

type errQueueFull struct{}

func (errQueueFull) Error() string { return "holdback: per-author pending limit reached" }

// Defer buffers r, which is waiting on the given missing predecessor
// ids. Returns ErrQueueFull if the author has exceeded maxPerAuthor.
func (q *Queue) Defer(r *op.Record, missing []ids.OpId) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, already := q.pending[r.OpId]; already {
		return nil
	}
	if q.perAuthor[r.Author] >= q.maxPerAuthor {
		return ErrQueueFull
	}

	missSet := make(map[ids.OpId]struct{}, len(missing))
	for _, m := range missing {
		missSet[m] = struct{}{}
		if q.waiting[m] == nil {
			q.waiting[m] = make(map[ids.OpId]struct{})
		}
		q.waiting[m][r.OpId] = struct{}{}
	}

	q.seq++
	q.pending[r.OpId] = &entry{
		record:   r,
		missing:  missSet,
		arrival:  q.seq,
		deadline: q.now().Add(q.ttl),
	}
	q.perAuthor[r.Author]++
	return nil
}

// Arrived notifies the queue that id has now been accepted. It returns,
// in arrival order, every previously-deferred operation that has no
// remaining missing predecessor (i.e. is now causally ready) — the
// caller is expected to re-validate and apply each, then call Arrived
// again for each newly-accepted id, iterating to a fixed point.
func (q *Queue) Arrived(id ids.OpId) []*op.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	dependents, ok := q.waiting[id]
	if !ok {
		return nil
	}
	delete(q.waiting, id)

	type ready struct {
		r       *op.Record
		arrival uint64
	}
	var readyList []ready

	for depID := range dependents {
		e, ok := q.pending[depID]
		if !ok {
			continue
		}
		delete(e.missing, id)
		if len(e.missing) == 0 {
			delete(q.pending, depID)
			q.perAuthor[e.record.Author]--
			readyList = append(readyList, ready{r: e.record, arrival: e.arrival})
		}
	}

	// Preserve arrival order within this causal level (§4.2).
	for i := 1; i < len(readyList); i++ {
		for j := i; j > 0 && readyList[j-1].arrival > readyList[j].arrival; j-- {
			readyList[j-1], readyList[j] = readyList[j], readyList[j-1]
		}
	}

	out := make([]*op.Record, len(readyList))
	for i, rd := range readyList {
		out[i] = rd.r
	}
	return out
}

// ExpireStalled evicts entries whose deadline has passed and returns
// their op ids, emitting a Stalled diagnostic signal (§4.2, §7) for
// each via the logger.
func (q *Queue) ExpireStalled() []ids.OpId {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var stalled []ids.OpId
	for id, e := range q.pending {
		if now.Before(e.deadline) {
			continue
		}
		stalled = append(stalled, id)
		delete(q.pending, id)
		q.perAuthor[e.record.Author]--
		for m := range e.missing {
			if deps, ok := q.waiting[m]; ok {
				delete(deps, id)
				if len(deps) == 0 {
					delete(q.waiting, m)
				}
			}
		}
	}
	for _, id := range stalled {
		q.log.Warn("holdback: operation stalled past TTL", "op_id", id.String())
	}
	return stalled
}

// Len reports the number of currently-pending (deferred) operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Has reports whether id is currently held back.
func (q *Queue) Has(id ids.OpId) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}
