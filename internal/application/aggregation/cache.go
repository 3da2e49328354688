// Package aggregation fetches candidate molecules for a set of proteins
// concurrently, memoizes one result per protein, merges successful results
// into a candidate store and fans every resolution out to subscribers.
//
// A Cache is an ordinary value owned by one workflow run; there is no package
// state, so concurrent runs never observe each other's results.
package aggregation

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// Status is the lifecycle state of one protein's request.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Fetch sources reported on results and metrics.
const (
	SourceNetwork     = "network"
	SourceSecondLevel = "l2"
	SourceMemo        = "memo"
)

// Result is the resolution of one protein's request. It is never mutated
// after it has been published; replays are copies with FromCache set.
type Result struct {
	ProteinID   string               `json:"protein_id"`
	ProteinName string               `json:"protein_name"`
	Status      Status               `json:"status"`
	Candidates  []candidate.Molecule `json:"candidates"`
	// Added lists the identity keys this result contributed to the store.
	Added     []string  `json:"added,omitempty"`
	Err       error     `json:"-"`
	Message   string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
	FromCache bool      `json:"from_cache"`
	Source    string    `json:"source"`
}

func (r Result) clone() Result {
	out := r
	out.Candidates = candidate.CloneAll(r.Candidates)
	if r.Added != nil {
		out.Added = append([]string(nil), r.Added...)
	}
	return out
}

// Handler receives resolutions. Handlers run one at a time, in arrival order,
// and must not call Subscribe.
type Handler func(Result)

// Fetcher is the bioassay candidate source.
type Fetcher interface {
	DrugsForProtein(ctx context.Context, p target.Protein) ([]candidate.Molecule, error)
}

// SecondLevel is an optional shared cache consulted before the Fetcher.
type SecondLevel interface {
	GetCandidates(ctx context.Context, proteinID string) ([]candidate.Molecule, bool, error)
	PutCandidates(ctx context.Context, proteinID string, cands []candidate.Molecule) error
}

// Metrics receives fetch and merge observations.
type Metrics interface {
	RecordFetch(source, status string, d time.Duration)
	RecordMerge(added, duplicates int)
}

type nopMetrics struct{}

func (nopMetrics) RecordFetch(string, string, time.Duration) {}
func (nopMetrics) RecordMerge(int, int)                      {}

// Option configures a Cache.
type Option func(*Cache)

// WithSecondLevel enables a shared second-level cache.
func WithSecondLevel(l2 SecondLevel) Option {
	return func(c *Cache) { c.l2 = l2 }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithFetchTimeout bounds each fetch. Zero disables the bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.fetchTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type entry struct {
	protein target.Protein
	status  Status
	result  Result
	seq     uint64
	gen     uint64
	done    chan struct{}
}

// Cache memoizes one fetch per protein id.
type Cache struct {
	fetcher      Fetcher
	store        *candidate.Store
	l2           SecondLevel
	metrics      Metrics
	logger       logging.Logger
	fetchTimeout time.Duration
	now          func() time.Time

	group singleflight.Group
	wg    sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	// gen counts Clear calls; in-flight fetches are keyed by it so a fetch
	// started before a Clear is never joined after it.
	gen     uint64
	subs    map[uint64]Handler
	nextSub uint64

	// notifyMu makes merge-then-notify atomic with respect to every other
	// notification and to subscribe-time replay.
	notifyMu sync.Mutex
}

// New builds a Cache that merges successful results into store. store may be
// nil when the caller only wants notifications.
func New(fetcher Fetcher, store *candidate.Store, logger logging.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c := &Cache{
		fetcher:      fetcher,
		store:        store,
		metrics:      nopMetrics{},
		logger:       logger.Named("aggregation"),
		fetchTimeout: 60 * time.Second,
		now:          time.Now,
		entries:      make(map[string]*entry),
		subs:         make(map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request starts a fetch for every protein that has neither a resolved nor an
// in-flight entry. It never blocks on network I/O. Proteins without an id are
// skipped with a warning.
func (c *Cache) Request(ctx context.Context, proteins []target.Protein) {
	for _, p := range proteins {
		if err := p.Validate(); err != nil {
			c.logger.Warn("skipping protein without id", logging.String("name", p.Name))
			continue
		}
		c.mu.Lock()
		if _, ok := c.entries[p.ID]; ok {
			c.mu.Unlock()
			c.metrics.RecordFetch(SourceMemo, "hit", 0)
			continue
		}
		e := &entry{protein: p, status: StatusPending, gen: c.gen, done: make(chan struct{})}
		c.entries[p.ID] = e
		c.mu.Unlock()

		c.wg.Add(1)
		go c.fetch(logging.FromContext(ctx), e)
	}
}

// RequestAndWait is Request followed by Wait on the same proteins. It always
// returns one result per valid protein, success or error.
func (c *Cache) RequestAndWait(ctx context.Context, proteins []target.Protein) ([]Result, error) {
	c.Request(ctx, proteins)
	ids := make([]string, 0, len(proteins))
	for _, p := range proteins {
		if p.ID != "" {
			ids = append(ids, p.ID)
		}
	}
	return c.Wait(ctx, ids...)
}

// Wait blocks until each named protein's entry has resolved, or ctx ends.
// Unknown ids are skipped.
func (c *Cache) Wait(ctx context.Context, proteinIDs ...string) ([]Result, error) {
	c.mu.Lock()
	waiting := make([]*entry, 0, len(proteinIDs))
	for _, id := range proteinIDs {
		if e, ok := c.entries[id]; ok {
			waiting = append(waiting, e)
		}
	}
	c.mu.Unlock()

	out := make([]Result, 0, len(waiting))
	for _, e := range waiting {
		select {
		case <-e.done:
		case <-ctx.Done():
			return out, ctx.Err()
		}
		c.mu.Lock()
		r := e.result.clone()
		c.mu.Unlock()
		out = append(out, r)
	}
	return out, nil
}

// Drain waits for every fetch started so far.
func (c *Cache) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers h and immediately replays every resolved entry to it,
// in resolution order, tagged FromCache. The returned func unsubscribes.
func (c *Cache) Subscribe(h Handler) func() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = h
	resolved := c.resolvedLocked()
	c.mu.Unlock()

	for _, r := range resolved {
		r.FromCache = true
		h(r)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Lookup returns the resolved result for proteinID.
func (c *Cache) Lookup(proteinID string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[proteinID]
	if !ok || e.status == StatusPending {
		return Result{}, false
	}
	r := e.result.clone()
	r.FromCache = true
	return r, true
}

// Results returns all resolved results in resolution order.
func (c *Cache) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolvedLocked()
}

// Pending returns the number of in-flight fetches.
func (c *Cache) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.status == StatusPending {
			n++
		}
	}
	return n
}

// Clear invalidates every entry so the next Request fetches again. It does
// not notify subscribers. Fetches already in flight finish, but their results
// are neither cached, merged nor published. Clear waits for a notification in
// progress, so once it returns no handler is still running for an entry it
// dropped. It must not be called from a Handler.
func (c *Cache) Clear() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.gen++
	c.mu.Unlock()
	c.logger.Debug("aggregation cache cleared")
}

func (c *Cache) resolvedLocked() []Result {
	list := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.status != StatusPending {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]Result, len(list))
	for i, e := range list {
		out[i] = e.result.clone()
	}
	return out
}

type loaded struct {
	cands  []candidate.Molecule
	source string
}

// fetch runs on its own goroutine. It is detached from the caller's context:
// a fetch, once issued, always completes.
func (c *Cache) fetch(log logging.Logger, e *entry) {
	defer c.wg.Done()

	ctx := context.Background()
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}
	ctx = logging.WithContext(ctx, log)

	p := e.protein
	start := c.now()
	v, err, shared := c.group.Do(p.ID+"#"+strconv.FormatUint(e.gen, 10), func() (interface{}, error) {
		return c.load(ctx, p)
	})

	res := Result{
		ProteinID:   p.ID,
		ProteinName: p.DisplayName(),
		FetchedAt:   c.now(),
	}
	if err != nil {
		res.Status = StatusError
		res.Err = errors.Wrap(err, errors.CodeFetchError, "fetch candidates for protein "+p.ID)
		res.Message = err.Error()
		res.Source = SourceNetwork
	} else {
		l := v.(loaded)
		res.Status = StatusSuccess
		res.Candidates = candidate.CloneAll(l.cands)
		res.Source = l.source
	}
	c.metrics.RecordFetch(res.Source, string(res.Status), c.now().Sub(start))
	if shared {
		c.logger.Debug("joined in-flight fetch", logging.ProteinID(p.ID))
	}
	c.resolve(e, res)
}

func (c *Cache) load(ctx context.Context, p target.Protein) (loaded, error) {
	if c.l2 != nil {
		cands, ok, err := c.l2.GetCandidates(ctx, p.ID)
		if err != nil {
			c.logger.Warn("second-level cache read failed", logging.ProteinID(p.ID), logging.Err(err))
		} else if ok {
			return loaded{cands: cands, source: SourceSecondLevel}, nil
		}
	}

	raw, err := c.fetcher.DrugsForProtein(ctx, p)
	if err != nil {
		return loaded{}, err
	}
	cands := make([]candidate.Molecule, 0, len(raw))
	rejected := 0
	for _, m := range raw {
		n, err := candidate.Normalize(m, candidate.SourceBioassay)
		if err != nil {
			rejected++
			continue
		}
		cands = append(cands, n)
	}
	if rejected > 0 {
		c.logger.Warn("dropped candidates without identity",
			logging.ProteinID(p.ID), logging.Int("rejected", rejected))
	}

	if c.l2 != nil {
		if err := c.l2.PutCandidates(ctx, p.ID, cands); err != nil {
			c.logger.Warn("second-level cache write failed", logging.ProteinID(p.ID), logging.Err(err))
		}
	}
	return loaded{cands: cands, source: SourceNetwork}, nil
}

// resolve records res on e, merges and notifies. The merge and the
// notification happen under notifyMu so no subscriber ever sees a result whose
// candidates are not yet in the store. Waiters are released last.
func (c *Cache) resolve(e *entry, res Result) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	defer close(e.done)

	c.mu.Lock()
	current := c.entries[e.protein.ID] == e
	c.mu.Unlock()

	if current && res.Status == StatusSuccess && c.store != nil {
		rep := c.store.Merge(res.Candidates, candidate.SourceBioassay)
		res.Added = rep.Added
		c.metrics.RecordMerge(len(rep.Added), rep.Duplicates)
	}

	c.mu.Lock()
	c.seq++
	e.seq = c.seq
	e.result = res
	e.status = res.Status
	handlers := make([]Handler, 0, len(c.subs))
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		handlers = append(handlers, c.subs[id])
	}
	c.mu.Unlock()

	if !current {
		c.logger.Debug("discarding result fetched before clear", logging.ProteinID(e.protein.ID))
		return
	}

	if res.Status == StatusError {
		c.logger.Warn("candidate fetch failed", logging.ProteinID(res.ProteinID), logging.Err(res.Err))
	} else {
		c.logger.Info("candidates resolved",
			logging.ProteinID(res.ProteinID),
			logging.Int("candidates", len(res.Candidates)),
			logging.Int("added", len(res.Added)),
			logging.String("source", res.Source))
	}

	for _, h := range handlers {
		h(res.clone())
	}
}
