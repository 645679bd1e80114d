package evict

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nainya/emberkv/internal/page"
)

// DefaultScanInterval is how often the background scanner sweeps the
// cache for eviction candidates when none is given explicitly.
const DefaultScanInterval = 1 * time.Second

// Candidate is one page a PageSource offers up for eviction
// consideration: the parent's Ref entry for it plus the in-memory page
// itself.
type Candidate struct {
	Ref  *page.Ref
	Page *page.Page
}

// PageSource lets Scanner walk the set of currently resident pages
// without depending on the btree or engine packages directly; an
// engine wires its tree walk in as the source's EvictionCandidates
// implementation.
type PageSource interface {
	EvictionCandidates() []Candidate
}

// Scanner is the background cache-eviction loop, grounded on the
// teacher's periodic Checkpointer: a ticker drives a run loop that can
// be stopped and drained via a pair of channels.
type Scanner struct {
	cache    *Cache
	source   PageSource
	policy   *Policy
	interval time.Duration
	log      zerolog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScanner builds a scanner over cache, pulling eviction candidates
// from source and applying policy's scoring and reconciliation.
func NewScanner(cache *Cache, source PageSource, policy *Policy, log zerolog.Logger) *Scanner {
	return &Scanner{
		cache:    cache,
		source:   source,
		policy:   policy,
		interval: DefaultScanInterval,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetInterval overrides the scan period; must be called before Start.
func (s *Scanner) SetInterval(d time.Duration) { s.interval = d }

// Start launches the background scan loop.
func (s *Scanner) Start() {
	go s.run()
}

// Stop signals the loop to exit and waits for it to drain.
func (s *Scanner) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scanner) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.Sweep()
			if err != nil {
				s.log.Warn().Err(err).Msg("evict: sweep returned an error")
			} else if n > 0 {
				s.log.Debug().Int("evicted", n).Msg("evict: sweep reclaimed pages")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one eviction pass: it scores every candidate the source
// currently offers, and walks them worst-first until the cache is below
// its target and at least one page has been reclaimed, or candidates
// run out. It returns the number of pages it reclaimed.
func (s *Scanner) Sweep() (int, error) {
	candidates := s.source.EvictionCandidates()
	if len(candidates) == 0 {
		return 0, nil
	}
	ordered := s.policy.Rank(candidates)

	reclaimed := 0
	for _, c := range ordered {
		if !s.cache.Full() && reclaimed > 0 {
			// Already brought the cache back under budget; no need to
			// keep walking lower-priority candidates this pass.
			break
		}
		ok, err := s.policy.Evict(c, s.cache)
		if err != nil {
			s.log.Warn().Err(err).Bytes("key", c.Ref.CachedKey).Msg("evict: reconciliation failed")
			continue
		}
		if ok {
			reclaimed++
		}
	}
	return reclaimed, nil
}
