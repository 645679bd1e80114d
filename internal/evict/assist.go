package evict

// Assist runs one cooperative eviction attempt on behalf of a cursor
// that observed a full cache: it picks the single worst candidate
// currently available and tries to reconcile and release it, giving
// the background Scanner a hand before the cursor's own operation
// completes. If the cache is still full afterward, the caller should
// surface ErrRollbackRequired to whatever issued the operation.
func (s *Scanner) Assist() error {
	if !s.cache.Full() {
		return nil
	}

	candidates := s.source.EvictionCandidates()
	if len(candidates) == 0 {
		return &ErrRollbackRequired{Reason: CacheOverflow}
	}
	ordered := s.policy.Rank(candidates)

	if _, err := s.policy.Evict(ordered[0], s.cache); err != nil {
		return err
	}

	if s.cache.Full() {
		return &ErrRollbackRequired{Reason: CacheOverflow}
	}
	return nil
}
