package paywall

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RefKey identifies one claimed settlement: a transaction hash plus the
// index of the transfer log that paid. Keying on the pair rather than the
// hash alone lets one batch transaction carrying N transfer logs settle N
// distinct requests while still refusing true replays.
type RefKey struct {
	TxHash   common.Hash
	LogIndex uint
}

// UsedReferenceSet is the process-wide replay defense. CheckAndClaim is
// the only mutation and is atomic: of any number of concurrent claims for
// the same key, exactly one succeeds. Entries are retained at least as
// long as any requirement that could be settled by them can stay valid;
// a background sweep drops them only after the retention window.
type UsedReferenceSet struct {
	mu        sync.Mutex
	claimed   map[RefKey]time.Time // value: when the entry may be swept
	retention time.Duration

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewUsedReferenceSet creates a set whose entries live for at least the
// given retention window. The retention must cover the maximum requirement
// expiry window, otherwise a still-valid reference could be replayed.
func NewUsedReferenceSet(retention time.Duration) *UsedReferenceSet {
	s := &UsedReferenceSet{
		claimed:     make(map[RefKey]time.Time),
		retention:   retention,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// CheckAndClaim atomically tests and inserts a reference. It returns true
// when the reference was newly claimed, false when it had been used before.
func (s *UsedReferenceSet) CheckAndClaim(key RefKey) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, used := s.claimed[key]; used {
		return false
	}
	s.claimed[key] = now.Add(s.retention)
	return true
}

// Contains reports whether a reference has been claimed.
func (s *UsedReferenceSet) Contains(key RefKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, used := s.claimed[key]
	return used
}

// Len returns the number of live entries.
func (s *UsedReferenceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claimed)
}

// cleanup periodically removes entries whose retention has elapsed.
func (s *UsedReferenceSet) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			now := time.Now()

			s.mu.Lock()
			for key, deadline := range s.claimed {
				if now.After(deadline) {
					delete(s.claimed, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the cleanup goroutine. Implements io.Closer for lifecycle
// management.
func (s *UsedReferenceSet) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}
