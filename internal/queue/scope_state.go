package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/taskdispatch/internal/domain"
)

// scopeState holds the live entries of one physical scope. All fields are
// guarded by mu. Channel views share the global scope's state and apply a
// filter during scans, so they also share its lock and its waiters.
type scopeState struct {
	mu sync.Mutex

	// bands keeps one FIFO sequence per priority, each ordered by
	// EnqueuedAt ascending.
	bands map[domain.TaskPriority][]*Entry

	// byTask indexes live entries for replace-not-duplicate enqueues.
	byTask map[uuid.UUID]*Entry

	// channelCounts tracks live entries per channel id for the channel
	// view's capacity limit.
	channelCounts map[string]int

	// notify is closed and replaced to broadcast "state changed" to
	// blocked dequeuers.
	notify chan struct{}
}

func newScopeState() *scopeState {
	return &scopeState{
		bands:         make(map[domain.TaskPriority][]*Entry),
		byTask:        make(map[uuid.UUID]*Entry),
		channelCounts: make(map[string]int),
		notify:        make(chan struct{}),
	}
}

// wake releases every waiter blocked on the current notify channel.
// Callers must hold mu.
func (s *scopeState) wake() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// insert adds the entry to its priority band, keeping the band ordered by
// EnqueuedAt. Entries with equal timestamps keep their insertion order.
// Callers must hold mu.
func (s *scopeState) insert(e *Entry) {
	band := s.bands[e.Priority]
	i := sort.Search(len(band), func(i int) bool {
		return band[i].EnqueuedAt.After(e.EnqueuedAt)
	})
	band = append(band, nil)
	copy(band[i+1:], band[i:])
	band[i] = e
	s.bands[e.Priority] = band

	s.byTask[e.TaskID] = e
	if e.ChannelID != "" {
		s.channelCounts[e.ChannelID]++
	}
}

// forget drops the entry from the index and channel accounting.
// Callers must hold mu.
func (s *scopeState) forget(e *Entry) {
	delete(s.byTask, e.TaskID)
	if e.ChannelID != "" {
		if s.channelCounts[e.ChannelID]--; s.channelCounts[e.ChannelID] <= 0 {
			delete(s.channelCounts, e.ChannelID)
		}
	}
}

// remove unlinks the entry from its band. Callers must hold mu.
func (s *scopeState) remove(e *Entry) {
	band := s.bands[e.Priority]
	for i, candidate := range band {
		if candidate == e {
			s.bands[e.Priority] = append(band[:i], band[i+1:]...)
			break
		}
	}
	s.forget(e)
}

// take removes and returns the dispatchable entry with the highest
// priority and the earliest EnqueuedAt, honoring the optional view
// filter. Expired entries encountered during the scan are removed and
// returned separately so the caller can emit events after unlocking.
// When nothing is dispatchable, nextEligible carries the earliest future
// NotBefore among matching entries, or the zero time if there is none.
// Callers must hold mu.
func (s *scopeState) take(
	now time.Time,
	filter func(*Entry) bool,
) (taken *Entry, expired []*Entry, nextEligible time.Time) {
	for _, priority := range domain.PrioritiesByRank() {
		band := s.bands[priority]
		for i := 0; i < len(band); {
			e := band[i]
			if filter != nil && !filter(e) {
				i++
				continue
			}
			if e.Expired(now) {
				s.remove(e)
				band = s.bands[priority]
				expired = append(expired, e)
				continue
			}
			if e.NotBefore.After(now) {
				if nextEligible.IsZero() || e.NotBefore.Before(nextEligible) {
					nextEligible = e.NotBefore
				}
				i++
				continue
			}
			s.remove(e)
			return e, expired, time.Time{}
		}
	}
	return nil, expired, nextEligible
}

// purgeExpired removes every entry whose TTL has elapsed at now.
// Callers must hold mu.
func (s *scopeState) purgeExpired(now time.Time) []*Entry {
	var expired []*Entry
	for priority, band := range s.bands {
		kept := band[:0]
		for _, e := range band {
			if e.Expired(now) {
				expired = append(expired, e)
				s.forget(e)
			} else {
				kept = append(kept, e)
			}
		}
		s.bands[priority] = kept
	}
	return expired
}

// depth reports the live entry count, total and per priority.
// Callers must hold mu.
func (s *scopeState) depth() (int, map[domain.TaskPriority]int) {
	byPriority := make(map[domain.TaskPriority]int, len(s.bands))
	total := 0
	for priority, band := range s.bands {
		if len(band) == 0 {
			continue
		}
		byPriority[priority] = len(band)
		total += len(band)
	}
	return total, byPriority
}
