package slottable

import (
	"sync"
	"time"

	"github.com/streamcore/shuffle/internal/collab"
)

// TimerService implements collab.TimerService with stdlib time.AfterFunc,
// wrapped in the (key, ticket) invalidation scheme spec §4.7 describes: a
// re-arm for an already-armed key bumps the ticket, so a late callback
// bearing the superseded ticket is recognized as stale and dropped rather
// than acted upon.
type TimerService struct {
	mu       sync.Mutex
	tickets  map[string]uint64
	timers   map[string]*time.Timer
	nextID   uint64
	listener collab.TimeoutListener
	stopped  bool
}

// NewTimerService creates an idle TimerService; Start must be called
// before any registered timeout can actually fire a notification.
func NewTimerService() *TimerService {
	return &TimerService{
		tickets: make(map[string]uint64),
		timers:  make(map[string]*time.Timer),
	}
}

// Start begins delivering fired timeouts to listener.
func (s *TimerService) Start(listener collab.TimeoutListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// RegisterTimeout arms a timeout for key, superseding any previous
// registration for the same key.
func (s *TimerService) RegisterTimeout(key string, duration time.Duration) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[key]; ok {
		old.Stop()
	}

	s.nextID++
	ticket := s.nextID
	s.tickets[key] = ticket

	s.timers[key] = time.AfterFunc(duration, func() { s.fire(key, ticket) })
	return ticket, nil
}

func (s *TimerService) fire(key string, ticket uint64) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	current, ok := s.tickets[key]
	listener := s.listener
	s.mu.Unlock()

	if !ok || current != ticket {
		return // superseded by a later re-arm, or already unregistered
	}
	if listener != nil {
		listener.NotifyTimeout(key, ticket)
	}
}

// UnregisterTimeout cancels any pending timeout for key.
func (s *TimerService) UnregisterTimeout(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	delete(s.tickets, key)
}

// IsValid reports whether ticket is still the live ticket for key.
func (s *TimerService) IsValid(key string, ticket uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[key]
	return ok && current == ticket
}

// Stop halts the timer service: every pending timer is cancelled and no
// further timeouts will fire.
func (s *TimerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[string]*time.Timer)
	s.tickets = make(map[string]uint64)
}

var _ collab.TimerService = (*TimerService)(nil)
