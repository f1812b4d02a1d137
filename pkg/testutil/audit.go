package testutil

import (
	"context"
	"sync"

	"github.com/atlasworks/convoy/pkg/audit"
)

// CapturingSink records audit entries in memory for assertions.
type CapturingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

// NewCapturingSink creates an empty capturing sink.
func NewCapturingSink() *CapturingSink {
	return &CapturingSink{}
}

func (s *CapturingSink) Record(_ context.Context, entry audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
}

// Entries returns a copy of everything recorded so far.
func (s *CapturingSink) Entries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]audit.Entry(nil), s.entries...)
}

// Actions returns the recorded action names in order.
func (s *CapturingSink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions := make([]string, len(s.entries))
	for i, entry := range s.entries {
		actions[i] = entry.Action
	}

	return actions
}
