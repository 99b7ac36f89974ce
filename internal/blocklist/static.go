// Package blocklist answers "is this user blocked" for the filter pipeline's
// last stage, from a static configured list or a Redis set.
package blocklist

import (
	"context"
	"strings"
)

// Static is an in-memory block list built from configuration.
type Static struct {
	users map[string]struct{}
}

// NewStatic normalizes ids (trimmed, empty entries dropped).
func NewStatic(ids []string) *Static {
	s := &Static{users: make(map[string]struct{}, len(ids))}
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		s.users[id] = struct{}{}
	}
	return s
}

// IsBlocked implements crawler.BlockList.
func (s *Static) IsBlocked(_ context.Context, userID string) (bool, error) {
	if s == nil {
		return false, nil
	}
	_, blocked := s.users[strings.TrimSpace(userID)]
	return blocked, nil
}

// Len reports the number of blocked users.
func (s *Static) Len() int {
	if s == nil {
		return 0
	}
	return len(s.users)
}
