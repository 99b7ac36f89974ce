package store

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ResultStore keeps accepted identifiers and descriptors in arrival order.
type ResultStore struct {
	mu       sync.RWMutex
	ids      []crawler.Identifier
	meta     []crawler.ItemDescriptor
	seenIDs  map[string]struct{}
	seenMeta map[string]struct{}
}

// New returns an empty ResultStore.
func New() *ResultStore {
	return &ResultStore{
		seenIDs:  make(map[string]struct{}),
		seenMeta: make(map[string]struct{}),
	}
}

// PushIdentifier appends id unless the same ID was already pushed.
func (s *ResultStore) PushIdentifier(id crawler.Identifier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushIdentifierLocked(id)
}

// PushMetadata appends d unless a descriptor with the same ID was already pushed.
func (s *ResultStore) PushMetadata(d crawler.ItemDescriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushMetadataLocked(d)
}

// Add pushes both views of an accepted item. It reports false for duplicates.
func (s *ResultStore) Add(d crawler.ItemDescriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seenIDs[d.ID]; dup {
		return false
	}
	s.pushIdentifierLocked(d.Identifier())
	s.pushMetadataLocked(d)
	return true
}

func (s *ResultStore) pushIdentifierLocked(id crawler.Identifier) bool {
	if _, dup := s.seenIDs[id.ID]; dup {
		return false
	}
	s.seenIDs[id.ID] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

func (s *ResultStore) pushMetadataLocked(d crawler.ItemDescriptor) bool {
	if _, dup := s.seenMeta[d.ID]; dup {
		return false
	}
	s.seenMeta[d.ID] = struct{}{}
	s.meta = append(s.meta, d)
	return true
}

// Reset clears both sequences.
func (s *ResultStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = nil
	s.meta = nil
	s.seenIDs = make(map[string]struct{})
	s.seenMeta = make(map[string]struct{})
}

// Len returns the number of accepted identifiers.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Identifiers returns a copy of the identifier sequence.
func (s *ResultStore) Identifiers() []crawler.Identifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Identifier(nil), s.ids...)
}

// Metadata returns a copy of the descriptor sequence.
func (s *ResultStore) Metadata() []crawler.ItemDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.ItemDescriptor, len(s.meta))
	copy(out, s.meta)
	return out
}

// View returns the read view handed to the download layer.
func (s *ResultStore) View(sessionID string) crawler.ResultView {
	return crawler.ResultView{
		SessionID:   sessionID,
		Identifiers: s.Identifiers(),
		Metadata:    s.Metadata(),
	}
}

// Sort reorders both sequences. The sort is stable, so items that compare
// equal keep their fetch order.
func (s *ResultStore) Sort(order crawler.SortOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	less := lessFunc(order)
	if less == nil {
		return
	}
	sort.SliceStable(s.meta, func(i, j int) bool {
		return less(s.meta[i], s.meta[j])
	})
	byID := make(map[string]crawler.ItemDescriptor, len(s.meta))
	for _, d := range s.meta {
		byID[d.ID] = d
	}
	sort.SliceStable(s.ids, func(i, j int) bool {
		a, b := byID[s.ids[i].ID], byID[s.ids[j].ID]
		a.ID, b.ID = s.ids[i].ID, s.ids[j].ID
		return less(a, b)
	})
}

func lessFunc(order crawler.SortOrder) func(a, b crawler.ItemDescriptor) bool {
	switch order {
	case crawler.SortPopularity:
		return func(a, b crawler.ItemDescriptor) bool {
			return a.BookmarkCount > b.BookmarkCount
		}
	case crawler.SortIDDesc:
		return func(a, b crawler.ItemDescriptor) bool {
			return CompareIDs(a.ID, b.ID) > 0
		}
	case crawler.SortIDAsc:
		return func(a, b crawler.ItemDescriptor) bool {
			return CompareIDs(a.ID, b.ID) < 0
		}
	default:
		return nil
	}
}

// CompareIDs orders numeric IDs by value and falls back to string order.
func CompareIDs(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
