// Package sourcetest provides an in-memory crawler.PageSource for tests.
package sourcetest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Source serves fixed descriptors in pages of PerPage.
type Source struct {
	Name         string
	PerPage      int
	ReportsTotal bool
	Sort         crawler.SortOrder
	Items        []crawler.ItemDescriptor

	mu      sync.Mutex
	fetches []int
}

// New builds a Source of n single-page images with ascending numeric IDs
// owned by users "u0".."u2".
func New(name string, perPage, n int) *Source {
	items := make([]crawler.ItemDescriptor, n)
	for i := range items {
		items[i] = crawler.ItemDescriptor{
			ID:        strconv.Itoa(i + 1),
			Kind:      crawler.KindImageSingle,
			PageCount: 1,
			Width:     100,
			Height:    100,
			UserID:    "u" + strconv.Itoa(i%3),
		}
	}
	return &Source{Name: name, PerPage: perPage, ReportsTotal: true, Sort: crawler.SortNone, Items: items}
}

// Info implements crawler.PageSource.
func (s *Source) Info() crawler.SourceInfo {
	return crawler.SourceInfo{
		Name:         s.Name,
		ItemsPerPage: s.PerPage,
		ReportsTotal: s.ReportsTotal,
		SortOrder:    s.Sort,
		BudgetUnit:   crawler.BudgetPages,
	}
}

// FetchPage implements crawler.PageSource.
func (s *Source) FetchPage(ctx context.Context, req crawler.PageRequest) (crawler.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return crawler.PageResult{}, err
	}
	s.mu.Lock()
	s.fetches = append(s.fetches, req.Page)
	s.mu.Unlock()

	from := (req.Page - 1) * s.PerPage
	to := min(from+s.PerPage, len(s.Items))
	res := crawler.PageResult{End: to >= len(s.Items)}
	if s.ReportsTotal {
		res.Total = len(s.Items)
	}
	for i := from; i < to; i++ {
		d := s.Items[i]
		res.Items = append(res.Items, crawler.RawItem{ID: d.ID, Kind: d.Kind, Payload: d})
	}
	return res, nil
}

// Describe implements crawler.PageSource.
func (s *Source) Describe(item crawler.RawItem) (crawler.ItemDescriptor, error) {
	d, ok := item.Payload.(crawler.ItemDescriptor)
	if !ok {
		return crawler.ItemDescriptor{}, errors.New("sourcetest: unexpected payload")
	}
	return d, nil
}

// Fetches returns the pages requested so far, probes included.
func (s *Source) Fetches() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.fetches...)
}
