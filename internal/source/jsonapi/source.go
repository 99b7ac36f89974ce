// Package jsonapi adapts JSON listing endpoints to crawler.PageSource.
//
// A list endpoint answers GET <list_url>?p=<page>&<params> with
//
//	{"total": 950, "end": false, "items": [{"id": "123", "kind": "image-single", ...}]}
//
// and an optional item endpoint (item_url with an {id} placeholder) answers
// {"bookmark_count": 812} for termination sampling.
package jsonapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// ErrMalformed marks responses that could not be decoded.
var ErrMalformed = errors.New("jsonapi: malformed response")

// Config describes one listing endpoint.
type Config struct {
	Name         string
	ListURL      string
	ItemURL      string
	ItemsPerPage int
	ReportsTotal bool
	SortOrder    crawler.SortOrder
	BudgetUnit   crawler.BudgetUnit
	Headers      map[string][]string
}

// Source implements crawler.PageSource and crawler.PopularityLookup.
type Source struct {
	cfg     Config
	listURL *url.URL
	fetcher crawler.Fetcher
	logger  *zap.Logger
}

type listResponse struct {
	Total int        `json:"total"`
	End   bool       `json:"end"`
	Items []wireItem `json:"items"`
}

type wireItem struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Ad            bool     `json:"ad"`
	PageCount     int      `json:"page_count"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	Tags          []string `json:"tags"`
	CreatedAt     string   `json:"created_at"`
	Rating        int      `json:"rating"`
	AIType        int      `json:"ai_type"`
	BookmarkCount *int     `json:"bookmark_count"`
	Bookmarked    bool     `json:"bookmarked"`
	UserID        string   `json:"user_id"`
	Title         string   `json:"title"`
}

type itemResponse struct {
	BookmarkCount *int `json:"bookmark_count"`
}

// New validates cfg and builds a Source.
func New(cfg Config, fetcher crawler.Fetcher, logger *zap.Logger) (*Source, error) {
	if fetcher == nil {
		return nil, errors.New("jsonapi: fetcher is required")
	}
	if cfg.Name == "" {
		return nil, errors.New("jsonapi: name is required")
	}
	listURL, err := url.Parse(cfg.ListURL)
	if err != nil || listURL.Scheme == "" || listURL.Host == "" {
		return nil, fmt.Errorf("jsonapi: invalid list url %q", cfg.ListURL)
	}
	if cfg.ReportsTotal && cfg.ItemsPerPage <= 0 {
		return nil, fmt.Errorf("jsonapi: %s reports a total but has no items per page", cfg.Name)
	}
	if cfg.SortOrder == "" {
		cfg.SortOrder = crawler.SortNone
	}
	if cfg.BudgetUnit == "" {
		cfg.BudgetUnit = crawler.BudgetPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, listURL: listURL, fetcher: fetcher, logger: logger}, nil
}

// Info implements crawler.PageSource.
func (s *Source) Info() crawler.SourceInfo {
	return crawler.SourceInfo{
		Name:         s.cfg.Name,
		ItemsPerPage: s.cfg.ItemsPerPage,
		ReportsTotal: s.cfg.ReportsTotal,
		SortOrder:    s.cfg.SortOrder,
		BudgetUnit:   s.cfg.BudgetUnit,
	}
}

// FetchPage implements crawler.PageSource.
func (s *Source) FetchPage(ctx context.Context, req crawler.PageRequest) (crawler.PageResult, error) {
	target := s.pageURL(req)
	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: target, Headers: s.cfg.Headers})
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("fetch %s page %d: %w", s.cfg.Name, req.Page, err)
	}
	var body listResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return crawler.PageResult{}, fmt.Errorf("%w: %s page %d: %v", ErrMalformed, s.cfg.Name, req.Page, err)
	}
	items := make([]crawler.RawItem, 0, len(body.Items))
	for _, item := range body.Items {
		items = append(items, crawler.RawItem{
			ID:          item.ID,
			Kind:        crawler.WorkKind(item.Kind),
			Placeholder: item.Ad || item.ID == "",
			Payload:     item,
		})
	}
	s.logger.Debug("listing page fetched",
		zap.String("source", s.cfg.Name),
		zap.Int("page", req.Page),
		zap.Bool("probe", req.Probe),
		zap.Int("total", body.Total),
		zap.Int("items", len(items)),
		zap.Duration("dur", resp.Duration),
	)
	return crawler.PageResult{Total: body.Total, Items: items, End: body.End}, nil
}

func (s *Source) pageURL(req crawler.PageRequest) string {
	u := *s.listURL
	q := u.Query()
	for k, v := range req.Params {
		q.Set(k, v)
	}
	q.Set("p", strconv.Itoa(req.Page))
	u.RawQuery = q.Encode()
	return u.String()
}

// Describe implements crawler.PageSource.
func (s *Source) Describe(raw crawler.RawItem) (crawler.ItemDescriptor, error) {
	item, ok := raw.Payload.(wireItem)
	if !ok {
		return crawler.ItemDescriptor{}, fmt.Errorf("%w: unexpected payload %T", ErrMalformed, raw.Payload)
	}
	kind := crawler.WorkKind(item.Kind)
	if !kind.Valid() {
		return crawler.ItemDescriptor{}, fmt.Errorf("%w: item %s has unknown kind %q", ErrMalformed, item.ID, item.Kind)
	}
	d := crawler.ItemDescriptor{
		ID:         item.ID,
		Kind:       kind,
		PageCount:  item.PageCount,
		Width:      item.Width,
		Height:     item.Height,
		Tags:       item.Tags,
		Rating:     crawler.Rating(item.Rating),
		AIType:     crawler.AIType(item.AIType),
		Bookmarked: item.Bookmarked,
		UserID:     item.UserID,
		Title:      item.Title,
	}
	if item.BookmarkCount != nil {
		d.BookmarkCount = *item.BookmarkCount
		d.BookmarkCountKnown = true
	}
	if item.CreatedAt != "" {
		created, err := time.Parse(time.RFC3339, item.CreatedAt)
		if err != nil {
			return crawler.ItemDescriptor{}, fmt.Errorf("%w: item %s created_at: %v", ErrMalformed, item.ID, err)
		}
		d.CreatedAt = created
	}
	return d, nil
}

// BookmarkCount implements crawler.PopularityLookup against the item endpoint.
func (s *Source) BookmarkCount(ctx context.Context, id string, kind crawler.WorkKind) (int, error) {
	if s.cfg.ItemURL == "" {
		return 0, fmt.Errorf("jsonapi: %s has no item url", s.cfg.Name)
	}
	target := strings.ReplaceAll(s.cfg.ItemURL, "{id}", url.PathEscape(id))
	if kind != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "kind=" + url.QueryEscape(string(kind))
	}
	resp, err := s.fetcher.Fetch(ctx, crawler.FetchRequest{URL: target, Headers: s.cfg.Headers})
	if err != nil {
		return 0, fmt.Errorf("fetch item %s: %w", id, err)
	}
	var body itemResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return 0, fmt.Errorf("%w: item %s: %v", ErrMalformed, id, err)
	}
	if body.BookmarkCount == nil {
		return 0, fmt.Errorf("%w: item %s has no bookmark_count", ErrMalformed, id)
	}
	return *body.BookmarkCount, nil
}
