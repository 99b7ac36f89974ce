package crawler

import (
	"time"
)

// WorkKind classifies a listing entry.
type WorkKind string

// Supported work kinds.
const (
	KindImageSingle WorkKind = "image-single"
	KindImageMulti  WorkKind = "image-multi"
	KindAnimation   WorkKind = "animation"
	KindText        WorkKind = "text"
)

// Valid reports whether k is one of the known kinds.
func (k WorkKind) Valid() bool {
	switch k {
	case KindImageSingle, KindImageMulti, KindAnimation, KindText:
		return true
	default:
		return false
	}
}

// PublicType maps a kind to the classification handed to downstream consumers.
func (k WorkKind) PublicType() string {
	switch k {
	case KindAnimation:
		return "ugoira"
	case KindText:
		return "novels"
	default:
		return "illusts"
	}
}

// Rating is the content-rating flag of an item.
type Rating int

// Content ratings, ordered from least to most restricted.
const (
	RatingGeneral Rating = iota
	RatingR18
	RatingR18G
)

// AIType reports whether an item is declared as AI generated.
type AIType int

// AI generation flags.
const (
	AIUnknown AIType = iota
	AIHuman
	AIGenerated
)

// ItemDescriptor is the normalized view of one listing entry.
type ItemDescriptor struct {
	ID                 string    `json:"id"`
	Kind               WorkKind  `json:"kind"`
	PageCount          int       `json:"page_count"`
	Width              int       `json:"width"`
	Height             int       `json:"height"`
	Tags               []string  `json:"tags,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	Rating             Rating    `json:"rating"`
	AIType             AIType    `json:"ai_type"`
	BookmarkCount      int       `json:"bookmark_count"`
	BookmarkCountKnown bool      `json:"bookmark_count_known"`
	Bookmarked         bool      `json:"bookmarked"`
	UserID             string    `json:"user_id"`
	Title              string    `json:"title,omitempty"`
}

// Identifier returns the kind/id pair for the descriptor.
func (d ItemDescriptor) Identifier() Identifier {
	return Identifier{Type: d.Kind.PublicType(), Kind: d.Kind, ID: d.ID}
}

// RawItem is one entry of a page exactly as the source returned it.
type RawItem struct {
	ID          string
	Kind        WorkKind
	Placeholder bool
	Payload     any
}

// PageRequest asks a source for one listing page.
type PageRequest struct {
	// Page is 1-based and strictly increasing within a session.
	Page int
	// Probe marks the page-count probe; its items are never evaluated.
	Probe bool
	// Params is opaque to the engine.
	Params map[string]string
}

// PageResult is one fetched listing page.
type PageResult struct {
	Total int
	Items []RawItem
	// End marks the last page for sources that do not report a total.
	End bool
}

// Identifier is the compact result entry handed to the download layer.
type Identifier struct {
	Type string   `json:"type"`
	Kind WorkKind `json:"kind"`
	ID   string   `json:"id"`
}

// SortOrder is the final ordering applied to a finished result set.
type SortOrder string

// Supported sort orders.
const (
	SortNone       SortOrder = "none"
	SortPopularity SortOrder = "popularity"
	SortIDDesc     SortOrder = "id_desc"
	SortIDAsc      SortOrder = "id_asc"
)

// BudgetUnit selects what the requested count limits.
type BudgetUnit string

// Supported budget units.
const (
	BudgetPages BudgetUnit = "pages"
	BudgetItems BudgetUnit = "items"
)

// Unbounded is the requested-count sentinel meaning "all pages".
const Unbounded = -1

// DefaultBudget asks the worker to substitute the source's configured budget.
// It never reaches the engine.
const DefaultBudget = -2

// SourceInfo describes a PageSource to the engine.
type SourceInfo struct {
	Name         string
	ItemsPerPage int
	ReportsTotal bool
	SortOrder    SortOrder
	BudgetUnit   BudgetUnit
}

// Outcome is the terminal state of a session.
type Outcome string

// Session outcomes.
const (
	OutcomeNone       Outcome = ""
	OutcomeCompleted  Outcome = "completed"
	OutcomeStopped    Outcome = "stopped"
	OutcomeEmpty      Outcome = "empty"
	OutcomeOutOfRange Outcome = "out_of_range"
	OutcomeNoPages    Outcome = "no_pages"
	OutcomeError      Outcome = "error"
)

// Terminal reports whether the outcome ends a session.
func (o Outcome) Terminal() bool {
	return o != OutcomeNone
}

// SessionStatus tracks a session record through the service.
type SessionStatus string

// Session statuses.
const (
	StatusQueued  SessionStatus = "queued"
	StatusRunning SessionStatus = "running"
	StatusDone    SessionStatus = "done"
	StatusFailed  SessionStatus = "failed"
)

// SessionRequest is a crawl trigger as submitted by a client.
type SessionRequest struct {
	Source    string            `json:"source"`
	StartPage int               `json:"start_page"`
	Requested int               `json:"requested"`
	Params    map[string]string `json:"params,omitempty"`
}

// SessionCounters mirrors the engine's per-session counters.
type SessionCounters struct {
	PagesRequested   int `json:"pages_requested"`
	PagesCompleted   int `json:"pages_completed"`
	ItemsAccepted    int `json:"items_accepted"`
	ItemsScanned     int `json:"items_scanned"`
	WantedPageCount  int `json:"wanted_page_count"`
	EffectivePageCap int `json:"effective_page_cap"`
	PageCount        int `json:"page_count"`
	Total            int `json:"total"`
}

// SessionRecord is the service-level view of a session.
type SessionRecord struct {
	ID        string          `json:"id"`
	Request   SessionRequest  `json:"request"`
	Status    SessionStatus   `json:"status"`
	Outcome   Outcome         `json:"outcome,omitempty"`
	ErrorText string          `json:"error,omitempty"`
	Counters  SessionCounters `json:"counters"`
	Submitted time.Time       `json:"submitted"`
	Started   *time.Time      `json:"started,omitempty"`
	Finished  *time.Time      `json:"finished,omitempty"`
}

// ResultView is the read view of a session's accepted items.
type ResultView struct {
	SessionID   string           `json:"session_id"`
	Identifiers []Identifier     `json:"identifiers"`
	Metadata    []ItemDescriptor `json:"metadata"`
}

// QueueItem wraps a session ready to run.
type QueueItem struct {
	SessionID string
	Request   SessionRequest
	Submitted int64
}

// FetchRequest is a single transport-level GET.
type FetchRequest struct {
	URL     string
	Headers map[string][]string
}

// FetchResponse carries the transport-level result of a FetchRequest.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	Duration   time.Duration
}

// CompletionEvent is published once a session reaches a terminal outcome and
// its hand-off finished.
type CompletionEvent struct {
	SessionID   string          `json:"session_id"`
	Source      string          `json:"source"`
	Outcome     Outcome         `json:"outcome"`
	Counters    SessionCounters `json:"counters"`
	Identifiers []Identifier    `json:"identifiers"`
	ManifestURI string          `json:"manifest_uri,omitempty"`
	// ManifestDigest fingerprints the manifest bytes at ManifestURI.
	ManifestDigest string    `json:"manifest_digest,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}
