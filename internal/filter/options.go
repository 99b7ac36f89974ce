package filter

import (
	"fmt"
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// AIMode selects how the AI-generation stage treats items.
type AIMode string

// Supported AI modes.
const (
	AIAny     AIMode = "any"
	AIExclude AIMode = "exclude"
	AIOnly    AIMode = "only"
)

// TagMode selects how tag patterns are matched.
type TagMode string

// Supported tag match modes.
const (
	TagExact     TagMode = "exact"
	TagSubstring TagMode = "substring"
)

// Options configures every stage. Zero values disable a stage.
type Options struct {
	Rating            RatingOptions    `mapstructure:"rating" json:"rating"`
	AIMode            AIMode           `mapstructure:"ai_mode" json:"ai_mode"`
	Dimensions        DimensionOptions `mapstructure:"dimensions" json:"dimensions"`
	Tags              TagOptions       `mapstructure:"tags" json:"tags"`
	MinBookmarks      int              `mapstructure:"min_bookmarks" json:"min_bookmarks"`
	ExcludeBookmarked bool             `mapstructure:"exclude_bookmarked" json:"exclude_bookmarked"`
	Date              DateOptions      `mapstructure:"date" json:"date"`
	Users             UserOptions      `mapstructure:"users" json:"users"`
	Kinds             []string         `mapstructure:"kinds" json:"kinds"`
	BlockList         bool             `mapstructure:"block_list" json:"block_list"`
}

// RatingOptions bounds the content rating; nil pointers leave a side open.
type RatingOptions struct {
	Min *int `mapstructure:"min" json:"min,omitempty"`
	Max *int `mapstructure:"max" json:"max,omitempty"`
}

// DimensionOptions bounds width and height of single-page images.
type DimensionOptions struct {
	MinWidth  int `mapstructure:"min_width" json:"min_width"`
	MinHeight int `mapstructure:"min_height" json:"min_height"`
	MaxWidth  int `mapstructure:"max_width" json:"max_width"`
	MaxHeight int `mapstructure:"max_height" json:"max_height"`
}

// TagOptions holds the allow and deny patterns.
type TagOptions struct {
	Allow      []string `mapstructure:"allow" json:"allow"`
	Deny       []string `mapstructure:"deny" json:"deny"`
	Mode       TagMode  `mapstructure:"mode" json:"mode"`
	RequireAll bool     `mapstructure:"require_all" json:"require_all"`
}

// DateOptions bounds the creation timestamp.
type DateOptions struct {
	From time.Time `mapstructure:"from" json:"from"`
	To   time.Time `mapstructure:"to" json:"to"`
}

// UserOptions holds owner allow and deny lists.
type UserOptions struct {
	Allow []string `mapstructure:"allow" json:"allow"`
	Deny  []string `mapstructure:"deny" json:"deny"`
}

// Validate rejects contradictory settings.
func (o Options) Validate() error {
	if o.Rating.Min != nil && o.Rating.Max != nil && *o.Rating.Min > *o.Rating.Max {
		return fmt.Errorf("filter.rating.min %d exceeds max %d", *o.Rating.Min, *o.Rating.Max)
	}
	switch o.AIMode {
	case "", AIAny, AIExclude, AIOnly:
	default:
		return fmt.Errorf("unknown filter.ai_mode %q", o.AIMode)
	}
	switch o.Tags.Mode {
	case "", TagExact, TagSubstring:
	default:
		return fmt.Errorf("unknown filter.tags.mode %q", o.Tags.Mode)
	}
	d := o.Dimensions
	if d.MaxWidth > 0 && d.MinWidth > d.MaxWidth {
		return fmt.Errorf("filter.dimensions.min_width %d exceeds max_width %d", d.MinWidth, d.MaxWidth)
	}
	if d.MaxHeight > 0 && d.MinHeight > d.MaxHeight {
		return fmt.Errorf("filter.dimensions.min_height %d exceeds max_height %d", d.MinHeight, d.MaxHeight)
	}
	if o.MinBookmarks < 0 {
		return fmt.Errorf("filter.min_bookmarks must be >= 0")
	}
	if !o.Date.From.IsZero() && !o.Date.To.IsZero() && o.Date.From.After(o.Date.To) {
		return fmt.Errorf("filter.date.from is after filter.date.to")
	}
	for _, k := range o.Kinds {
		if !crawler.WorkKind(k).Valid() {
			return fmt.Errorf("unknown work kind %q in filter.kinds", k)
		}
	}
	return nil
}
