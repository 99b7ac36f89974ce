package filter

import (
	"time"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Criteria is the slice of an item the stages inspect.
type Criteria struct {
	ID                 string
	Kind               crawler.WorkKind
	PageCount          int
	Width              int
	Height             int
	Tags               []string
	CreatedAt          time.Time
	Rating             crawler.Rating
	AIType             crawler.AIType
	BookmarkCount      int
	BookmarkCountKnown bool
	Bookmarked         bool
	UserID             string
}

// CriteriaFromItem builds Criteria from a descriptor. Dimensions only apply to
// single-page images; everything else carries the 0x0 not-applicable sentinel.
func CriteriaFromItem(d crawler.ItemDescriptor) Criteria {
	c := Criteria{
		ID:                 d.ID,
		Kind:               d.Kind,
		PageCount:          d.PageCount,
		Tags:               d.Tags,
		CreatedAt:          d.CreatedAt,
		Rating:             d.Rating,
		AIType:             d.AIType,
		BookmarkCount:      d.BookmarkCount,
		BookmarkCountKnown: d.BookmarkCountKnown,
		Bookmarked:         d.Bookmarked,
		UserID:             d.UserID,
	}
	if d.Kind == crawler.KindImageSingle && d.PageCount <= 1 {
		c.Width = d.Width
		c.Height = d.Height
	}
	return c
}
