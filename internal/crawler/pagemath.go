package crawler

// Platform page ceilings by account tier.
const (
	DefaultStandardPageCap = 1000
	DefaultElevatedPageCap = 5000
)

// PageBounds is the result of resolving a session's fetchable page range.
type PageBounds struct {
	// PageCount is the number of listing pages after capping.
	PageCount int
	// Capped is set when the raw page count exceeded the tier ceiling.
	Capped bool
	// Wanted is the number of pages the session will fetch.
	Wanted int
	// OutOfRange is set when the start page lies beyond PageCount.
	OutOfRange bool
}

// PageCount returns ceil(total/itemsPerPage). It is 0 for empty or invalid input.
func PageCount(total, itemsPerPage int) int {
	if total <= 0 || itemsPerPage <= 0 {
		return 0
	}
	return (total + itemsPerPage - 1) / itemsPerPage
}

// ResolveBounds clamps the reported total to the tier cap and computes how many
// pages starting at startPage should be fetched. requested may be Unbounded.
func ResolveBounds(total, itemsPerPage, pageCap, startPage, requested int) PageBounds {
	var b PageBounds
	b.PageCount = PageCount(total, itemsPerPage)
	if pageCap > 0 && b.PageCount > pageCap {
		b.PageCount = pageCap
		b.Capped = true
	}
	if startPage < 1 {
		startPage = 1
	}
	if startPage > b.PageCount {
		b.OutOfRange = true
		return b
	}
	remaining := b.PageCount - startPage + 1
	b.Wanted = remaining
	if requested != Unbounded && requested < remaining {
		b.Wanted = max(requested, 0)
	}
	return b
}
