// Package chunker splits documents into bounded, contiguous page ranges.
package chunker

import (
	"fmt"
	"log/slog"
)

const (
	// DefaultMaxPagesPerChunk replaces invalid (<1) chunk sizes.
	DefaultMaxPagesPerChunk = 10
	// LargeChunkWarning is the chunk size above which a performance warning is logged.
	LargeChunkWarning = 50
	// MaxChunks bounds how many chunks one document is split into.
	MaxChunks = 50
	// SentinelKey is the aggregation key of a document processed as a single chunk.
	SentinelKey = "pages_1-all"
)

// Range is a 1-indexed inclusive page range.
type Range struct {
	Start int
	End   int
}

// Key returns the page-range aggregation key, e.g. "pages_1-10".
func (r Range) Key() string {
	return fmt.Sprintf("pages_%d-%d", r.Start, r.End)
}

// Pages returns the number of pages in r.
func (r Range) Pages() int {
	return r.End - r.Start + 1
}

// Selection returns r in pdfcpu page-selection syntax.
func (r Range) Selection() string {
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Plan is the chunk layout for one document.
type Plan struct {
	PageCount        int
	MaxPagesPerChunk int
	Ranges           []Range
}

// Single reports whether the document is processed as one chunk.
func (p Plan) Single() bool {
	return len(p.Ranges) == 1
}

// Key returns the aggregation key for chunk i. Single-chunk plans use SentinelKey.
func (p Plan) Key(i int) string {
	if p.Single() {
		return SentinelKey
	}
	return p.Ranges[i].Key()
}

// NewPlan computes the chunk layout for pageCount pages with at most maxPages pages per chunk.
// The ranges are contiguous, do not overlap, and cover [1, pageCount]. If ceil(pageCount/maxPages)
// would exceed MaxChunks, the chunk size is widened so the count stays within the bound.
func NewPlan(pageCount, maxPages int) Plan {
	if maxPages < 1 {
		slog.Warn("Invalid max pages per chunk, using default.", "maxPagesPerChunk", maxPages, "default", DefaultMaxPagesPerChunk)
		maxPages = DefaultMaxPagesPerChunk
	}
	if maxPages > LargeChunkWarning {
		slog.Warn("Large chunk size may degrade extraction quality and latency.", "maxPagesPerChunk", maxPages)
	}

	if pageCount <= maxPages {
		end := pageCount
		if end < 1 {
			end = 1
		}
		return Plan{PageCount: pageCount, MaxPagesPerChunk: maxPages, Ranges: []Range{{Start: 1, End: end}}}
	}

	size := maxPages
	if ceilDiv(pageCount, size) > MaxChunks {
		size = ceilDiv(pageCount, MaxChunks)
		slog.Warn("Chunk count exceeds limit, widening chunks.", "pageCount", pageCount, "requested", maxPages, "effective", size)
	}

	ranges := make([]Range, 0, ceilDiv(pageCount, size))
	for start := 1; start <= pageCount; start += size {
		end := start + size - 1
		if end > pageCount {
			end = pageCount
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return Plan{PageCount: pageCount, MaxPagesPerChunk: size, Ranges: ranges}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
