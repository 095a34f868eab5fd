// Package recrawl decides when a source entity's pages are stale enough to
// fetch again. TTLs are classification-aware: event listings churn in hours,
// artist rosters in days, venue info in months.
package recrawl

import (
	"time"

	"github.com/artatlas/venue-crawler/internal/core"
)

// Default TTLs per classification.
const (
	EventTTL           = 6 * time.Hour
	ArtistsTTL         = 7 * 24 * time.Hour
	CreatorInfoTTL     = 30 * 24 * time.Hour
	HistoricalEventTTL = 90 * 24 * time.Hour
	DefaultTTL         = 7 * 24 * time.Hour
)

// Policy evaluates page staleness. The zero value is not usable; use New.
type Policy struct {
	ttls       map[core.Classification]time.Duration
	defaultTTL time.Duration
}

// New returns a Policy with the default TTL table. Overrides replace the
// TTL for the given classifications.
func New(overrides map[core.Classification]time.Duration) *Policy {
	ttls := map[core.Classification]time.Duration{
		core.ClassEvent:           EventTTL,
		core.ClassMultipleEvents:  EventTTL,
		core.ClassArtists:         ArtistsTTL,
		core.ClassCreatorInfo:     CreatorInfoTTL,
		core.ClassHistoricalEvent: HistoricalEventTTL,
	}
	for class, ttl := range overrides {
		ttls[class] = ttl
	}
	return &Policy{ttls: ttls, defaultTTL: DefaultTTL}
}

// TTL returns the recrawl TTL for a classification. Unclassified and
// unrecognized classifications fall back to the default.
func (p *Policy) TTL(class core.Classification) time.Duration {
	if ttl, ok := p.ttls[class]; ok {
		return ttl
	}
	return p.defaultTTL
}

// IsDue reports whether a single page is past its TTL at the given time.
// A page never scraped is always due.
func (p *Policy) IsDue(page core.SourcePage, now time.Time) bool {
	if page.ScrapedAt == nil {
		return true
	}
	return now.Sub(*page.ScrapedAt) > p.TTL(page.Classification)
}

// AnyDue reports whether the entity as a whole is due: true when it has no
// pages at all, or at least one page is due.
func (p *Policy) AnyDue(pages []core.SourcePage, now time.Time) bool {
	if len(pages) == 0 {
		return true
	}
	for _, page := range pages {
		if p.IsDue(page, now) {
			return true
		}
	}
	return false
}
