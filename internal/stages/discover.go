package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/markdown"
)

// DiscoverReport summarizes one link-discovery pass.
type DiscoverReport struct {
	PageIDs []string `json:"page_ids"`
	New     int      `json:"new"`
	Known   int      `json:"known"`
}

// DiscoverLinks fetches the seed URLs, extracts same-host links and registers
// each as a SourcePage for the entity. Upserts are keyed on the normalized
// URL, so repeated discovery never duplicates pages. When seedURLs is empty
// the entity's canonical (and about) URLs are used.
func (p *Pipeline) DiscoverLinks(ctx context.Context, entity core.SourceEntity, seedURLs []string, limit int) (DiscoverReport, error) {
	if limit <= 0 || limit > p.cfg.DiscoverLimit {
		limit = p.cfg.DiscoverLimit
	}
	if len(seedURLs) == 0 {
		seedURLs = []string{entity.CanonicalURL}
		if entity.AboutURL != "" {
			seedURLs = append(seedURLs, entity.AboutURL)
		}
	}

	var report DiscoverReport
	seen := make(map[string]struct{})
	for _, seed := range seedURLs {
		resp, err := p.fetch(ctx, seed)
		if err != nil {
			// One unreachable seed does not sink discovery for the rest,
			// but an entity with no reachable seed at all fails below.
			p.logger.Warn("seed fetch failed", zap.String("url", seed), zap.Error(err))
			continue
		}
		links, err := markdown.Links(resp.Body, resp.URL)
		if err != nil {
			p.logger.Warn("link extraction failed", zap.String("url", seed), zap.Error(err))
			continue
		}
		// The seed itself is a page too.
		links = append([]string{seed}, links...)
		for _, link := range links {
			if len(report.PageIDs) >= limit {
				break
			}
			normalized, err := core.NormalizeURL(link)
			if err != nil {
				continue
			}
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}

			page, known, err := p.registerPage(ctx, entity.ID, link, normalized)
			if err != nil {
				return DiscoverReport{}, err
			}
			report.PageIDs = append(report.PageIDs, page.ID)
			if known {
				report.Known++
			} else {
				report.New++
			}
		}
	}

	if len(report.PageIDs) == 0 {
		return DiscoverReport{}, fmt.Errorf("no pages discovered for entity %s", entity.ID)
	}
	p.logger.Info("links discovered",
		zap.String("source_id", entity.ID),
		zap.Int("new", report.New),
		zap.Int("known", report.Known),
	)
	return report, nil
}

// registerPage upserts a page row, queueing it for fetch on first sight.
func (p *Pipeline) registerPage(ctx context.Context, sourceID, url, normalized string) (core.SourcePage, bool, error) {
	if existing, err := p.store.GetPageByNormalizedURL(ctx, normalized); err == nil {
		return existing, true, nil
	}
	id, err := p.idGen.NewID()
	if err != nil {
		return core.SourcePage{}, false, fmt.Errorf("generate page id: %w", err)
	}
	page := core.SourcePage{
		ID:            id,
		SourceID:      sourceID,
		URL:           url,
		NormalizedURL: normalized,
		FetchStatus:   core.FetchQueued,
	}
	stored, err := p.store.UpsertPage(ctx, page)
	if err != nil {
		return core.SourcePage{}, false, fmt.Errorf("upsert page %s: %w", normalized, err)
	}
	return stored, false, nil
}
