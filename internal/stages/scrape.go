package stages

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/markdown"
	"github.com/artatlas/venue-crawler/internal/metrics"
)

// ScrapeReport summarizes one scrape batch.
type ScrapeReport struct {
	Scraped []string `json:"scraped"`
	Failed  []string `json:"failed,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
}

// ScrapePages fetches page content and stores the markdown rendition,
// advancing each page's fetch status. Pages run in parallel up to the batch
// concurrency limit; a failed page is recorded and does not abort the batch.
func (p *Pipeline) ScrapePages(ctx context.Context, pageIDs []string) (ScrapeReport, error) {
	var mu sync.Mutex
	var report ScrapeReport

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.BatchConcurrency)
	for _, pageID := range pageIDs {
		g.Go(func() error {
			outcome := p.scrapeOne(gctx, pageID)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case core.FetchOK:
				report.Scraped = append(report.Scraped, pageID)
			case core.FetchError:
				report.Failed = append(report.Failed, pageID)
			default:
				report.Skipped = append(report.Skipped, pageID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScrapeReport{}, err
	}
	return report, nil
}

// scrapeOne fetches and converts a single page, returning the final fetch
// status. Item-local failures are persisted on the page, not returned.
func (p *Pipeline) scrapeOne(ctx context.Context, pageID string) core.FetchStatus {
	page, err := p.store.GetPage(ctx, pageID)
	if err != nil {
		p.logger.Warn("scrape of unknown page skipped", zap.String("page_id", pageID), zap.Error(err))
		metrics.PageScraped("skipped")
		return core.FetchSkipped
	}

	page.FetchStatus = core.FetchFetching
	if page, err = p.store.UpsertPage(ctx, page); err != nil {
		p.logger.Error("mark page fetching", zap.String("page_id", pageID), zap.Error(err))
		metrics.PageScraped("error")
		return core.FetchError
	}

	resp, fetchErr := p.fetch(ctx, page.URL)
	if fetchErr == nil {
		var md string
		md, fetchErr = markdown.FromHTML(resp.Body, resp.URL)
		if fetchErr == nil {
			now := p.clock.Now()
			page.Markdown = md
			page.ScrapedAt = &now
			page.FetchStatus = core.FetchOK
		}
	}
	if fetchErr != nil {
		page.FetchStatus = core.FetchError
		p.logger.Warn("page scrape failed",
			zap.String("page_id", pageID),
			zap.String("url", page.URL),
			zap.Error(fetchErr),
		)
	}

	if _, err := p.store.UpsertPage(ctx, page); err != nil {
		p.logger.Error("persist scraped page", zap.String("page_id", pageID), zap.Error(err))
		metrics.PageScraped("error")
		return core.FetchError
	}
	metrics.PageScraped(string(page.FetchStatus))
	return page.FetchStatus
}
