package stages

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/metrics"
)

// ExtractReport summarizes one structured-extraction batch.
type ExtractReport struct {
	Extracted   []string `json:"extracted"`
	ParseErrors []string `json:"parse_errors,omitempty"`
	Skipped     []string `json:"skipped,omitempty"`
}

// extractable reports whether a classification carries structured data worth
// extracting.
func extractable(class core.Classification) bool {
	switch class {
	case core.ClassEvent, core.ClassHistoricalEvent, core.ClassMultipleEvents,
		core.ClassCreatorInfo, core.ClassArtists:
		return true
	default:
		return false
	}
}

// ExtractPages runs structured extraction over classified pages and stores
// each page's typed result. A malformed gateway response is recorded as a
// per-page parse error; it never fails the batch, so ten pages with two bad
// extractions still yield eight typed results.
func (p *Pipeline) ExtractPages(ctx context.Context, pageIDs []string) (ExtractReport, error) {
	var report ExtractReport
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.BatchConcurrency)
	for _, pageID := range pageIDs {
		g.Go(func() error {
			page, err := p.store.GetPage(gctx, pageID)
			if err != nil || page.Markdown == "" || !extractable(page.Classification) {
				mu.Lock()
				report.Skipped = append(report.Skipped, pageID)
				mu.Unlock()
				return nil
			}

			extraction, extractErr := p.gateway.Extract(gctx, page.Markdown, page.URL, page.Classification)
			if extractErr == nil {
				extractErr = extraction.Validate()
			}
			if extractErr != nil {
				page.ParseStatus = core.ParseError
				page.ParseError = extractErr.Error()
				page.Extraction = nil
				metrics.Extraction("parse_error")
				p.logger.Warn("extraction failed",
					zap.String("page_id", pageID),
					zap.String("classification", string(page.Classification)),
					zap.Error(extractErr),
				)
			} else {
				page.ParseStatus = core.ParseOK
				page.ParseError = ""
				page.Extraction = &extraction
				metrics.Extraction("ok")
			}

			if _, err := p.store.UpsertPage(gctx, page); err != nil {
				p.logger.Error("persist extraction", zap.String("page_id", pageID), zap.Error(err))
				mu.Lock()
				report.ParseErrors = append(report.ParseErrors, pageID)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			if page.ParseStatus == core.ParseOK {
				report.Extracted = append(report.Extracted, pageID)
			} else {
				report.ParseErrors = append(report.ParseErrors, pageID)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ExtractReport{}, err
	}
	return report, nil
}
