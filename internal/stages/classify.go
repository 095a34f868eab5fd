package stages

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/artatlas/venue-crawler/internal/core"
)

// ClassifyReport summarizes one classification batch.
type ClassifyReport struct {
	Classified map[string]core.Classification `json:"classified"`
	Skipped    []string                       `json:"skipped,omitempty"`
	Failed     []string                       `json:"failed,omitempty"`
}

// ClassifyPages asks the extraction gateway to categorize each page's
// markdown. Pages without scraped content are skipped; a gateway failure on
// one page is recorded and the batch continues.
func (p *Pipeline) ClassifyPages(ctx context.Context, pageIDs []string) (ClassifyReport, error) {
	report := ClassifyReport{Classified: make(map[string]core.Classification)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.BatchConcurrency)
	for _, pageID := range pageIDs {
		g.Go(func() error {
			page, err := p.store.GetPage(gctx, pageID)
			if err != nil || page.FetchStatus != core.FetchOK || page.Markdown == "" {
				mu.Lock()
				report.Skipped = append(report.Skipped, pageID)
				mu.Unlock()
				return nil
			}
			class, err := p.gateway.Classify(gctx, page.Markdown, page.URL)
			if err != nil {
				p.logger.Warn("classification failed",
					zap.String("page_id", pageID), zap.Error(err))
				mu.Lock()
				report.Failed = append(report.Failed, pageID)
				mu.Unlock()
				return nil
			}
			page.Classification = class
			if _, err := p.store.UpsertPage(gctx, page); err != nil {
				p.logger.Error("persist classification",
					zap.String("page_id", pageID), zap.Error(err))
				mu.Lock()
				report.Failed = append(report.Failed, pageID)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Classified[pageID] = class
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ClassifyReport{}, err
	}
	return report, nil
}
