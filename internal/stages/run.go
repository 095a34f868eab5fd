package stages

import (
	"context"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/runlog"
)

// Step names for the full pipeline. Unique within a run; the run log keys
// memoized results by these.
const (
	StepDiscover = "discover-links"
	StepScrape   = "scrape-content"
	StepClassify = "classify-pages"
	StepExtract  = "extract-structured-data"
	StepProcess  = "process-extracted-events"
	StepEmbed    = "embed"
)

// Run executes the full discover→scrape→classify→extract→process→embed
// sequence for one entity under the step orchestrator. Resuming a crashed
// run with the same runID skips every step whose result is already in the
// run log. Satisfies actor.PipelineFunc.
func (p *Pipeline) Run(ctx context.Context, runID string, entity core.SourceEntity) (runlog.Run, error) {
	ex, err := p.runner.Begin(ctx, runID, entity.ID)
	if err != nil {
		return runlog.Run{}, err
	}

	discovered, _ := runlog.Step(ctx, ex, StepDiscover, func(ctx context.Context) (DiscoverReport, error) {
		return p.DiscoverLinks(ctx, entity, nil, 0)
	})

	due, _ := runlog.Step(ctx, ex, "select-due-pages", func(ctx context.Context) ([]string, error) {
		return p.selectDuePages(ctx, discovered.PageIDs)
	})

	scraped, _ := runlog.Step(ctx, ex, StepScrape, func(ctx context.Context) (ScrapeReport, error) {
		return p.ScrapePages(ctx, due)
	})

	classified, _ := runlog.Step(ctx, ex, StepClassify, func(ctx context.Context) (ClassifyReport, error) {
		return p.ClassifyPages(ctx, scraped.Scraped)
	})

	extracted, _ := runlog.Step(ctx, ex, StepExtract, func(ctx context.Context) (ExtractReport, error) {
		ids := make([]string, 0, len(classified.Classified))
		for pageID := range classified.Classified {
			ids = append(ids, pageID)
		}
		return p.ExtractPages(ctx, ids)
	})

	processed, _ := runlog.Step(ctx, ex, StepProcess, func(ctx context.Context) (ProcessReport, error) {
		return p.ProcessExtractedEvents(ctx, extracted.Extracted)
	})

	runlog.Step(ctx, ex, StepEmbed, func(ctx context.Context) (EmbedReport, error) {
		report, err := p.EmbedEvents(ctx, processed.Events)
		if err != nil {
			return EmbedReport{}, err
		}
		entityReport, err := p.EmbedEntities(ctx, []string{entity.ID})
		if err != nil {
			return EmbedReport{}, err
		}
		report.EntityIDs = entityReport.EntityIDs
		return report, nil
	})

	return ex.Finish(ctx)
}

// selectDuePages narrows a discovery result to the pages whose TTL has
// lapsed. Never-scraped pages are always due.
func (p *Pipeline) selectDuePages(ctx context.Context, pageIDs []string) ([]string, error) {
	now := p.clock.Now()
	due := make([]string, 0, len(pageIDs))
	for _, id := range pageIDs {
		page, err := p.store.GetPage(ctx, id)
		if err != nil {
			continue
		}
		if p.policy.IsDue(page, now) {
			due = append(due, id)
		}
	}
	return due, nil
}
