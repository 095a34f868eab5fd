package queue

import (
	"context"
	"fmt"

	"github.com/artatlas/venue-crawler/internal/actor"
	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/similarity"
	"github.com/artatlas/venue-crawler/internal/stages"
)

// RegisterHandlers wires the standard message types onto the dispatcher.
// Every handler re-derives its effects from persisted state, so duplicate
// delivery collapses to a no-op.
func RegisterHandlers(
	d *Dispatcher,
	coordinator *actor.Coordinator,
	pipeline *stages.Pipeline,
	engine *similarity.Engine,
	store core.Store,
) {
	// crawl.map: re-evaluate one entity's recrawl due-ness and run the
	// pipeline if warranted. The actor dedupes concurrent triggers.
	d.Register(core.MsgCrawlMap, func(ctx context.Context, msg core.Message) error {
		sourceID := msg.SourceID
		if sourceID == "" {
			sourceID = msg.JobID
		}
		if sourceID == "" {
			return fmt.Errorf("crawl.map missing source id")
		}
		_, err := coordinator.ActorFor(sourceID).StartScraping(ctx, false)
		return err
	})

	// crawl.fetch: scrape a single known page by URL.
	d.Register(core.MsgCrawlFetch, func(ctx context.Context, msg core.Message) error {
		normalized, err := core.NormalizeURL(msg.URL)
		if err != nil {
			return fmt.Errorf("crawl.fetch url: %w", err)
		}
		page, err := store.GetPageByNormalizedURL(ctx, normalized)
		if err != nil {
			return fmt.Errorf("crawl.fetch page lookup: %w", err)
		}
		_, err = pipeline.ScrapePages(ctx, []string{page.ID})
		return err
	})

	// identity.index: re-materialize identity-keyed records for a source's
	// extracted pages. Upserts only, so replays are harmless.
	d.Register(core.MsgIdentityIndex, func(ctx context.Context, msg core.Message) error {
		if msg.SourceID == "" {
			return fmt.Errorf("identity.index missing source id")
		}
		pages, err := store.ListPagesBySource(ctx, msg.SourceID)
		if err != nil {
			return fmt.Errorf("identity.index pages: %w", err)
		}
		ids := make([]string, 0, len(pages))
		for _, page := range pages {
			if page.ParseStatus == core.ParseOK {
				ids = append(ids, page.ID)
			}
		}
		_, err = pipeline.ProcessExtractedEvents(ctx, ids)
		return err
	})

	// similarity.compute: refresh merge candidates for one record.
	d.Register(core.MsgSimilarityCompute, func(ctx context.Context, msg core.Message) error {
		switch msg.EntityType {
		case "event":
			_, err := engine.ComputeForEvent(ctx, msg.EntityID, msg.Threshold)
			return err
		case "entity":
			_, err := engine.ComputeForEntity(ctx, msg.EntityID, msg.Threshold)
			return err
		default:
			return fmt.Errorf("similarity.compute unknown entity type %q", msg.EntityType)
		}
	})
}
