package stages

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/identity"
	"github.com/artatlas/venue-crawler/internal/policy/recrawl"
	memorystorage "github.com/artatlas/venue-crawler/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

// fakeFetcher serves canned HTML bodies by URL.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req core.FetchRequest) (core.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	body, ok := f.pages[req.URL]
	f.mu.Unlock()
	if !ok {
		return core.FetchResponse{}, fmt.Errorf("no route to %s", req.URL)
	}
	return core.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

// fakeGateway answers classification and extraction from lookup tables.
type fakeGateway struct {
	mu              sync.Mutex
	classifyByURL   map[string]core.Classification
	extractByURL    map[string]core.Extraction
	extractErrByURL map[string]error
	embedDim        int
}

func (g *fakeGateway) Classify(_ context.Context, _, url string) (core.Classification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if class, ok := g.classifyByURL[url]; ok {
		return class, nil
	}
	return core.ClassOther, nil
}

func (g *fakeGateway) Extract(_ context.Context, _, url string, kind core.Classification) (core.Extraction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.extractErrByURL[url]; ok {
		return core.Extraction{}, err
	}
	if ex, ok := g.extractByURL[url]; ok {
		return ex, nil
	}
	return core.Extraction{}, fmt.Errorf("no extraction scripted for %s (%s)", url, kind)
}

func (g *fakeGateway) Embed(_ context.Context, texts []string) ([][]float32, error) {
	dim := g.embedDim
	if dim == 0 {
		dim = 3
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, dim)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

const articleHTML = `<html><head><title>%s</title></head><body><article>
<h1>%s</h1>
<p>Doors open early and the bar serves until midnight. The program below lists
what is on this season at the venue, from live shows to open studios.</p>
<p>Tickets are available at the door and online. Reduced rates apply for
students and members of the collective.</p>
%s
</article></body></html>`

func articlePage(title, extra string) string {
	return fmt.Sprintf(articleHTML, title, title, extra)
}

func newTestPipeline(store core.Store, gateway core.Gateway, probe core.Fetcher) *Pipeline {
	return New(
		store, gateway, probe, nil, nil, nil,
		recrawl.New(nil),
		&seqIDGen{},
		&fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
		nil,
		Config{BatchConcurrency: 2},
		nil,
	)
}

func seedStoreEntity(t *testing.T, store core.Store, id, url string) core.SourceEntity {
	t.Helper()
	normalized, err := core.NormalizeURL(url)
	require.NoError(t, err)
	entity, err := store.UpsertEntity(context.Background(), core.SourceEntity{
		ID: id, CanonicalURL: url, NormalizedURL: normalized,
	})
	require.NoError(t, err)
	return entity
}

func TestDiscoverLinksRegistersSameHostPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	entity := seedStoreEntity(t, store, "src-1", "https://venue.example")

	probe := &fakeFetcher{pages: map[string]string{
		"https://venue.example": articlePage("Venue", `
			<a href="/events">Events</a>
			<a href="/events">Events again</a>
			<a href="https://venue.example/about/">About</a>
			<a href="https://elsewhere.example/feed">External</a>
			<a href="mailto:hi@venue.example">Mail</a>`),
	}}
	p := newTestPipeline(store, &fakeGateway{}, probe)

	report, err := p.DiscoverLinks(ctx, entity, nil, 10)
	require.NoError(t, err)
	// Seed page itself plus /events and /about; external and mailto dropped,
	// duplicate collapsed.
	require.Len(t, report.PageIDs, 3)
	require.Equal(t, 3, report.New)
	require.Equal(t, 0, report.Known)

	pages, err := store.ListPagesBySource(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for _, page := range pages {
		require.Equal(t, core.FetchQueued, page.FetchStatus)
	}

	// Re-discovery finds only known pages and never duplicates rows.
	again, err := p.DiscoverLinks(ctx, entity, nil, 10)
	require.NoError(t, err)
	require.Equal(t, 0, again.New)
	require.Equal(t, 3, again.Known)
	pages, err = store.ListPagesBySource(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, pages, 3)
}

func TestDiscoverLinksFailsOnlyWhenNothingReachable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	entity := seedStoreEntity(t, store, "src-1", "https://venue.example")
	p := newTestPipeline(store, &fakeGateway{}, &fakeFetcher{pages: map[string]string{}})

	_, err := p.DiscoverLinks(ctx, entity, nil, 10)
	require.Error(t, err)
}

func TestScrapePagesPersistsMarkdownAndFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	seedStoreEntity(t, store, "src-1", "https://venue.example")

	good, err := store.UpsertPage(ctx, core.SourcePage{
		ID: "p-good", SourceID: "src-1",
		URL: "https://venue.example/events", NormalizedURL: "https://venue.example/events",
		FetchStatus: core.FetchQueued,
	})
	require.NoError(t, err)
	bad, err := store.UpsertPage(ctx, core.SourcePage{
		ID: "p-bad", SourceID: "src-1",
		URL: "https://venue.example/gone", NormalizedURL: "https://venue.example/gone",
		FetchStatus: core.FetchQueued,
	})
	require.NoError(t, err)

	probe := &fakeFetcher{pages: map[string]string{
		good.URL: articlePage("Season Program", ""),
	}}
	p := newTestPipeline(store, &fakeGateway{}, probe)

	report, err := p.ScrapePages(ctx, []string{good.ID, bad.ID, "p-missing"})
	require.NoError(t, err)
	require.Equal(t, []string{good.ID}, report.Scraped)
	require.Equal(t, []string{bad.ID}, report.Failed)
	require.Equal(t, []string{"p-missing"}, report.Skipped)

	stored, err := store.GetPage(ctx, good.ID)
	require.NoError(t, err)
	require.Equal(t, core.FetchOK, stored.FetchStatus)
	require.Contains(t, stored.Markdown, "Season Program")
	require.NotNil(t, stored.ScrapedAt)

	failed, err := store.GetPage(ctx, bad.ID)
	require.NoError(t, err)
	require.Equal(t, core.FetchError, failed.FetchStatus)
}

func TestClassifyPagesPersistsCategories(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	seedStoreEntity(t, store, "src-1", "https://venue.example")

	scraped, err := store.UpsertPage(ctx, core.SourcePage{
		ID: "p-events", SourceID: "src-1",
		URL: "https://venue.example/events", NormalizedURL: "https://venue.example/events",
		FetchStatus: core.FetchOK, Markdown: "# Program",
	})
	require.NoError(t, err)
	unscraped, err := store.UpsertPage(ctx, core.SourcePage{
		ID: "p-queued", SourceID: "src-1",
		URL: "https://venue.example/later", NormalizedURL: "https://venue.example/later",
		FetchStatus: core.FetchQueued,
	})
	require.NoError(t, err)

	gateway := &fakeGateway{classifyByURL: map[string]core.Classification{
		scraped.URL: core.ClassMultipleEvents,
	}}
	p := newTestPipeline(store, gateway, &fakeFetcher{})

	report, err := p.ClassifyPages(ctx, []string{scraped.ID, unscraped.ID})
	require.NoError(t, err)
	require.Equal(t, core.ClassMultipleEvents, report.Classified[scraped.ID])
	require.Equal(t, []string{unscraped.ID}, report.Skipped)

	stored, err := store.GetPage(ctx, scraped.ID)
	require.NoError(t, err)
	require.Equal(t, core.ClassMultipleEvents, stored.Classification)
}

func TestExtractPagesPartialBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	seedStoreEntity(t, store, "src-1", "https://venue.example")

	gateway := &fakeGateway{
		extractByURL:    map[string]core.Extraction{},
		extractErrByURL: map[string]error{},
	}
	start := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 10; i++ {
		url := fmt.Sprintf("https://venue.example/events/%d", i)
		page, err := store.UpsertPage(ctx, core.SourcePage{
			ID: fmt.Sprintf("p-%d", i), SourceID: "src-1",
			URL: url, NormalizedURL: url,
			Classification: core.ClassEvent,
			FetchStatus:    core.FetchOK,
			Markdown:       "# Event " + url,
		})
		require.NoError(t, err)
		ids = append(ids, page.ID)
		if i == 3 || i == 7 {
			gateway.extractErrByURL[url] = errors.New("malformed model output")
			continue
		}
		gateway.extractByURL[url] = core.Extraction{
			Kind:  core.ClassEvent,
			Event: &core.EventDetails{Title: fmt.Sprintf("Show %d", i), StartTime: start},
		}
	}

	p := newTestPipeline(store, gateway, &fakeFetcher{})
	report, err := p.ExtractPages(ctx, ids)
	require.NoError(t, err, "bad extractions never fail the batch")
	require.Len(t, report.Extracted, 8)
	require.Len(t, report.ParseErrors, 2)

	broken, err := store.GetPage(ctx, "p-3")
	require.NoError(t, err)
	require.Equal(t, core.ParseError, broken.ParseStatus)
	require.Contains(t, broken.ParseError, "malformed model output")
	require.Nil(t, broken.Extraction)

	ok, err := store.GetPage(ctx, "p-4")
	require.NoError(t, err)
	require.Equal(t, core.ParseOK, ok.ParseStatus)
	require.NotNil(t, ok.Extraction)
}

func TestExtractPagesSkipsUnextractable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	seedStoreEntity(t, store, "src-1", "https://venue.example")
	page, err := store.UpsertPage(ctx, core.SourcePage{
		ID: "p-shop", SourceID: "src-1",
		URL: "https://venue.example/shop", NormalizedURL: "https://venue.example/shop",
		Classification: core.ClassOther,
		FetchStatus:    core.FetchOK,
		Markdown:       "# Shop",
	})
	require.NoError(t, err)

	p := newTestPipeline(store, &fakeGateway{}, &fakeFetcher{})
	report, err := p.ExtractPages(ctx, []string{page.ID})
	require.NoError(t, err)
	require.Empty(t, report.Extracted)
	require.Equal(t, []string{page.ID}, report.Skipped)
}

func TestProcessExtractedEventsMaterializesRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	entity := seedStoreEntity(t, store, "src-1", "https://venue.example")
	start := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

	eventPage, err := store.UpsertPage(ctx, core.SourcePage{
		ID: "p-event", SourceID: entity.ID,
		URL: "https://venue.example/show", NormalizedURL: "https://venue.example/show",
		Classification: core.ClassEvent, FetchStatus: core.FetchOK, ParseStatus: core.ParseOK,
		Extraction: &core.Extraction{
			Kind: core.ClassEvent,
			Event: &core.EventDetails{
				Title: "Opening Night", StartTime: start,
				Artists: []string{"Mara Lindt"},
			},
			People: []core.PersonDetails{{Name: "Mara Lindt", Website: "https://maralindt.example"}},
		},
	})
	require.NoError(t, err)

	aboutPage, err := store.UpsertPage(ctx, core.SourcePage{
		ID: "p-about", SourceID: entity.ID,
		URL: "https://venue.example/about", NormalizedURL: "https://venue.example/about",
		Classification: core.ClassCreatorInfo, FetchStatus: core.FetchOK, ParseStatus: core.ParseOK,
		Extraction: &core.Extraction{
			Kind:  core.ClassCreatorInfo,
			Venue: &core.VenueDetails{Name: "De Werkplaats", City: "Rotterdam", Country: "Netherlands"},
		},
	})
	require.NoError(t, err)

	p := newTestPipeline(store, &fakeGateway{}, &fakeFetcher{})
	report, err := p.ProcessExtractedEvents(ctx, []string{eventPage.ID, aboutPage.ID, "p-unparsed"})
	require.NoError(t, err)
	require.Equal(t, []string{"p-unparsed"}, report.Skipped)
	require.Len(t, report.Events, 1)
	require.Len(t, report.People, 1)

	// The event id is content-derived and the detail page got the default end.
	wantID, err := identity.EventKey(entity.ID, "Opening Night", start)
	require.NoError(t, err)
	event, err := store.GetEvent(ctx, wantID)
	require.NoError(t, err)
	require.Equal(t, start, event.StartTime)
	require.NotNil(t, event.EndTime)
	require.Equal(t, start.Add(3*time.Hour), *event.EndTime)

	// Venue details folded back onto the entity.
	updated, err := store.GetEntity(ctx, entity.ID)
	require.NoError(t, err)
	require.Equal(t, "De Werkplaats", updated.Name)
	require.Equal(t, "Rotterdam", updated.City)

	// Re-processing upserts under the same keys; no duplicates.
	_, err = p.ProcessExtractedEvents(ctx, []string{eventPage.ID})
	require.NoError(t, err)
	events, err := store.ListEventsBySource(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestProcessListingRowsKeepEndUnset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	entity := seedStoreEntity(t, store, "src-1", "https://venue.example")
	start := time.Date(2026, 7, 10, 19, 30, 0, 0, time.UTC)

	page, err := store.UpsertPage(ctx, core.SourcePage{
		ID: "p-list", SourceID: entity.ID,
		URL: "https://venue.example/program", NormalizedURL: "https://venue.example/program",
		Classification: core.ClassMultipleEvents, FetchStatus: core.FetchOK, ParseStatus: core.ParseOK,
		Extraction: &core.Extraction{
			Kind: core.ClassMultipleEvents,
			Events: []core.EventDetails{
				{Title: "Residency Talk", StartTime: start},
				{Title: "Night Concert", StartTime: start.Add(3 * time.Hour)},
				{Title: "", StartTime: start}, // rejected, not fatal
			},
		},
	})
	require.NoError(t, err)

	p := newTestPipeline(store, &fakeGateway{}, &fakeFetcher{})
	report, err := p.ProcessExtractedEvents(ctx, []string{page.ID})
	require.NoError(t, err)
	require.Len(t, report.Events, 2, "empty title skipped without failing the page")

	events, err := store.ListEventsBySource(ctx, entity.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, event := range events {
		require.Nil(t, event.EndTime, "listing rows do not get a default end")
	}
}

func TestEmbedEventsStoresVectors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memorystorage.NewStore()
	entity := seedStoreEntity(t, store, "src-1", "https://venue.example")
	start := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)
	key, err := identity.EventKey(entity.ID, "Opening Night", start)
	require.NoError(t, err)
	require.NoError(t, store.UpsertEvent(ctx, core.ExtractedEvent{
		ID: key, SourceID: entity.ID, Title: "Opening Night", StartTime: start,
	}))

	p := newTestPipeline(store, &fakeGateway{}, &fakeFetcher{})
	report, err := p.EmbedEvents(ctx, []string{key})
	require.NoError(t, err)
	require.Equal(t, []string{key}, report.EventIDs)

	event, err := store.GetEvent(ctx, key)
	require.NoError(t, err)
	require.NotEmpty(t, event.Embedding)
}
