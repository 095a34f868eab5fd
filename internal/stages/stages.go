// Package stages implements the discrete pipeline operations: link
// discovery, content scraping, classification, structured extraction,
// event processing and embedding. Each stage is independently retryable
// and confines its side effects to the persistence adapter, so the
// orchestrator can re-invoke any stage without duplicating records.
package stages

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/artatlas/venue-crawler/internal/core"
	"github.com/artatlas/venue-crawler/internal/metrics"
	"github.com/artatlas/venue-crawler/internal/policy/recrawl"
	"github.com/artatlas/venue-crawler/internal/runlog"
)

// Config controls stage behavior.
type Config struct {
	// DiscoverLimit caps how many pages one discovery pass may register.
	DiscoverLimit int
	// BatchConcurrency bounds parallel per-page work inside one stage.
	BatchConcurrency int
	// DefaultEventDuration fills the end time of a single event page when
	// the source does not state one. Listing pages leave end unset.
	DefaultEventDuration time.Duration
	// SimilarityTopic is the queue topic similarity/identity messages go to.
	SimilarityTopic string
}

func (c Config) withDefaults() Config {
	if c.DiscoverLimit <= 0 {
		c.DiscoverLimit = 30
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 4
	}
	if c.DefaultEventDuration <= 0 {
		c.DefaultEventDuration = 3 * time.Hour
	}
	return c
}

// Pipeline bundles the collaborators every stage needs and exposes both the
// individual stages and the orchestrated full run.
type Pipeline struct {
	store     core.Store
	gateway   core.Gateway
	probe     core.Fetcher
	headless  core.Fetcher
	detector  core.HeadlessDetector
	runner    *runlog.Runner
	policy    *recrawl.Policy
	idGen     core.IDGenerator
	clock     core.Clock
	publisher core.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Pipeline. headless and detector may be nil to disable
// render promotion; publisher may be nil to disable fan-out messages.
func New(
	store core.Store,
	gateway core.Gateway,
	probe core.Fetcher,
	headless core.Fetcher,
	detector core.HeadlessDetector,
	runner *runlog.Runner,
	policy *recrawl.Policy,
	idGen core.IDGenerator,
	clock core.Clock,
	publisher core.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     store,
		gateway:   gateway,
		probe:     probe,
		headless:  headless,
		detector:  detector,
		runner:    runner,
		policy:    policy,
		idGen:     idGen,
		clock:     clock,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// fetch retrieves one URL, promoting the probe response to a headless render
// when the detector flags a client-rendered shell.
func (p *Pipeline) fetch(ctx context.Context, url string) (core.FetchResponse, error) {
	resp, err := p.probe.Fetch(ctx, core.FetchRequest{URL: url})
	if err != nil {
		return core.FetchResponse{}, fmt.Errorf("probe fetch %s: %w", url, err)
	}
	if p.headless == nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, err := p.headless.Fetch(ctx, core.FetchRequest{URL: url, UseHeadless: true})
	if err != nil {
		p.logger.Warn("headless promotion failed, keeping probe body",
			zap.String("url", url), zap.Error(err))
		return resp, nil
	}
	rendered.UsedHeadless = true
	return rendered, nil
}

// publish sends a fan-out message when a publisher is configured.
func (p *Pipeline) publish(ctx context.Context, msg core.Message) {
	if p.publisher == nil {
		return
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.SimilarityTopic, msg); err != nil {
		// Fan-out is advisory; the next pipeline run reproduces the message.
		p.logger.Warn("publish failed", zap.String("type", msg.Type), zap.Error(err))
		metrics.QueueMessage(msg.Type, "publish_error")
	}
}
