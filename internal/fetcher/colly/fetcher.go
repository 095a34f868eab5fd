// Package collyfetcher implements the probe fetcher using gocolly. This is
// the cheap first attempt at every page; the headless fetcher only runs when
// the promotion detector asks for it.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/artatlas/venue-crawler/internal/core"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements core.Fetcher with a Colly collector per request.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher with a pooled HTTP transport shared across requests.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := colly.NewCollector(colly.Async(false))
	// Recrawls revisit pages on purpose once their TTL lapses.
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	})
	return &Fetcher{cfg: cfg, base: base}
}

// Fetch executes a single HTTP GET.
func (f *Fetcher) Fetch(ctx context.Context, request core.FetchRequest) (core.FetchResponse, error) {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		result   core.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = core.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return core.FetchResponse{}, fmt.Errorf("probe fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return core.FetchResponse{}, fmt.Errorf("probe visit failed: %w", err)
		}
		if fetchErr != nil {
			return core.FetchResponse{}, fmt.Errorf("probe response failed: %w", fetchErr)
		}
		return result, nil
	}
}
