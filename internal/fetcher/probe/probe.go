// Package probe checks target existence over plain HTTP before a browser
// session is spent on it.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/extract"
)

// Config controls the HTTP prober.
type Config struct {
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration
	// DelayPerHost spaces successive probes against the same host.
	DelayPerHost time.Duration
}

// Prober answers "does this target's page still resolve" with a single GET.
// The answer is a hint: listings render their own tombstone for gone
// accounts, so a probe error is never treated as proof of death.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Prober, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	opts := []colly.CollectorOption{}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	base := colly.NewCollector(opts...)
	base.AllowURLRevisit = true
	base.SetRequestTimeout(cfg.RequestTimeout)
	if cfg.DelayPerHost > 0 {
		if err := base.Limit(&colly.LimitRule{
			DomainGlob: "*",
			Delay:      cfg.DelayPerHost,
		}); err != nil {
			return nil, err
		}
	}
	return &Prober{cfg: cfg, baseCollector: base, logger: logger}, nil
}

type probeResult struct {
	status int
	err    error
}

// Exists GETs the target's listing URL. A 404 means gone; 2xx and 3xx mean
// alive. Anything else (429, 5xx, transport errors) is inconclusive and
// returned as an error.
func (p *Prober) Exists(ctx context.Context, targetID string) (bool, error) {
	url := extract.ListingURL(p.cfg.BaseURL, targetID)

	collector := p.baseCollector.Clone()

	resultCh := make(chan probeResult, 1)
	var once sync.Once
	send := func(res probeResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(probeResult{status: r.StatusCode})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			send(probeResult{status: r.StatusCode})
			return
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(probeResult{err: err})
	})

	if err := collector.Visit(url); err != nil {
		return false, fmt.Errorf("probing %s: %w", targetID, err)
	}

	done := make(chan struct{})
	go func() {
		collector.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-done:
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return false, fmt.Errorf("probing %s: %w", targetID, res.err)
		}
		switch {
		case res.status == http.StatusNotFound:
			p.logger.Info("probe found target gone", zap.String("target_id", targetID))
			return false, nil
		case res.status >= 200 && res.status < 400:
			return true, nil
		default:
			return false, fmt.Errorf("probing %s: status %d", targetID, res.status)
		}
	default:
		return false, fmt.Errorf("probing %s: no response", targetID)
	}
}
