package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/crawler"
)

// SessionOpener hands out fresh rendering sessions; internal/browser.Engine
// satisfies it.
type SessionOpener interface {
	NewSession(ctx context.Context) (crawler.Session, error)
}

// Factory builds a Strategy over a fresh session per target crawl.
type Factory struct {
	opener SessionOpener
	sel    Selectors
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger
}

func NewFactory(opener SessionOpener, sel Selectors, cfg Config, clock crawler.Clock, logger *zap.Logger) *Factory {
	return &Factory{opener: opener, sel: sel, cfg: cfg, clock: clock, logger: logger}
}

func (f *Factory) Acquire(ctx context.Context) (crawler.Extractor, func(), error) {
	sess, err := f.opener.NewSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	return NewStrategy(sess, f.sel, f.cfg, f.clock, f.logger), sess.Close, nil
}

var _ crawler.ExtractorFactory = (*Factory)(nil)
