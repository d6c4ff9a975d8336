package report

import (
	"context"
	"time"

	"exectracker/internal/telemetry"
	"exectracker/internal/transport"
	logx "exectracker/pkg/logx"
)

// Poster publishes scheduled summaries to the stats channel. Failures are
// logged and counted; a missed summary is not retried.
type Poster struct {
	reporter    *Reporter
	sender      transport.Sender
	channelID   string
	sendTimeout time.Duration
	log         logx.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

type PosterOption func(*Poster)

// WithClock replaces the wall clock and timer source.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) PosterOption {
	return func(p *Poster) {
		if now != nil {
			p.now = now
		}
		if after != nil {
			p.after = after
		}
	}
}

func WithSendTimeout(d time.Duration) PosterOption {
	return func(p *Poster) {
		if d > 0 {
			p.sendTimeout = d
		}
	}
}

func NewPoster(reporter *Reporter, sender transport.Sender, channelID string, log logx.Logger, opts ...PosterOption) *Poster {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poster{
		reporter:    reporter,
		sender:      sender,
		channelID:   channelID,
		sendTimeout: 15 * time.Second,
		log:         log,
		now:         time.Now,
		after:       time.After,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run sleeps until each UTC minute boundary and posts the summaries due at
// it, until ctx is canceled.
func (p *Poster) Run(ctx context.Context) error {
	for {
		next := NextBoundary(p.now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.after(next.Sub(p.now())):
		}
		p.PostDue(ctx, next)
	}
}

// PostDue posts every window due at boundary and returns how many were
// delivered. Each window is independent of the others' failures.
func (p *Poster) PostDue(ctx context.Context, boundary time.Time) int {
	delivered := 0
	for _, w := range DueWindows(boundary) {
		err := p.post(ctx, w, boundary)
		telemetry.IncSummary(w.Label, err)
		if err != nil {
			p.log.Warn("scheduled summary not delivered",
				logx.String("window", w.Label),
				logx.Time("boundary", boundary),
				logx.Err(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

func (p *Poster) post(ctx context.Context, w Window, at time.Time) error {
	stats, err := p.reporter.Summarize(ctx, []Window{w})
	if err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	return p.sender.SendSummary(sctx, p.channelID, ScheduledSummary(stats[0], at))
}
