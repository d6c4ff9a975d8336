// Package report computes rolling execution statistics and posts them to the
// stats channel on UTC minute, hour and day boundaries.
package report

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"exectracker/internal/storage"
)

// Window is a fixed lookback span ending at "now".
type Window struct {
	Label string // "minute" | "hour" | "day"
	Span  time.Duration
}

var (
	Minute = Window{Label: "minute", Span: 60 * time.Second}
	Hour   = Window{Label: "hour", Span: 3600 * time.Second}
	Day    = Window{Label: "day", Span: 86400 * time.Second}
)

// StandardWindows returns minute, hour and day, in that order.
func StandardWindows() []Window { return []Window{Minute, Hour, Day} }

// Stat is the aggregate for one window. UniqueUsers never exceeds Executions.
type Stat struct {
	Window      Window
	Executions  int64
	UniqueUsers int64
}

// Counter is the subset of storage.Store the reporter reads.
type Counter interface {
	CountSince(ctx context.Context, window time.Duration) (int64, error)
	UniqueUsersSince(ctx context.Context, window time.Duration) (int64, error)
}

var _ Counter = (storage.Store)(nil)

type Reporter struct {
	store Counter
}

func NewReporter(store Counter) *Reporter { return &Reporter{store: store} }

// Summarize returns one Stat per window, in request order.
func (r *Reporter) Summarize(ctx context.Context, windows []Window) ([]Stat, error) {
	out := make([]Stat, 0, len(windows))
	for _, w := range windows {
		n, err := r.store.CountSince(ctx, w.Span)
		if err != nil {
			return nil, errors.Wrapf(err, "count last %s", w.Label)
		}
		u, err := r.store.UniqueUsersSince(ctx, w.Span)
		if err != nil {
			return nil, errors.Wrapf(err, "unique users last %s", w.Label)
		}
		out = append(out, Stat{Window: w, Executions: n, UniqueUsers: u})
	}
	return out, nil
}

// OnDemand summarizes the three standard windows.
func (r *Reporter) OnDemand(ctx context.Context) ([]Stat, error) {
	return r.Summarize(ctx, StandardWindows())
}
