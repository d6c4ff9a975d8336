// Package ingest turns watched-channel messages into execution records.
package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"exectracker/internal/extract"
	"exectracker/internal/storage"
	"exectracker/internal/telemetry"
	"exectracker/internal/transport"
	logx "exectracker/pkg/logx"
)

// UnknownUsername is stored when a payload carried only a user id.
const UnknownUsername = "unknown"

type OutcomeKind int

const (
	NoMatch OutcomeKind = iota
	Inserted
	DuplicateSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case Inserted:
		return "inserted"
	case DuplicateSkipped:
		return "duplicate"
	default:
		return "no_match"
	}
}

// Outcome is the result of one embed.
type Outcome struct {
	Kind       OutcomeKind
	EmbedIndex int
	Record     storage.Record // zero for NoMatch
}

// Notifier receives a line of text for every newly inserted execution.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Pipeline struct {
	store    storage.Store
	notifier Notifier
	log      logx.Logger
}

// New builds a pipeline. notifier may be nil.
func New(store storage.Store, notifier Notifier, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{store: store, notifier: notifier, log: log}
}

// Ingest processes every embed of ev independently and reports one outcome
// per embed. A store failure stops processing of ev and is returned together
// with the outcomes collected so far.
func (p *Pipeline) Ingest(ctx context.Context, ev transport.Event) ([]Outcome, error) {
	out, err := p.process(ctx, ev)
	for _, o := range out {
		if o.Kind == Inserted {
			p.announce(ctx, o.Record)
		}
	}
	return out, err
}

func (p *Pipeline) process(ctx context.Context, ev transport.Event) ([]Outcome, error) {
	if len(ev.Embeds) == 0 {
		return nil, nil
	}
	out := make([]Outcome, 0, len(ev.Embeds))
	for i, em := range ev.Embeds {
		res := extract.Extract(payloadOf(em))
		if !res.HasIdentity() {
			p.log.Info("embed did not match expected fields; skipping", logx.String("message_id", ev.ID), logx.Int("embed", i))
			telemetry.IncIngest(NoMatch.String())
			out = append(out, Outcome{Kind: NoMatch, EmbedIndex: i})
			continue
		}

		rec := recordFor(ev, res)
		ok, err := p.store.Insert(ctx, rec)
		if err != nil {
			return out, errors.Wrapf(err, "ingest message %s", ev.ID)
		}
		kind := DuplicateSkipped
		if ok {
			kind = Inserted
		} else {
			p.log.Debug("execution already recorded; skipping", logx.String("message_id", ev.ID))
		}
		telemetry.IncIngest(kind.String())
		out = append(out, Outcome{Kind: kind, EmbedIndex: i, Record: rec})
	}
	return out, nil
}

func (p *Pipeline) announce(ctx context.Context, rec storage.Record) {
	text := ParsedText(rec)
	p.log.Info(text, logx.String("message_id", rec.MessageID))
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, text); err != nil {
		p.log.Debug("log channel notify skipped", logx.Err(err))
	}
}

// ParsedText is the log-channel line for a newly recorded execution.
func ParsedText(rec storage.Record) string {
	count := "none"
	if rec.ExecutionCount != nil {
		count = strconv.FormatInt(*rec.ExecutionCount, 10)
	}
	return fmt.Sprintf("Parsed execution from embed — Username: %s, UserId: %s, ExecCount: %s", rec.Username, rec.UserID, count)
}

func payloadOf(em transport.Embed) extract.Payload {
	p := extract.Payload{Title: em.Title, Description: em.Description}
	if len(em.Fields) > 0 {
		p.Fields = make([]extract.Field, len(em.Fields))
		for i, f := range em.Fields {
			p.Fields[i] = extract.Field{Name: f.Name, Value: f.Value}
		}
	}
	return p
}

// recordFor applies the identity fallbacks: user id falls back to the
// username and then to the message id; username falls back to "unknown".
func recordFor(ev transport.Event, res extract.Result) storage.Record {
	userID := res.UserID
	if userID == "" {
		userID = res.Username
	}
	if userID == "" {
		userID = ev.ID
	}
	username := res.Username
	if username == "" {
		username = UnknownUsername
	}
	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return storage.Record{
		MessageID:      ev.ID,
		UserID:         userID,
		Username:       username,
		TS:             ts.UTC().Unix(),
		ExecutionCount: res.ExecutionCount,
	}
}

// BackfillResult summarizes one history import.
type BackfillResult struct {
	RunID     string
	Processed int // messages examined
	Inserted  int // new executions stored
}

// Backfill replays up to limit historical messages of channelID through the
// same per-embed logic as live ingestion, without log-channel notifications.
// Messages without embeds count as processed. A short history is not an error.
func (p *Pipeline) Backfill(ctx context.Context, src transport.HistorySource, channelID string, limit int, order transport.HistoryOrder) (BackfillResult, error) {
	res := BackfillResult{RunID: uuid.NewString()}
	log := p.log.With(logx.String("run_id", res.RunID), logx.String("channel_id", channelID))
	if limit <= 0 {
		return res, nil
	}

	started := time.Now()
	log.Info("history import started", logx.Int("limit", limit), logx.String("order", order.String()))
	events, err := src.History(ctx, channelID, limit, order)
	if err != nil {
		return res, errors.Wrap(err, "fetch history")
	}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++
		outcomes, err := p.process(ctx, ev)
		for _, o := range outcomes {
			if o.Kind == Inserted {
				res.Inserted++
			}
		}
		if err != nil {
			telemetry.AddBackfill(res.Inserted)
			return res, err
		}
	}
	telemetry.AddBackfill(res.Inserted)
	log.Info("history import finished",
		logx.Int("processed", res.Processed),
		logx.Int("inserted", res.Inserted),
		logx.Duration("took", time.Since(started)),
	)
	return res, nil
}
