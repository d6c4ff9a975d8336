package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"exectracker/internal/report"
	"exectracker/internal/transport"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 25
)

func (r *Router) registerBuiltins() {
	r.Register(Command{
		Name:        "stats",
		Description: "Executions and unique users over the last minute, hour and day",
		Timeout:     30 * time.Second,
		Handle:      r.handleStats,
	})
	r.Register(Command{
		Name:        "import_history",
		Usage:       "[limit]",
		Description: fmt.Sprintf("Import past executions from this channel (default %d, max %d)", r.cfg.ImportDefaultLimit, r.cfg.ImportMaxLimit),
		Access:      AccessModerator,
		Handle:      r.handleImportHistory,
	})
	r.Register(Command{
		Name:        "recent",
		Usage:       "[limit]",
		Description: "Latest recorded executions",
		Timeout:     30 * time.Second,
		Handle:      r.handleRecent,
	})
	r.Register(Command{
		Name:        "lifetime",
		Usage:       "<user id>",
		Description: "Total recorded executions for a user",
		Timeout:     30 * time.Second,
		Handle:      r.handleLifetime,
	})
	r.Register(Command{
		Name:        "help",
		Description: "List commands",
		Timeout:     15 * time.Second,
		Handle:      r.handleHelp,
	})
}

func (r *Router) handleStats(ctx context.Context, req Request) error {
	stats, err := r.reporter.OnDemand(ctx)
	if err != nil {
		return err
	}
	return r.chat.SendSummary(ctx, req.Event.ChannelID, report.OnDemandSummary(stats, r.now()))
}

func (r *Router) handleImportHistory(ctx context.Context, req Request) error {
	if req.Event.ChannelID != r.cfg.WatchChannelID {
		return r.reply(ctx, req.Event, "This command must be run in the configured watch channel.")
	}
	limit := r.cfg.ImportDefaultLimit
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(strings.TrimPrefix(req.Args[0], "limit="))
		if err != nil || n <= 0 {
			return usagef("limit must be a positive number")
		}
		limit = min(n, r.cfg.ImportMaxLimit)
	}

	if err := r.reply(ctx, req.Event, fmt.Sprintf("Starting history import of last %d messages...", limit)); err != nil {
		return err
	}
	res, err := r.pipeline.Backfill(ctx, r.chat, req.Event.ChannelID, limit, transport.NewestFirst)
	if err != nil {
		return err
	}
	return r.reply(ctx, req.Event, fmt.Sprintf("Import complete. Processed %d messages, inserted %d new executions.", res.Processed, res.Inserted))
}

func (r *Router) handleRecent(ctx context.Context, req Request) error {
	limit := defaultRecentLimit
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			return usagef("limit must be a positive number")
		}
		limit = min(n, maxRecentLimit)
	}
	recs, err := r.store.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return r.reply(ctx, req.Event, "No executions recorded yet.")
	}
	var b strings.Builder
	b.WriteString("Recent executions:")
	for _, rec := range recs {
		fmt.Fprintf(&b, "\n%s  %s (%s)", rec.Time().Format("2006-01-02 15:04:05 UTC"), rec.Username, rec.UserID)
		if rec.ExecutionCount != nil {
			fmt.Fprintf(&b, ", count %d", *rec.ExecutionCount)
		}
	}
	return r.reply(ctx, req.Event, b.String())
}

func (r *Router) handleLifetime(ctx context.Context, req Request) error {
	if len(req.Args) != 1 {
		return usagef("user id required")
	}
	userID := mentionID(req.Args[0])
	if userID == "" {
		return usagef("user id required")
	}
	n, err := r.store.LifetimeCountForUser(ctx, userID)
	if err != nil {
		return err
	}
	return r.reply(ctx, req.Event, fmt.Sprintf("User %s has %d recorded executions.", userID, n))
}

func (r *Router) handleHelp(ctx context.Context, req Request) error {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range r.Commands() {
		b.WriteString("\n")
		b.WriteString(r.cfg.Prefix + c.Name)
		if c.Usage != "" {
			b.WriteString(" " + c.Usage)
		}
		b.WriteString(": " + c.Description)
		if c.Access == AccessModerator {
			b.WriteString(" (moderators)")
		}
	}
	return r.reply(ctx, req.Event, b.String())
}

// mentionID accepts a raw id or a <@id> / <@!id> mention.
func mentionID(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<@") && strings.HasSuffix(s, ">") {
		s = strings.TrimPrefix(strings.TrimSuffix(strings.TrimPrefix(s, "<@"), ">"), "!")
	}
	return s
}
