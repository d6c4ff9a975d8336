// Package commands implements the prefix chat commands (stats, import_history,
// recent, lifetime, help).
package commands

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"

	"exectracker/internal/ingest"
	"exectracker/internal/report"
	"exectracker/internal/storage"
	"exectracker/internal/telemetry"
	"exectracker/internal/transport"
	logx "exectracker/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessModerator requires Manage Messages in the invoking channel.
	AccessModerator
)

// Chat is what the command layer needs from the platform adapter.
type Chat interface {
	transport.Sender
	transport.HistorySource
	CanModerate(ctx context.Context, userID, channelID string) (bool, error)
}

type Request struct {
	Event transport.Event
	Name  string
	Args  []string
}

type HandlerFunc func(ctx context.Context, req Request) error

type Command struct {
	Name        string
	Usage       string // argument synopsis, e.g. "[limit]"
	Description string
	Access      Access
	Timeout     time.Duration // 0 uses the router default
	Handle      HandlerFunc
}

type Config struct {
	Prefix             string
	WatchChannelID     string
	ImportDefaultLimit int
	ImportMaxLimit     int
	Timeout            time.Duration
}

type Router struct {
	cfg      Config
	chat     Chat
	reporter *report.Reporter
	pipeline *ingest.Pipeline
	store    storage.Store
	log      logx.Logger
	now      func() time.Time

	cmds map[string]Command
}

func New(cfg Config, chat Chat, reporter *report.Reporter, pipeline *ingest.Pipeline, store storage.Store, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if cfg.ImportDefaultLimit <= 0 {
		cfg.ImportDefaultLimit = 500
	}
	if cfg.ImportMaxLimit < cfg.ImportDefaultLimit {
		cfg.ImportMaxLimit = cfg.ImportDefaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	r := &Router{
		cfg:      cfg,
		chat:     chat,
		reporter: reporter,
		pipeline: pipeline,
		store:    store,
		log:      log,
		now:      time.Now,
		cmds:     map[string]Command{},
	}
	r.registerBuiltins()
	return r
}

// Register adds or replaces a command.
func (r *Router) Register(c Command) {
	r.cmds[strings.ToLower(c.Name)] = c
}

// Commands returns the registered commands sorted by name.
func (r *Router) Commands() []Command {
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse splits a prefixed message into a lower-cased command name and its
// arguments. Quoted arguments are kept together.
func (r *Router) Parse(content string) (name string, args []string, ok bool) {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, r.cfg.Prefix) {
		return "", nil, false
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, r.cfg.Prefix))
	if s == "" {
		return "", nil, false
	}
	toks, err := shellquote.Split(s)
	if err != nil {
		// unterminated quote
		toks = strings.Fields(s)
	}
	if len(toks) == 0 {
		return "", nil, false
	}
	return strings.ToLower(toks[0]), toks[1:], true
}

// Dispatch runs the command in ev, if any. Unknown commands and plain
// messages are ignored and reported as not handled.
func (r *Router) Dispatch(ctx context.Context, ev transport.Event) (bool, error) {
	name, args, ok := r.Parse(ev.Content)
	if !ok {
		return false, nil
	}
	cmd, ok := r.cmds[name]
	if !ok {
		return false, nil
	}
	log := r.log.With(logx.String("command", name), logx.String("user_id", ev.AuthorID), logx.String("channel_id", ev.ChannelID))

	if cmd.Access == AccessModerator {
		allowed, err := r.chat.CanModerate(ctx, ev.AuthorID, ev.ChannelID)
		if err != nil {
			log.Warn("permission lookup failed", logx.Err(err))
		}
		if !allowed {
			telemetry.IncCommand(name, ErrForbidden)
			return true, r.reply(ctx, ev, "You need the Manage Messages permission to use this command.")
		}
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.now()
	err := cmd.Handle(cctx, Request{Event: ev, Name: name, Args: args})
	telemetry.IncCommand(name, err)
	if err != nil {
		var ue *usageError
		if errors.As(err, &ue) {
			return true, r.reply(ctx, ev, "Usage: "+r.cfg.Prefix+cmd.Name+" "+cmd.Usage)
		}
		log.Error("command failed", logx.Err(err), logx.Duration("took", r.now().Sub(started)))
		_ = r.reply(ctx, ev, FailedReply)
		return true, err
	}
	log.Debug("command done", logx.Duration("took", r.now().Sub(started)))
	return true, nil
}

var ErrForbidden = errors.New("forbidden")

// FailedReply is sent for handler errors; the cause is only logged.
const FailedReply = "Command failed. Check the bot logs for details."

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(msg string) error { return &usageError{msg: msg} }

func (r *Router) reply(ctx context.Context, ev transport.Event, text string) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := r.chat.SendText(sctx, ev.ChannelID, text); err != nil {
		r.log.Warn("command reply failed", logx.String("channel_id", ev.ChannelID), logx.Err(err))
		return err
	}
	return nil
}
