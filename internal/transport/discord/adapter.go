// Package discord is the Discord gateway/REST adapter built on discordgo.
package discord

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"exectracker/internal/telemetry"
	"exectracker/internal/transport"
	logx "exectracker/pkg/logx"
)

// historyPageSize is the REST maximum for one channel messages request.
const historyPageSize = 100

type Config struct {
	Token string
}

// restAPI is the part of *discordgo.Session the adapter calls over REST.
type restAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	UserChannelPermissions(userID, channelID string, fetchOptions ...discordgo.RequestOption) (int64, error)
}

type Adapter struct {
	log     logx.Logger
	session *discordgo.Session
	rest    restAPI

	// session hooks, replaced in tests
	addHandler   func(handler any) func()
	openSession  func() error
	closeSession func() error

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	removers  []func()

	// droppedEvents counts messages dropped because the consumer fell behind.
	// Logged periodically to avoid per-message spam.
	droppedEvents uint64
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "discord session")
	}
	s.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	return &Adapter{
		log:          log,
		session:      s,
		rest:         s,
		addHandler:   s.AddHandler,
		openSession:  s.Open,
		closeSession: s.Close,
	}, nil
}

func (a *Adapter) selfID() string {
	if a.session == nil || a.session.State == nil || a.session.State.User == nil {
		return ""
	}
	return a.session.State.User.ID
}

// Start opens the gateway and forwards every message to out without blocking.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Event) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}

	a.addHandlers(out)
	if err := a.openSession(); err != nil {
		a.removeHandlers()
		return errors.Wrap(err, "open discord gateway")
	}

	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.running = true
	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				a.flushDropped(cap(out))
				return
			case <-ticker.C:
				a.flushDropped(cap(out))
			}
		}
	}()
	return nil
}

// addHandlers registers the gateway handlers. Callers hold runMu.
func (a *Adapter) addHandlers(out chan<- transport.Event) {
	a.removers = append(a.removers,
		a.addHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			if m == nil || m.Message == nil {
				return
			}
			select {
			case out <- EventFromMessage(m.Message, a.selfID()):
			default:
				atomic.AddUint64(&a.droppedEvents, 1)
				telemetry.IncEventsDropped()
			}
		}),
		a.addHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			if r == nil || r.User == nil {
				return
			}
			a.log.Info("gateway ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
		}),
	)
}

func (a *Adapter) removeHandlers() {
	for _, remove := range a.removers {
		remove()
	}
	a.removers = nil
}

func (a *Adapter) flushDropped(capacity int) {
	if n := atomic.SwapUint64(&a.droppedEvents, 0); n > 0 {
		a.log.Warn("incoming messages dropped (queue full)", logx.Uint64("count", n), logx.Int("queue_cap", capacity))
	}
}

// Stop closes the gateway connection.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	if !a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = false
	cancel := a.runCancel
	a.runCancel = nil
	a.removeHandlers()
	a.runMu.Unlock()

	cancel()
	err := a.closeSession()

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	a.log.Info("gateway closed")
	return errors.Wrap(err, "close discord gateway")
}

func (a *Adapter) SendText(ctx context.Context, channelID, text string) error {
	_, err := a.rest.ChannelMessageSend(channelID, truncate(text, maxMessageLen), discordgo.WithContext(ctx))
	return errors.Wrapf(err, "send message to %s", channelID)
}

func (a *Adapter) SendSummary(ctx context.Context, channelID string, s transport.Summary) error {
	_, err := a.rest.ChannelMessageSendEmbed(channelID, SummaryToEmbed(s), discordgo.WithContext(ctx))
	return errors.Wrapf(err, "send embed to %s", channelID)
}

// History pages backwards from the newest message until limit messages are
// collected or the channel runs out.
func (a *Adapter) History(ctx context.Context, channelID string, limit int, order transport.HistoryOrder) ([]transport.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	self := a.selfID()
	out := make([]transport.Event, 0, min(limit, 1000))
	before := ""
	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := min(historyPageSize, limit-len(out))
		msgs, err := a.rest.ChannelMessages(channelID, page, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, errors.Wrapf(err, "channel history %s", channelID)
		}
		for _, m := range msgs {
			out = append(out, EventFromMessage(m, self))
		}
		if len(msgs) < page {
			break
		}
		before = msgs[len(msgs)-1].ID
	}
	if order == transport.OldestFirst {
		slices.Reverse(out)
	}
	return out, nil
}

// CanModerate reports whether userID has Manage Messages in channelID.
func (a *Adapter) CanModerate(ctx context.Context, userID, channelID string) (bool, error) {
	perms, err := a.rest.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "permissions of %s in %s", userID, channelID)
	}
	return perms&discordgo.PermissionManageMessages != 0, nil
}
