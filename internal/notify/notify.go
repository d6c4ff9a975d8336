// Package notify delivers operational text messages (one per parsed
// execution) to the optional log channel.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"exectracker/internal/telemetry"
	"exectracker/internal/transport"
	logx "exectracker/pkg/logx"
)

var ErrQueueFull = errors.New("notifier queue full")

type Config struct {
	ChannelID   string // empty disables the notifier
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

// Service is a bounded queue drained by one rate-limited worker. Notify never
// blocks: when the queue is full the message is dropped.
type Service struct {
	log    logx.Logger
	sender transport.Sender
	cfg    Config

	limiter *rate.Limiter
	queue   chan string

	mu   sync.Mutex
	sent uint64
}

func New(cfg Config, sender transport.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Service{
		log:     log,
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan string, cfg.QueueSize),
	}
}

func (s *Service) Enabled() bool { return s != nil && s.cfg.ChannelID != "" && s.sender != nil }

// Notify enqueues text for the log channel. It is a no-op when disabled.
func (s *Service) Notify(ctx context.Context, text string) error {
	if !s.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case s.queue <- text:
		return nil
	default:
		telemetry.IncNotifierDropped()
		return ErrQueueFull
	}
}

// Sent returns how many messages were delivered.
func (s *Service) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Run drains the queue until ctx is canceled. Messages still queued at that
// point get one more second to go out.
func (s *Service) Run(ctx context.Context) error {
	if !s.Enabled() {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		case text := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				s.drain()
				return ctx.Err()
			}
			s.send(ctx, text)
		}
	}
}

func (s *Service) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		select {
		case text := <-s.queue:
			s.send(ctx, text)
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Service) send(ctx context.Context, text string) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	if err := s.sender.SendText(sctx, s.cfg.ChannelID, text); err != nil {
		s.log.Warn("log channel send failed", logx.Err(err))
		telemetry.IncNotifierDropped()
		return
	}
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
}
