package transport

import (
	"context"
	"time"
)

// Event is a chat message delivered by the platform adapter.
type Event struct {
	ID         string
	ChannelID  string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time // origin time, UTC
	Content    string
	Embeds     []Embed

	// FromSelf is set for messages authored by the bot account itself.
	FromSelf bool
}

type EmbedField struct {
	Name  string
	Value string
}

type Embed struct {
	Title       string
	Description string
	Fields      []EmbedField
}

type SummaryField struct {
	Name   string
	Value  string
	Inline bool
}

// Summary is a structured outbound message (a Discord embed).
type Summary struct {
	Title     string
	Color     int
	Timestamp time.Time
	Fields    []SummaryField
	Footer    string
}

// HistoryOrder selects the replay order of History results.
type HistoryOrder int

const (
	NewestFirst HistoryOrder = iota
	OldestFirst
)

func (o HistoryOrder) String() string {
	if o == OldestFirst {
		return "oldest_first"
	}
	return "newest_first"
}

// Sender delivers outbound messages to a channel.
type Sender interface {
	SendText(ctx context.Context, channelID, text string) error
	SendSummary(ctx context.Context, channelID string, s Summary) error
}

// HistorySource returns up to limit of the most recent messages of a channel,
// in the requested order. Fewer are returned when the channel is shorter.
type HistorySource interface {
	History(ctx context.Context, channelID string, limit int, order HistoryOrder) ([]Event, error)
}

type Adapter interface {
	Sender
	HistorySource

	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error

	// CanModerate reports whether the user holds the moderation capability
	// (manage messages) in the channel.
	CanModerate(ctx context.Context, userID, channelID string) (bool, error)
}
