package discord

import (
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"exectracker/internal/transport"
)

// maxMessageLen is Discord's content limit for one message.
const maxMessageLen = 2000

// EventFromMessage converts a gateway or REST message. selfID is the bot's
// own user id.
func EventFromMessage(m *discordgo.Message, selfID string) transport.Event {
	if m == nil {
		return transport.Event{}
	}
	ev := transport.Event{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		CreatedAt: m.Timestamp.UTC(),
		Content:   m.Content,
	}
	if m.Author != nil {
		ev.AuthorID = m.Author.ID
		ev.AuthorName = m.Author.Username
		ev.FromSelf = selfID != "" && m.Author.ID == selfID
	}
	if ev.CreatedAt.IsZero() {
		// snowflakes carry their creation time
		if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
			ev.CreatedAt = ts.UTC()
		}
	}
	for _, em := range m.Embeds {
		if em == nil {
			continue
		}
		e := transport.Embed{Title: em.Title, Description: em.Description}
		for _, f := range em.Fields {
			if f == nil {
				continue
			}
			e.Fields = append(e.Fields, transport.EmbedField{Name: f.Name, Value: f.Value})
		}
		ev.Embeds = append(ev.Embeds, e)
	}
	return ev
}

// SummaryToEmbed renders a summary as a rich embed.
func SummaryToEmbed(s transport.Summary) *discordgo.MessageEmbed {
	em := &discordgo.MessageEmbed{
		Title: s.Title,
		Color: s.Color,
	}
	if !s.Timestamp.IsZero() {
		em.Timestamp = s.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, f := range s.Fields {
		em.Fields = append(em.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if s.Footer != "" {
		em.Footer = &discordgo.MessageEmbedFooter{Text: s.Footer}
	}
	return em
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
