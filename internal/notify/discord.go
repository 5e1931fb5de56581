package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/kmajdoub/botfleet/internal/session"
)

// discordSession abstracts the discordgo.Session methods we use,
// enabling test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts end-of-session embeds to a Discord channel over the
// REST API. No gateway connection is opened.
type Discord struct {
	sess      discordSession
	channelID string
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// NewDiscord creates a Discord notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	d := &Discord{sess: opts.Session, channelID: opts.ChannelID}
	if d.sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		d.sess = s
	}
	return d, nil
}

// statusColors maps terminal statuses to embed sidebar colors.
var statusColors = map[session.Status]int{
	session.StatusTerminated: 0x2ecc71, // green
	session.StatusCrashed:    0xe74c3c, // red
	session.StatusBanned:     0x992d22, // dark red
}

// SessionEnded posts an embed summarizing the finished run.
func (d *Discord) SessionEnded(_ context.Context, sum session.RunSummary) error {
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Session %s ended: %s", sum.SessionID, sum.Status),
		Description: summaryText(sum),
		Color:       statusColors[sum.Status],
	}
	if _, err := d.sess.ChannelMessageSendEmbed(d.channelID, embed); err != nil {
		return fmt.Errorf("discord: post to %s: %w", d.channelID, err)
	}
	return nil
}
