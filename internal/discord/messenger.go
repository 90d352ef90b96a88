package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"wordwatch/internal/context"
	"wordwatch/internal/pipeline"
)

// embedColor is the red used for scan notifications.
const embedColor = 0xd22513

// isRESTCode reports whether err is a discord REST error with one of the
// given JSON error codes.
func isRESTCode(err error, codes ...int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	for _, code := range codes {
		if restErr.Message.Code == code {
			return true
		}
	}
	return false
}

func (c *Client) DeleteMessage(ctx context.Ctx, channelID, messageID string) error {
	err := c.Client.ChannelMessageDelete(channelID, messageID)
	if err == nil {
		return nil
	}
	if isRESTCode(err, discordgo.ErrCodeUnknownMessage) {
		return pipeline.ErrAlreadyGone
	}
	return errors.Wrap(err, "failed to delete message")
}

// BanUser bans with severity as the number of days of the user's message
// history to purge.
func (c *Client) BanUser(ctx context.Ctx, communityID, userID string, severity int, reason string) error {
	err := c.Client.GuildBanCreateWithReason(communityID, userID, reason, severity)
	if err == nil {
		return nil
	}
	if isRESTCode(err, discordgo.ErrCodeUnknownUser, discordgo.ErrCodeUnknownMember) {
		return pipeline.ErrAlreadyGone
	}
	return errors.Wrap(err, "failed to ban user")
}

func (c *Client) SendNotification(ctx context.Ctx, channelID string, notification pipeline.Notification) error {
	message := &discordgo.MessageSend{
		Content: notification.Content,
		Embed: &discordgo.MessageEmbed{
			Color:       embedColor,
			Description: notification.Description,
			Author: &discordgo.MessageEmbedAuthor{
				Name: notification.AuthorLine,
			},
		},
	}
	if _, err := c.Client.ChannelMessageSendComplex(channelID, message); err != nil {
		return errors.Wrap(err, "failed to send notification")
	}
	return nil
}

func (c *Client) SendError(ctx context.Ctx, channelID, report string) error {
	if _, err := c.Client.ChannelMessageSend(channelID, report); err != nil {
		return errors.Wrap(err, "failed to send error report")
	}
	return nil
}
