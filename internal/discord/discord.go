// Package discord is the gateway surface: it ingests guild messages into the
// scan queue, implements the scanner's side effects, and hosts the admin
// command set.
package discord

import (
	"os"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"wordwatch/internal/cache"
	"wordwatch/internal/context"
	"wordwatch/internal/dbstore"
	"wordwatch/internal/queue"
)

const EnvDiscordToken = "discord.token"

type Client struct {
	Ctx    context.Ctx
	Client *discordgo.Session
	Store  dbstore.Store
	Cache  *cache.Cache
	Queue  *queue.Queue

	readyOnce sync.Once
	ready     chan error
	handlers  map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate)
}

// New creates the session and registers the gateway handlers. The cache is
// empty until the ready event has loaded it; callers must wait on Ready
// before starting the scanner.
func New(ctx context.Ctx, store dbstore.Store, ruleCache *cache.Cache, scanQueue *queue.Queue) (*Client, error) {
	token := os.Getenv(EnvDiscordToken)
	if token == "" {
		return nil, errors.New("expected discord token")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	client := &Client{
		Ctx:    ctx,
		Client: dg,
		Store:  store,
		Cache:  ruleCache,
		Queue:  scanQueue,
		ready:  make(chan error, 1),
	}
	client.handlers = make(map[string]func(s *discordgo.Session, i *discordgo.InteractionCreate))
	for _, cmdConfig := range client.commandConfigs() {
		client.handlers[cmdConfig.Command.Name] = cmdConfig.Handler
	}
	dg.AddHandler(client.onReady)
	dg.AddHandler(client.onMessageCreate)
	dg.AddHandler(client.onGuildCreate)
	dg.AddHandler(client.onGuildDelete)
	dg.AddHandler(client.onInteractionCreate)

	if err := dg.Open(); err != nil {
		return nil, errors.Wrap(err, "error opening discord session")
	}
	return client, nil
}

// Ready yields once, after the first ready event has loaded the cache and
// registered the commands. A non-nil value means startup failed.
func (c *Client) Ready() <-chan error {
	return c.ready
}

func (c *Client) Close() error {
	return c.Client.Close()
}

func (c *Client) onReady(s *discordgo.Session, r *discordgo.Ready) {
	// reconnects replay ready; the cache is only loaded once
	c.readyOnce.Do(func() {
		communityIDs := make([]string, 0, len(r.Guilds))
		for _, guild := range r.Guilds {
			communityIDs = append(communityIDs, guild.ID)
		}
		if err := c.Cache.Load(c.Ctx, c.Store, communityIDs); err != nil {
			c.ready <- errors.Wrap(err, "failed to load cache")
			return
		}
		if err := c.RegisterCommands(); err != nil {
			c.ready <- err
			return
		}
		level.Info(c.Ctx.Log()).Log("msg", "gateway ready", "communities", len(communityIDs))
		c.ready <- nil
	})
}

// onMessageCreate snapshots the message into a scan job. Everything the
// scanner needs is copied here; the job never references gateway state.
func (c *Client) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		return
	}
	if prefix := c.Cache.Settings(m.GuildID).Prefix; prefix != "" && strings.HasPrefix(m.Content, prefix) {
		return
	}

	job := &queue.Job{
		CommunityID: m.GuildID,
		ChannelID:   m.ChannelID,
		MessageID:   m.ID,
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		Dropped:     c.onJobDropped,
	}
	if m.Member != nil {
		job.RoleIDs = m.Member.Roles
	}
	if channel := c.channel(s, m.ChannelID); channel != nil {
		job.ChannelName = channel.Name
		job.CategoryID = channel.ParentID
	}

	c.Queue.Put(job)
}

func (c *Client) channel(s *discordgo.Session, channelID string) *discordgo.Channel {
	if channel, err := s.State.Channel(channelID); err == nil {
		return channel
	}
	channel, err := s.Channel(channelID)
	if err != nil {
		level.Warn(c.Ctx.Log()).Log("msg", "failed to resolve channel", "channel_id", channelID, "error", err.Error())
		return nil
	}
	return channel
}

func (c *Client) onJobDropped(job *queue.Job) {
	level.Warn(c.Ctx.Log()).Log(
		"msg", "scan queue full, dropped oldest message unscanned",
		"community_id", job.CommunityID,
		"message_id", job.MessageID,
	)
}

func (c *Client) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if c.Cache.Has(g.ID) {
		return
	}
	level.Info(c.Ctx.Log()).Log("msg", "joined community", "community_id", g.ID)
	c.Cache.AddCommunity(g.ID)
}

// onGuildDelete handles being removed from a community. An unavailable guild
// is an outage, not a removal, and keeps its data.
func (c *Client) onGuildDelete(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	level.Info(c.Ctx.Log()).Log("msg", "left community", "community_id", g.ID)
	if err := c.Store.DeleteCommunityData(c.Ctx, g.ID); err != nil {
		level.Error(c.Ctx.Log()).Log("msg", "failed to delete community data", "community_id", g.ID, "error", err.Error())
	}
	c.Cache.RemoveCommunity(g.ID)
}
