package discord

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"wordwatch/internal/cache"
	"wordwatch/internal/dbstore"
	"wordwatch/internal/ranges"
	"wordwatch/internal/rules"
)

type CommandConfig struct {
	Command *discordgo.ApplicationCommand
	Handler func(s *discordgo.Session, i *discordgo.InteractionCreate)
}

var adminOnly = int64(discordgo.PermissionAdministrator)

func (c *Client) commandConfigs() []CommandConfig {
	return []CommandConfig{
		c.watchCommandConfig(),
		c.listCommandConfig(),
		c.removeCommandConfig(),
		c.clearCommandConfig(),
		c.ignoreCommandConfig(),
		c.unignoreCommandConfig(),
		c.ignoredCommandConfig(),
		c.pingGroupCommandConfig(),
		c.logChannelCommandConfig(),
		c.errorChannelCommandConfig(),
		c.headerCommandConfig(),
		c.prefixCommandConfig(),
	}
}

func (c *Client) RegisterCommands() error {
	for _, cmdConfig := range c.commandConfigs() {
		cmdConfig.Command.DefaultMemberPermissions = &adminOnly
		_, err := c.Client.ApplicationCommandCreate(c.Client.State.Application.ID, "", cmdConfig.Command)
		if err != nil {
			return errors.Wrapf(err, "failed to create application command %q", cmdConfig.Command.Name)
		}
	}
	return nil
}

func (c *Client) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || i.GuildID == "" {
		return
	}
	handler, ok := c.handlers[i.ApplicationCommandData().Name]
	if !ok {
		return
	}
	handler(s, i)
}

// respond sends an ephemeral reply to the issuing admin.
func (c *Client) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:   discordgo.MessageFlagsEphemeral,
			Content: content,
		},
	}); err != nil {
		level.Error(c.Ctx.Log()).Log(
			"msg", "failed to send interaction response",
			"command", i.ApplicationCommandData().Name,
			"community_id", i.GuildID,
			"error", err.Error(),
		)
	}
}

var mentionPattern = regexp.MustCompile(`^<(#|@&|@!?)(\d+)>$`)

// parseTarget extracts the raw id from a channel, role, or user mention and
// the ignore kind the mention format implies. A bare id carries no kind.
func parseTarget(s string) (id string, kind dbstore.IgnoreKind) {
	m := mentionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return strings.TrimSpace(s), ""
	}
	switch m[1] {
	case "#":
		return m[2], dbstore.IgnoreChannel
	case "@&":
		return m[2], dbstore.IgnoreRole
	default:
		return m[2], dbstore.IgnoreUser
	}
}

// parseIndexes parses a list of 1-based positions with ranges, e.g. "1 3 5-7".
func parseIndexes(s string) ([]int, error) {
	seen := make(map[int]struct{})
	var out []int
	add := func(n int) {
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	for _, token := range strings.Fields(s) {
		if low, high, isRange := strings.Cut(token, "-"); isRange {
			first, err := strconv.Atoi(low)
			if err != nil {
				return nil, errors.Errorf("%q is not a position", low)
			}
			last, err := strconv.Atoi(high)
			if err != nil {
				return nil, errors.Errorf("%q is not a position", high)
			}
			if first > last {
				return nil, errors.Errorf("range %q is reversed", token)
			}
			for n := first; n <= last; n++ {
				add(n)
			}
			continue
		}
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, errors.Errorf("%q is not a position", token)
		}
		add(n)
	}
	sort.Ints(out)
	return out, nil
}

func describeRule(rule rules.WatchRule) string {
	attrs := []string{rule.MatchType.String()}
	if rule.CaseSensitive {
		attrs = append(attrs, "cased")
	}
	if rule.AutoDelete {
		attrs = append(attrs, "del")
	}
	if rule.BanSeverity != nil {
		attrs = append(attrs, fmt.Sprintf("ban.%d", *rule.BanSeverity))
	}
	if rule.PingGroupID != nil {
		attrs = append(attrs, "ping")
	}
	return fmt.Sprintf("`%s` (%s)", rule.Pattern, strings.Join(attrs, ", "))
}

func (c *Client) watchCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-watch",
			Description: "Watch one or more patterns with the given settings",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "settings",
					Description: "Comma-separated settings, e.g. del,type.word,ping.mods,ban.3",
					Required:    true,
					Type:        discordgo.ApplicationCommandOptionString,
				},
				{
					Name:        "patterns",
					Description: "Space-separated patterns to watch",
					Required:    true,
					Type:        discordgo.ApplicationCommandOptionString,
				},
			},
		},
		Handler: c.watchHandler,
	}
}

func (c *Client) watchHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var settingsStr, patternsStr string
	for _, option := range i.ApplicationCommandData().Options {
		switch option.Name {
		case "settings":
			settingsStr = option.StringValue()
		case "patterns":
			patternsStr = option.StringValue()
		}
	}

	parsed, err := rules.ParseSettings(settingsStr)
	if err != nil {
		c.respond(s, i, fmt.Sprintf("Invalid settings: %v", err))
		return
	}

	var pingGroupID *int64
	if parsed.PingGroup != "" {
		group, err := c.Store.GetPingGroup(c.Ctx, i.GuildID, parsed.PingGroup)
		if errors.Is(err, dbstore.ErrNotFound) {
			c.respond(s, i, fmt.Sprintf("Unknown ping group `%s`", parsed.PingGroup))
			return
		}
		if err != nil {
			level.Error(c.Ctx.Log()).Log("msg", "failed to look up ping group", "community_id", i.GuildID, "error", err.Error())
			c.respond(s, i, "Failed to look up ping group")
			return
		}
		pingGroupID = &group.ID
	}

	var added, failed []string
	for _, pattern := range strings.Fields(patternsStr) {
		rule := rules.WatchRule{
			CommunityID:   i.GuildID,
			Pattern:       pattern,
			MatchType:     parsed.MatchType,
			CaseSensitive: parsed.CaseSensitive,
			AutoDelete:    parsed.AutoDelete,
			BanSeverity:   parsed.BanSeverity,
			PingGroupID:   pingGroupID,
		}

		// compile before touching the store: a rule that cannot match must
		// never be persisted
		if _, err := rules.Compile(rule); err != nil {
			failed = append(failed, fmt.Sprintf("`%s`: %v", pattern, err))
			continue
		}

		created, err := c.Store.CreateRule(c.Ctx, rule)
		if errors.Is(err, dbstore.ErrDuplicate) {
			failed = append(failed, fmt.Sprintf("`%s`: already watched", pattern))
			continue
		}
		if err != nil {
			level.Error(c.Ctx.Log()).Log("msg", "failed to create rule", "community_id", i.GuildID, "pattern", pattern, "error", err.Error())
			failed = append(failed, fmt.Sprintf("`%s`: store error", pattern))
			continue
		}

		compiled, err := rules.Compile(*created)
		if err != nil {
			// compiled above; only a store round-trip mangling the record gets here
			failed = append(failed, fmt.Sprintf("`%s`: %v", pattern, err))
			continue
		}
		c.Cache.PutRule(compiled)
		added = append(added, "`"+pattern+"`")
	}

	var lines []string
	if len(added) > 0 {
		lines = append(lines, fmt.Sprintf("Watching %s", strings.Join(added, ", ")))
	}
	if len(failed) > 0 {
		lines = append(lines, "Rejected:")
		lines = append(lines, failed...)
	}
	if len(lines) == 0 {
		lines = append(lines, "No patterns given")
	}
	c.respond(s, i, strings.Join(lines, "\n"))
}

func (c *Client) listCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-list",
			Description: "List the watched patterns",
		},
		Handler: c.listHandler,
	}
}

func (c *Client) listHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	watched := c.Cache.Rules(i.GuildID)
	if len(watched) == 0 {
		c.respond(s, i, "Nothing is being watched")
		return
	}
	lines := make([]string, len(watched))
	for idx, rule := range watched {
		lines[idx] = fmt.Sprintf("%d: %s", idx+1, describeRule(rule.WatchRule))
	}
	c.respond(s, i, strings.Join(lines, "\n"))
}

func (c *Client) removeCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-remove",
			Description: "Stop watching patterns by their list positions",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "positions",
					Description: "Positions from ww-list, e.g. \"1 3 5-7\"",
					Required:    true,
					Type:        discordgo.ApplicationCommandOptionString,
				},
			},
		},
		Handler: c.removeHandler,
	}
}

func (c *Client) removeHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var positionsStr string
	for _, option := range i.ApplicationCommandData().Options {
		if option.Name == "positions" {
			positionsStr = option.StringValue()
		}
	}

	positions, err := parseIndexes(positionsStr)
	if err != nil {
		c.respond(s, i, fmt.Sprintf("Invalid positions: %v", err))
		return
	}
	if len(positions) == 0 {
		c.respond(s, i, "No positions given")
		return
	}

	watched := c.Cache.Rules(i.GuildID)
	var removed, invalid []int
	for _, pos := range positions {
		if pos < 1 || pos > len(watched) {
			invalid = append(invalid, pos)
			continue
		}
		rule := watched[pos-1]
		if err := c.Store.DeleteRule(c.Ctx, rule.ID); err != nil {
			level.Error(c.Ctx.Log()).Log("msg", "failed to delete rule", "rule_id", rule.ID, "error", err.Error())
			invalid = append(invalid, pos)
			continue
		}
		c.Cache.RemoveRule(i.GuildID, rule.ID)
		removed = append(removed, pos)
	}

	var lines []string
	if len(removed) > 0 {
		lines = append(lines, fmt.Sprintf("Removed %s", ranges.Format(ranges.Merge(removed))))
	}
	if len(invalid) > 0 {
		lines = append(lines, fmt.Sprintf("Could not remove %s", ranges.Format(ranges.Merge(invalid))))
	}
	c.respond(s, i, strings.Join(lines, "\n"))
}

func (c *Client) clearCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-clear",
			Description: "Stop watching all patterns",
		},
		Handler: c.clearHandler,
	}
}

func (c *Client) clearHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := c.Store.DeleteCommunityRules(c.Ctx, i.GuildID); err != nil {
		level.Error(c.Ctx.Log()).Log("msg", "failed to clear rules", "community_id", i.GuildID, "error", err.Error())
		c.respond(s, i, "Failed to clear watched patterns")
		return
	}
	c.Cache.ClearRules(i.GuildID)
	c.respond(s, i, "Cleared all watched patterns")
}

func ignoreTargetOptions() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{
			Name:        "target",
			Description: "A channel, role, or user mention, or a raw id",
			Required:    true,
			Type:        discordgo.ApplicationCommandOptionString,
		},
		{
			Name:        "kind",
			Description: "Required when target is a raw id",
			Type:        discordgo.ApplicationCommandOptionString,
			Choices: []*discordgo.ApplicationCommandOptionChoice{
				{Name: "channel", Value: "channel"},
				{Name: "role", Value: "role"},
				{Name: "user", Value: "user"},
			},
		},
	}
}

func (c *Client) ignoreCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-ignore",
			Description: "Exempt a channel, role, or user from scanning",
			Options:     ignoreTargetOptions(),
		},
		Handler: c.ignoreHandler,
	}
}

func (c *Client) ignoreHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var targetStr, kindStr string
	for _, option := range i.ApplicationCommandData().Options {
		switch option.Name {
		case "target":
			targetStr = option.StringValue()
		case "kind":
			kindStr = option.StringValue()
		}
	}

	targetID, kind := parseTarget(targetStr)
	if kindStr != "" {
		kind = dbstore.IgnoreKind(kindStr)
	}
	if kind == "" {
		c.respond(s, i, "A raw id needs an explicit kind")
		return
	}

	_, err := c.Store.CreateIgnore(c.Ctx, dbstore.IgnoreEntry{
		CommunityID: i.GuildID,
		TargetID:    targetID,
		Kind:        kind,
	})
	if errors.Is(err, dbstore.ErrDuplicate) {
		c.respond(s, i, "Already ignored")
		return
	}
	if err != nil {
		level.Error(c.Ctx.Log()).Log("msg", "failed to create ignore", "community_id", i.GuildID, "target_id", targetID, "error", err.Error())
		c.respond(s, i, "Failed to create ignore")
		return
	}
	c.Cache.AddIgnore(i.GuildID, targetID)
	c.respond(s, i, fmt.Sprintf("Ignoring %s `%s`", kind, targetID))
}

func (c *Client) unignoreCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-unignore",
			Description: "Remove a scanning exemption",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "target",
					Description: "A channel, role, or user mention, or a raw id",
					Required:    true,
					Type:        discordgo.ApplicationCommandOptionString,
				},
			},
		},
		Handler: c.unignoreHandler,
	}
}

func (c *Client) unignoreHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var targetStr string
	for _, option := range i.ApplicationCommandData().Options {
		if option.Name == "target" {
			targetStr = option.StringValue()
		}
	}
	targetID, _ := parseTarget(targetStr)

	err := c.Store.DeleteIgnore(c.Ctx, i.GuildID, targetID)
	if errors.Is(err, dbstore.ErrNotFound) {
		c.respond(s, i, "Not ignored")
		return
	}
	if err != nil {
		level.Error(c.Ctx.Log()).Log("msg", "failed to delete ignore", "community_id", i.GuildID, "target_id", targetID, "error", err.Error())
		c.respond(s, i, "Failed to remove ignore")
		return
	}
	c.Cache.RemoveIgnore(i.GuildID, targetID)
	c.respond(s, i, fmt.Sprintf("No longer ignoring `%s`", targetID))
}

func (c *Client) ignoredCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-ignored",
			Description: "List the scanning exemptions",
		},
		Handler: c.ignoredHandler,
	}
}

func (c *Client) ignoredHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ignored := c.Cache.Ignored(i.GuildID)
	if len(ignored) == 0 {
		c.respond(s, i, "Nothing is ignored")
		return
	}
	quoted := make([]string, len(ignored))
	for idx, id := range ignored {
		quoted[idx] = "`" + id + "`"
	}
	c.respond(s, i, "Ignored: "+strings.Join(quoted, ", "))
}

func (c *Client) pingGroupCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-ping",
			Description: "Manage the named ping groups rules can reference",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "action",
					Description: "What to do with the group",
					Required:    true,
					Type:        discordgo.ApplicationCommandOptionString,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "create", Value: "create"},
						{Name: "delete", Value: "delete"},
						{Name: "add", Value: "add"},
						{Name: "remove", Value: "remove"},
						{Name: "list", Value: "list"},
					},
				},
				{
					Name:        "group",
					Description: "The group name",
					Required:    true,
					Type:        discordgo.ApplicationCommandOptionString,
				},
				{
					Name:        "target",
					Description: "A user or role mention, for add and remove",
					Type:        discordgo.ApplicationCommandOptionString,
				},
			},
		},
		Handler: c.pingGroupHandler,
	}
}

func (c *Client) pingGroupHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var action, groupName, targetStr string
	for _, option := range i.ApplicationCommandData().Options {
		switch option.Name {
		case "action":
			action = option.StringValue()
		case "group":
			groupName = option.StringValue()
		case "target":
			targetStr = option.StringValue()
		}
	}

	if action == "create" {
		group, err := c.Store.CreatePingGroup(c.Ctx, i.GuildID, groupName)
		if errors.Is(err, dbstore.ErrDuplicate) {
			c.respond(s, i, fmt.Sprintf("Group `%s` already exists", groupName))
			return
		}
		if err != nil {
			level.Error(c.Ctx.Log()).Log("msg", "failed to create ping group", "community_id", i.GuildID, "group", groupName, "error", err.Error())
			c.respond(s, i, "Failed to create group")
			return
		}
		c.Cache.SetPingGroup(i.GuildID, group.ID, nil)
		c.respond(s, i, fmt.Sprintf("Created group `%s`", groupName))
		return
	}

	group, err := c.Store.GetPingGroup(c.Ctx, i.GuildID, groupName)
	if errors.Is(err, dbstore.ErrNotFound) {
		c.respond(s, i, fmt.Sprintf("Unknown group `%s`", groupName))
		return
	}
	if err != nil {
		level.Error(c.Ctx.Log()).Log("msg", "failed to look up ping group", "community_id", i.GuildID, "group", groupName, "error", err.Error())
		c.respond(s, i, "Failed to look up group")
		return
	}

	switch action {
	case "delete":
		if err := c.Store.DeletePingGroup(c.Ctx, group.ID); err != nil {
			level.Error(c.Ctx.Log()).Log("msg", "failed to delete ping group", "group_id", group.ID, "error", err.Error())
			c.respond(s, i, "Failed to delete group")
			return
		}
		c.Cache.RemovePingGroup(i.GuildID, group.ID)
		c.respond(s, i, fmt.Sprintf("Deleted group `%s`; rules referencing it will stop pinging", groupName))

	case "add":
		targetID, kind := parseTarget(targetStr)
		pingKind, ok := pingKindFor(kind)
		if !ok {
			c.respond(s, i, "Target must be a user or role mention")
			return
		}
		_, err := c.Store.AddPing(c.Ctx, dbstore.PingTarget{
			GroupID:  group.ID,
			Kind:     pingKind,
			TargetID: targetID,
		})
		if errors.Is(err, dbstore.ErrDuplicate) {
			c.respond(s, i, "Already in the group")
			return
		}
		if err != nil {
			level.Error(c.Ctx.Log()).Log("msg", "failed to add ping target", "group_id", group.ID, "error", err.Error())
			c.respond(s, i, "Failed to add target")
			return
		}
		c.refreshPingGroup(i.GuildID, group.ID)
		c.respond(s, i, fmt.Sprintf("Added to `%s`", groupName))

	case "remove":
		targetID, kind := parseTarget(targetStr)
		pingKind, ok := pingKindFor(kind)
		if !ok {
			c.respond(s, i, "Target must be a user or role mention")
			return
		}
		err := c.Store.RemovePing(c.Ctx, group.ID, pingKind, targetID)
		if errors.Is(err, dbstore.ErrNotFound) {
			c.respond(s, i, "Not in the group")
			return
		}
		if err != nil {
			level.Error(c.Ctx.Log()).Log("msg", "failed to remove ping target", "group_id", group.ID, "error", err.Error())
			c.respond(s, i, "Failed to remove target")
			return
		}
		c.refreshPingGroup(i.GuildID, group.ID)
		c.respond(s, i, fmt.Sprintf("Removed from `%s`", groupName))

	case "list":
		targets, err := c.Store.ListPings(c.Ctx, group.ID)
		if err != nil {
			level.Error(c.Ctx.Log()).Log("msg", "failed to list ping targets", "group_id", group.ID, "error", err.Error())
			c.respond(s, i, "Failed to list group")
			return
		}
		if len(targets) == 0 {
			c.respond(s, i, fmt.Sprintf("Group `%s` is empty", groupName))
			return
		}
		mentions := make([]string, len(targets))
		for idx, target := range targets {
			if target.Kind == dbstore.PingRole {
				mentions[idx] = "<@&" + target.TargetID + ">"
			} else {
				mentions[idx] = "<@!" + target.TargetID + ">"
			}
		}
		c.respond(s, i, fmt.Sprintf("Group `%s`: %s", groupName, strings.Join(mentions, " ")))
	}
}

func pingKindFor(kind dbstore.IgnoreKind) (dbstore.PingKind, bool) {
	switch kind {
	case dbstore.IgnoreUser:
		return dbstore.PingUser, true
	case dbstore.IgnoreRole:
		return dbstore.PingRole, true
	}
	return "", false
}

// refreshPingGroup reloads a group's targets into the cache after a mutation.
func (c *Client) refreshPingGroup(communityID string, groupID int64) {
	targets, err := c.Store.ListPings(c.Ctx, groupID)
	if err != nil {
		level.Error(c.Ctx.Log()).Log("msg", "failed to refresh ping group", "group_id", groupID, "error", err.Error())
		return
	}
	c.Cache.SetPingGroup(communityID, groupID, targets)
}

func (c *Client) logChannelCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-log",
			Description: "Set the channel scan notifications go to, or unset it",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "channel",
					Description: "The notification channel; omit to disable notifications",
					Type:        discordgo.ApplicationCommandOptionChannel,
				},
			},
		},
		Handler: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			c.channelSettingHandler(s, i, "notifications", func(settings *dbstore.CommunitySettings, channelID string) {
				settings.LogChannelID = channelID
			})
		},
	}
}

func (c *Client) errorChannelCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-error-log",
			Description: "Set the channel scan failures are reported to, or unset it",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "channel",
					Description: "The error channel; omit to disable failure reports",
					Type:        discordgo.ApplicationCommandOptionChannel,
				},
			},
		},
		Handler: func(s *discordgo.Session, i *discordgo.InteractionCreate) {
			c.channelSettingHandler(s, i, "failure reports", func(settings *dbstore.CommunitySettings, channelID string) {
				settings.ErrorChannelID = channelID
			})
		},
	}
}

func (c *Client) channelSettingHandler(s *discordgo.Session, i *discordgo.InteractionCreate, what string, set func(*dbstore.CommunitySettings, string)) {
	var channelID string
	for _, option := range i.ApplicationCommandData().Options {
		if option.Name == "channel" {
			channelID = option.ChannelValue(nil).ID
		}
	}

	if err := c.updateSettings(i.GuildID, func(settings *dbstore.CommunitySettings) {
		set(settings, channelID)
	}); err != nil {
		level.Error(c.Ctx.Log()).Log("msg", "failed to update settings", "community_id", i.GuildID, "error", err.Error())
		c.respond(s, i, "Failed to update settings")
		return
	}
	if channelID == "" {
		c.respond(s, i, fmt.Sprintf("Disabled %s", what))
		return
	}
	c.respond(s, i, fmt.Sprintf("Sending %s to <#%s>", what, channelID))
}

func (c *Client) headerCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-header",
			Description: "Set the notification header template, or unset it",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "header",
					Description: "May use {patterns} {channel} {channel_ref} {user} {user_ref} {user_id}",
					Type:        discordgo.ApplicationCommandOptionString,
				},
			},
		},
		Handler: c.headerHandler,
	}
}

func (c *Client) headerHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var header string
	for _, option := range i.ApplicationCommandData().Options {
		if option.Name == "header" {
			header = option.StringValue()
		}
	}

	if err := c.updateSettings(i.GuildID, func(settings *dbstore.CommunitySettings) {
		settings.Header = header
	}); err != nil {
		level.Error(c.Ctx.Log()).Log("msg", "failed to update settings", "community_id", i.GuildID, "error", err.Error())
		c.respond(s, i, "Failed to update settings")
		return
	}
	if header == "" {
		c.respond(s, i, "Cleared the notification header")
		return
	}
	c.respond(s, i, "Set the notification header")
}

func (c *Client) prefixCommandConfig() CommandConfig {
	return CommandConfig{
		Command: &discordgo.ApplicationCommand{
			Name:        "ww-prefix",
			Description: "Set a command prefix messages may start with to skip scanning",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "prefix",
					Description: "The prefix; omit to scan every message",
					Type:        discordgo.ApplicationCommandOptionString,
				},
			},
		},
		Handler: c.prefixHandler,
	}
}

func (c *Client) prefixHandler(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var prefix string
	for _, option := range i.ApplicationCommandData().Options {
		if option.Name == "prefix" {
			prefix = option.StringValue()
		}
	}

	if err := c.updateSettings(i.GuildID, func(settings *dbstore.CommunitySettings) {
		settings.Prefix = prefix
	}); err != nil {
		level.Error(c.Ctx.Log()).Log("msg", "failed to update settings", "community_id", i.GuildID, "error", err.Error())
		c.respond(s, i, "Failed to update settings")
		return
	}
	if prefix == "" {
		c.respond(s, i, "Cleared the prefix; every message is scanned")
		return
	}
	c.respond(s, i, fmt.Sprintf("Messages starting with `%s` are not scanned", prefix))
}

// updateSettings round-trips the persisted settings through a mutation and
// mirrors the result into the cache.
func (c *Client) updateSettings(communityID string, mutate func(*dbstore.CommunitySettings)) error {
	settings, err := c.Store.GetSettings(c.Ctx, communityID)
	if err != nil {
		return errors.Wrap(err, "failed to read settings")
	}
	settings.CommunityID = communityID
	mutate(&settings)
	if err := c.Store.UpsertSettings(c.Ctx, settings); err != nil {
		return errors.Wrap(err, "failed to persist settings")
	}
	c.Cache.SetSettings(communityID, cache.Settings{
		LogChannelID:   settings.LogChannelID,
		ErrorChannelID: settings.ErrorChannelID,
		Header:         settings.Header,
		Prefix:         settings.Prefix,
	})
	return nil
}
