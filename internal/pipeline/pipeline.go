// Package pipeline drains the scan queue and turns rule matches into
// moderation actions and notifications. Exactly one Run loop processes jobs,
// one at a time, so scans never race each other on the cache.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"wordwatch/internal/cache"
	ctxpkg "wordwatch/internal/context"
	"wordwatch/internal/dbstore"
	"wordwatch/internal/matcher"
	"wordwatch/internal/queue"
	"wordwatch/internal/ranges"
	"wordwatch/internal/rules"
)

// ErrAlreadyGone marks a side effect whose desired end state already holds:
// the message was deleted by someone else, the user is already banned or has
// left. Callers treat it as success.
var ErrAlreadyGone = errors.New("target already gone")

// maxDescriptionLength is the transport's embed description limit. A
// composed notification that exceeds it degrades to a jump link.
const maxDescriptionLength = 4096

// Notification is a composed scan report ready for the messaging platform.
type Notification struct {
	// Content is the community's header after placeholder substitution,
	// plus any ping mentions. May be empty.
	Content string
	// Description is the report body: highlighted content, the triggered
	// patterns, and message metadata.
	Description string
	// AuthorLine summarizes the event for the embed author header.
	AuthorLine string
}

// Messenger is the messaging-platform surface the pipeline needs for side
// effects and notifications.
type Messenger interface {
	DeleteMessage(ctx ctxpkg.Ctx, channelID, messageID string) error
	BanUser(ctx ctxpkg.Ctx, communityID, userID string, severity int, reason string) error
	SendNotification(ctx ctxpkg.Ctx, channelID string, notification Notification) error
	SendError(ctx ctxpkg.Ctx, channelID, report string) error
}

// Pipeline consumes scan jobs and applies the community's rules to each.
type Pipeline struct {
	ctx       ctxpkg.Ctx
	cache     *cache.Cache
	queue     *queue.Queue
	messenger Messenger
}

func New(ctx ctxpkg.Ctx, ruleCache *cache.Cache, scanQueue *queue.Queue, messenger Messenger) *Pipeline {
	return &Pipeline{
		ctx:       ctx,
		cache:     ruleCache,
		queue:     scanQueue,
		messenger: messenger,
	}
}

// Run drains the queue until it is closed and drained. Each job is isolated:
// a failure while scanning one message never stops the loop.
func (p *Pipeline) Run() {
	level.Info(p.ctx.Log()).Log("msg", "scanner started")
	for {
		job, ok := p.queue.Get()
		if !ok {
			level.Info(p.ctx.Log()).Log("msg", "scanner stopped")
			return
		}
		p.process(job)
	}
}

// ruleMatch is one span produced by one rule.
type ruleMatch struct {
	rule rules.CompiledRule
	span matcher.Span
}

func (p *Pipeline) process(job *queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(p.ctx.Log()).Log(
				"msg", "panic while scanning message",
				"community_id", job.CommunityID,
				"message_id", job.MessageID,
				"panic", fmt.Sprintf("%v", r),
			)
			p.reportFailure(job, fmt.Sprintf("panic while scanning message %s: %v", job.MessageID, r))
		}
	}()

	if p.cache.IsIgnored(job.CommunityID, job.ChannelID, job.CategoryID, job.AuthorID, job.RoleIDs) {
		return
	}

	// every rule runs even after a delete-triggering match, so one message
	// can report several distinct triggered patterns
	text := matcher.PrepareText(job.Content)
	var matches []ruleMatch
	for _, rule := range p.cache.Rules(job.CommunityID) {
		for _, span := range rule.FindMatches(text) {
			matches = append(matches, ruleMatch{rule: rule, span: span})
		}
	}
	if len(matches) == 0 {
		return
	}

	patterns := distinctPatterns(matches)
	shouldDelete, banSeverity := decideActions(matches)

	var failures []string

	deleted := false
	if shouldDelete {
		err := p.messenger.DeleteMessage(p.ctx, job.ChannelID, job.MessageID)
		if err == nil || errors.Is(err, ErrAlreadyGone) {
			deleted = true
		} else {
			level.Error(p.ctx.Log()).Log("msg", "failed to delete message", "message_id", job.MessageID, "error", err.Error())
			failures = append(failures, fmt.Sprintf("delete failed: %v", err))
		}
	}

	// independent of the delete outcome
	if banSeverity != nil {
		reason := fmt.Sprintf("watched pattern match: %s", strings.Join(patterns, ", "))
		err := p.messenger.BanUser(p.ctx, job.CommunityID, job.AuthorID, *banSeverity, reason)
		if err != nil && !errors.Is(err, ErrAlreadyGone) {
			level.Error(p.ctx.Log()).Log("msg", "failed to ban user", "user_id", job.AuthorID, "error", err.Error())
			failures = append(failures, fmt.Sprintf("ban failed: %v", err))
		}
	}

	if err := p.notify(job, matches, patterns, deleted); err != nil {
		level.Error(p.ctx.Log()).Log("msg", "failed to send notification", "community_id", job.CommunityID, "error", err.Error())
		failures = append(failures, fmt.Sprintf("notification failed: %v", err))
	}

	if len(failures) > 0 {
		p.reportFailure(job, strings.Join(failures, "; "))
	}
}

// decideActions folds action flags across all matched rules: delete is an OR
// over auto_delete, ban severity the MAX over rules that specify one.
func decideActions(matches []ruleMatch) (shouldDelete bool, banSeverity *int) {
	for _, m := range matches {
		if m.rule.AutoDelete {
			shouldDelete = true
		}
		if s := m.rule.BanSeverity; s != nil {
			if banSeverity == nil || *s > *banSeverity {
				v := *s
				banSeverity = &v
			}
		}
	}
	return shouldDelete, banSeverity
}

func distinctPatterns(matches []ruleMatch) []string {
	seen := make(map[string]struct{}, len(matches))
	var patterns []string
	for _, m := range matches {
		if _, dup := seen[m.rule.Pattern]; dup {
			continue
		}
		seen[m.rule.Pattern] = struct{}{}
		patterns = append(patterns, m.rule.Pattern)
	}
	return patterns
}

func (p *Pipeline) notify(job *queue.Job, matches []ruleMatch, patterns []string, deleted bool) error {
	settings := p.cache.Settings(job.CommunityID)
	if settings.LogChannelID == "" {
		return nil
	}

	quoted := make([]string, len(patterns))
	for i, pattern := range patterns {
		quoted[i] = "`" + pattern + "`"
	}
	patternList := strings.Join(quoted, ", ")

	var positions []int
	for _, m := range matches {
		for i := m.span.Start; i < m.span.End; i++ {
			positions = append(positions, i)
		}
	}
	highlighted := ranges.Bold([]rune(job.Content), ranges.Merge(positions))

	jumpLink := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", job.CommunityID, job.ChannelID, job.MessageID)

	descriptionEntries := []string{
		highlighted,
		"",
		fmt.Sprintf("User: %s", userRef(job.AuthorID)),
		fmt.Sprintf("%s: %s", pluralize("Pattern", "Patterns", len(patterns)), patternList),
		fmt.Sprintf("Channel: %s", channelRef(job.ChannelID)),
		fmt.Sprintf("Time: %s", job.Timestamp.Format("02/01/06 03:04:05 PM")),
		fmt.Sprintf("Deleted: %s", yesNo(deleted)),
		fmt.Sprintf("Message: %s", jumpLink),
	}
	description := strings.Join(descriptionEntries, "\n")
	if len([]rune(description)) > maxDescriptionLength {
		description = fmt.Sprintf("Message: %s", jumpLink)
	}

	notification := Notification{
		Description: description,
		AuthorLine:  fmt.Sprintf("%s triggered %s in #%s", job.AuthorName, patternList, job.ChannelName),
		Content:     p.composeContent(job, settings, matches, patternList),
	}

	return p.messenger.SendNotification(p.ctx, settings.LogChannelID, notification)
}

// composeContent renders the community's header template plus the ping
// mentions drawn from the matched rules' ping groups.
func (p *Pipeline) composeContent(job *queue.Job, settings cache.Settings, matches []ruleMatch, patternList string) string {
	var parts []string

	if settings.Header != "" {
		parts = append(parts, strings.NewReplacer(
			"{patterns}", patternList,
			"{channel}", job.ChannelName,
			"{channel_ref}", channelRef(job.ChannelID),
			"{user}", job.AuthorName,
			"{user_ref}", userRef(job.AuthorID),
			"{user_id}", job.AuthorID,
		).Replace(settings.Header))
	}

	var groupIDs []int64
	for _, m := range matches {
		if m.rule.PingGroupID != nil {
			groupIDs = append(groupIDs, *m.rule.PingGroupID)
		}
	}
	if targets := p.cache.PingTargets(job.CommunityID, groupIDs); len(targets) > 0 {
		mentions := make([]string, len(targets))
		for i, target := range targets {
			mentions[i] = pingMention(target)
		}
		parts = append(parts, strings.Join(mentions, " "))
	}

	return strings.Join(parts, "\n")
}

func (p *Pipeline) reportFailure(job *queue.Job, report string) {
	settings := p.cache.Settings(job.CommunityID)
	if settings.ErrorChannelID == "" {
		return
	}
	if err := p.messenger.SendError(p.ctx, settings.ErrorChannelID, report); err != nil {
		level.Error(p.ctx.Log()).Log("msg", "failed to report scan failure", "community_id", job.CommunityID, "error", err.Error())
	}
}

func userRef(id string) string    { return "<@!" + id + ">" }
func channelRef(id string) string { return "<#" + id + ">" }
func roleRef(id string) string    { return "<@&" + id + ">" }

func pingMention(target dbstore.PingTarget) string {
	if target.Kind == dbstore.PingRole {
		return roleRef(target.TargetID)
	}
	return userRef(target.TargetID)
}

func pluralize(singular, plural string, n int) string {
	if n == 1 {
		return singular
	}
	return plural
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
