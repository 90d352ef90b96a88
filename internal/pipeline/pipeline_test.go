package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wordwatch/internal/cache"
	ctxpkg "wordwatch/internal/context"
	"wordwatch/internal/dbstore"
	"wordwatch/internal/queue"
	"wordwatch/internal/rules"
)

type banCall struct {
	communityID string
	userID      string
	severity    int
	reason      string
}

type sendCall struct {
	channelID    string
	notification Notification
}

type fakeMessenger struct {
	deletes       []string
	deleteErr     error
	panicOnDelete bool
	bans          []banCall
	banErr        error
	sent          []sendCall
	sendErr       error
	reports       []string
}

func (f *fakeMessenger) DeleteMessage(_ ctxpkg.Ctx, channelID, messageID string) error {
	if f.panicOnDelete {
		panic("messenger exploded")
	}
	f.deletes = append(f.deletes, channelID+"/"+messageID)
	return f.deleteErr
}

func (f *fakeMessenger) BanUser(_ ctxpkg.Ctx, communityID, userID string, severity int, reason string) error {
	f.bans = append(f.bans, banCall{communityID, userID, severity, reason})
	return f.banErr
}

func (f *fakeMessenger) SendNotification(_ ctxpkg.Ctx, channelID string, notification Notification) error {
	f.sent = append(f.sent, sendCall{channelID, notification})
	return f.sendErr
}

func (f *fakeMessenger) SendError(_ ctxpkg.Ctx, channelID, report string) error {
	f.reports = append(f.reports, report)
	return nil
}

func intPtr(v int) *int     { return &v }
func int64Ptr(v int64) *int64 { return &v }

func mustCompile(t *testing.T, rule rules.WatchRule) rules.CompiledRule {
	t.Helper()
	compiled, err := rules.Compile(rule)
	require.NoError(t, err)
	return compiled
}

func newPipeline(t *testing.T, c *cache.Cache) (*Pipeline, *fakeMessenger, *queue.Queue) {
	t.Helper()
	messenger := &fakeMessenger{}
	q := queue.New(16)
	return New(ctxpkg.New(context.Background()), c, q, messenger), messenger, q
}

func job(content string) *queue.Job {
	return &queue.Job{
		CommunityID: "g1",
		ChannelID:   "chan-1",
		ChannelName: "general",
		MessageID:   "msg-1",
		AuthorID:    "user-1",
		AuthorName:  "alice",
		Content:     content,
		Timestamp:   time.Date(2024, 5, 17, 14, 30, 0, 0, time.UTC),
	}
}

func TestProcess_AccumulatesAllMatchedRules(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains}))
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 2, CommunityID: "g1", Pattern: "scam", MatchType: rules.MatchWord, AutoDelete: true}))
	c.SetSettings("g1", cache.Settings{LogChannelID: "log-1"})

	p, messenger, _ := newPipeline(t, c)
	p.process(job("this is not spam or a scam"))

	// OR over auto_delete fires the deletion
	assert.Equal(t, []string{"chan-1/msg-1"}, messenger.deletes)

	require.Len(t, messenger.sent, 1)
	sent := messenger.sent[0]
	assert.Equal(t, "log-1", sent.channelID)
	assert.Contains(t, sent.notification.Description, "`spam`")
	assert.Contains(t, sent.notification.Description, "`scam`")
	assert.Contains(t, sent.notification.Description, "**spam**")
	assert.Contains(t, sent.notification.Description, "**scam**")
	assert.Contains(t, sent.notification.Description, "Deleted: yes")
	assert.Contains(t, sent.notification.Description, "Patterns:")
}

func TestProcess_IgnoredChannelNeverMatches(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains, AutoDelete: true}))
	c.SetSettings("g1", cache.Settings{LogChannelID: "log-1"})
	c.AddIgnore("g1", "chan-1")

	p, messenger, _ := newPipeline(t, c)
	p.process(job("spam spam spam"))

	assert.Empty(t, messenger.deletes)
	assert.Empty(t, messenger.sent)
}

func TestProcess_NoMatchesIsSilent(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchWord}))
	c.SetSettings("g1", cache.Settings{LogChannelID: "log-1"})

	p, messenger, _ := newPipeline(t, c)
	p.process(job("perfectly fine message"))

	assert.Empty(t, messenger.deletes)
	assert.Empty(t, messenger.bans)
	assert.Empty(t, messenger.sent)
}

func TestProcess_BanSeverityIsMaxAcrossRules(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains, BanSeverity: intPtr(2)}))
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 2, CommunityID: "g1", Pattern: "scam", MatchType: rules.MatchContains, BanSeverity: intPtr(6)}))

	p, messenger, _ := newPipeline(t, c)
	p.process(job("spam and scam"))

	require.Len(t, messenger.bans, 1)
	assert.Equal(t, 6, messenger.bans[0].severity)
	assert.Equal(t, "user-1", messenger.bans[0].userID)
	assert.Contains(t, messenger.bans[0].reason, "spam")
	assert.Contains(t, messenger.bans[0].reason, "scam")
}

func TestProcess_NoSeverityMeansNoBan(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains, AutoDelete: true}))

	p, messenger, _ := newPipeline(t, c)
	p.process(job("spam"))

	assert.Empty(t, messenger.bans)
}

func TestProcess_ToleratesAlreadyGone(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains, AutoDelete: true, BanSeverity: intPtr(1)}))
	c.SetSettings("g1", cache.Settings{LogChannelID: "log-1", ErrorChannelID: "err-1"})

	p, messenger, _ := newPipeline(t, c)
	messenger.deleteErr = ErrAlreadyGone
	messenger.banErr = ErrAlreadyGone
	p.process(job("spam"))

	assert.Empty(t, messenger.reports)
	require.Len(t, messenger.sent, 1)
	// already gone counts as deleted
	assert.Contains(t, messenger.sent[0].notification.Description, "Deleted: yes")
}

func TestProcess_DeleteFailureDoesNotPreventBan(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains, AutoDelete: true, BanSeverity: intPtr(3)}))
	c.SetSettings("g1", cache.Settings{LogChannelID: "log-1", ErrorChannelID: "err-1"})

	p, messenger, _ := newPipeline(t, c)
	messenger.deleteErr = assert.AnError
	p.process(job("spam"))

	require.Len(t, messenger.bans, 1)
	require.Len(t, messenger.sent, 1)
	assert.Contains(t, messenger.sent[0].notification.Description, "Deleted: no")
	require.Len(t, messenger.reports, 1)
	assert.Contains(t, messenger.reports[0], "delete failed")
}

func TestProcess_NoLogChannelSkipsNotification(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains, AutoDelete: true}))

	p, messenger, _ := newPipeline(t, c)
	p.process(job("spam"))

	assert.Equal(t, []string{"chan-1/msg-1"}, messenger.deletes)
	assert.Empty(t, messenger.sent)
}

func TestProcess_HeaderSubstitutionAndPings(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains, PingGroupID: int64Ptr(7)}))
	c.SetPingGroup("g1", 7, []dbstore.PingTarget{
		{GroupID: 7, Kind: dbstore.PingRole, TargetID: "mods"},
		{GroupID: 7, Kind: dbstore.PingUser, TargetID: "admin"},
	})
	c.SetSettings("g1", cache.Settings{
		LogChannelID: "log-1",
		Header:       "{patterns} by {user} ({user_id}) in {channel} {channel_ref} {user_ref}",
	})

	p, messenger, _ := newPipeline(t, c)
	p.process(job("spam"))

	require.Len(t, messenger.sent, 1)
	content := messenger.sent[0].notification.Content
	assert.Contains(t, content, "`spam` by alice (user-1) in general <#chan-1> <@!user-1>")
	assert.Contains(t, content, "<@&mods>")
	assert.Contains(t, content, "<@!admin>")
}

func TestProcess_OversizeNotificationFallsBackToJumpLink(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains}))
	c.SetSettings("g1", cache.Settings{LogChannelID: "log-1"})

	p, messenger, _ := newPipeline(t, c)
	p.process(job("spam " + strings.Repeat("x", 5000)))

	require.Len(t, messenger.sent, 1)
	description := messenger.sent[0].notification.Description
	assert.Equal(t, "Message: https://discord.com/channels/g1/chan-1/msg-1", description)
}

func TestProcess_PanicIsContainedAndReported(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains, AutoDelete: true}))
	c.SetSettings("g1", cache.Settings{ErrorChannelID: "err-1"})

	p, messenger, _ := newPipeline(t, c)
	messenger.panicOnDelete = true

	assert.NotPanics(t, func() { p.process(job("spam")) })
	require.Len(t, messenger.reports, 1)
	assert.Contains(t, messenger.reports[0], "panic")
}

func TestRun_DrainsQueueAndStopsOnClose(t *testing.T) {
	c := cache.New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains, AutoDelete: true}))

	p, messenger, q := newPipeline(t, c)

	done := make(chan struct{})
	go func() {
		p.Run()
		close(done)
	}()

	q.Put(job("spam one"))
	q.Put(job("spam two"))
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after Close")
	}
	assert.Len(t, messenger.deletes, 2)
}
