package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxpkg "wordwatch/internal/context"
	"wordwatch/internal/dbstore"
	"wordwatch/internal/rules"
)

type fakeStore struct {
	rules    []rules.WatchRule
	ignores  []dbstore.IgnoreEntry
	groups   []dbstore.PingGroup
	pings    []dbstore.PingTarget
	settings []dbstore.CommunitySettings

	deletedRules       []int64
	deletedCommunities []string
}

func (f *fakeStore) ListAllRules(context.Context) ([]rules.WatchRule, error) { return f.rules, nil }
func (f *fakeStore) ListAllIgnores(context.Context) ([]dbstore.IgnoreEntry, error) {
	return f.ignores, nil
}
func (f *fakeStore) ListAllPingGroups(context.Context) ([]dbstore.PingGroup, error) {
	return f.groups, nil
}
func (f *fakeStore) ListAllPings(context.Context) ([]dbstore.PingTarget, error) {
	return f.pings, nil
}
func (f *fakeStore) ListAllSettings(context.Context) ([]dbstore.CommunitySettings, error) {
	return f.settings, nil
}
func (f *fakeStore) DeleteRule(_ context.Context, id int64) error {
	f.deletedRules = append(f.deletedRules, id)
	return nil
}
func (f *fakeStore) DeleteCommunityData(_ context.Context, communityID string) error {
	f.deletedCommunities = append(f.deletedCommunities, communityID)
	return nil
}

func testCtx() ctxpkg.Ctx {
	return ctxpkg.New(context.Background())
}

func mustCompile(t *testing.T, rule rules.WatchRule) rules.CompiledRule {
	t.Helper()
	compiled, err := rules.Compile(rule)
	require.NoError(t, err)
	return compiled
}

func TestInitialize_BuildsEntriesPerJoinedCommunity(t *testing.T) {
	store := &fakeStore{
		rules: []rules.WatchRule{
			{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains},
			{ID: 2, CommunityID: "g2", Pattern: "scam", MatchType: rules.MatchWord},
		},
		ignores: []dbstore.IgnoreEntry{
			{ID: 1, CommunityID: "g1", TargetID: "chan-1", Kind: dbstore.IgnoreChannel},
		},
		groups: []dbstore.PingGroup{{ID: 10, CommunityID: "g1", Name: "mods"}},
		pings: []dbstore.PingTarget{
			{ID: 1, GroupID: 10, Kind: dbstore.PingRole, TargetID: "role-1"},
		},
		settings: []dbstore.CommunitySettings{
			{CommunityID: "g1", LogChannelID: "log-1", Header: "alert"},
		},
	}

	c, err := Initialize(testCtx(), store, []string{"g1", "g2"})
	require.NoError(t, err)

	assert.Len(t, c.Rules("g1"), 1)
	assert.Len(t, c.Rules("g2"), 1)
	assert.True(t, c.IsIgnored("g1", "chan-1", "", "author", nil))
	assert.Equal(t, "log-1", c.Settings("g1").LogChannelID)
	assert.Len(t, c.PingTargets("g1", []int64{10}), 1)
	assert.Empty(t, store.deletedRules)
	assert.Empty(t, store.deletedCommunities)
}

func TestInitialize_DeletesOrphanedCommunityData(t *testing.T) {
	store := &fakeStore{
		rules: []rules.WatchRule{
			{ID: 1, CommunityID: "gone", Pattern: "spam", MatchType: rules.MatchContains},
		},
		ignores: []dbstore.IgnoreEntry{
			{ID: 1, CommunityID: "gone", TargetID: "chan-1", Kind: dbstore.IgnoreChannel},
		},
	}

	c, err := Initialize(testCtx(), store, []string{"g1"})
	require.NoError(t, err)

	assert.Empty(t, c.Rules("gone"))
	assert.Equal(t, []string{"gone"}, store.deletedCommunities)
}

func TestInitialize_DeletesUncompilableRules(t *testing.T) {
	store := &fakeStore{
		rules: []rules.WatchRule{
			{ID: 1, CommunityID: "g1", Pattern: "([", MatchType: rules.MatchRegex},
			{ID: 2, CommunityID: "g1", Pattern: "ok", MatchType: rules.MatchWord},
		},
	}

	c, err := Initialize(testCtx(), store, []string{"g1"})
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, store.deletedRules)
	require.Len(t, c.Rules("g1"), 1)
	assert.Equal(t, int64(2), c.Rules("g1")[0].ID)
}

func TestLoad_ReplacesExistingState(t *testing.T) {
	c := New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 99, CommunityID: "stale", Pattern: "old", MatchType: rules.MatchContains}))

	store := &fakeStore{
		rules: []rules.WatchRule{
			{ID: 1, CommunityID: "g1", Pattern: "spam", MatchType: rules.MatchContains},
		},
	}
	require.NoError(t, c.Load(testCtx(), store, []string{"g1"}))

	assert.False(t, c.Has("stale"))
	assert.Len(t, c.Rules("g1"), 1)
}

func TestPutRule_ReplacesById(t *testing.T) {
	c := New()
	c.AddCommunity("g1")

	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "a", MatchType: rules.MatchContains}))
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 2, CommunityID: "g1", Pattern: "b", MatchType: rules.MatchContains}))
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "c", MatchType: rules.MatchContains, AutoDelete: true}))

	cached := c.Rules("g1")
	require.Len(t, cached, 2)
	assert.Equal(t, "c", cached[0].Pattern)
	assert.True(t, cached[0].AutoDelete)
	assert.Equal(t, "b", cached[1].Pattern)
}

func TestRemoveRule_Splices(t *testing.T) {
	c := New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "a", MatchType: rules.MatchContains}))
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 2, CommunityID: "g1", Pattern: "b", MatchType: rules.MatchContains}))

	c.RemoveRule("g1", 1)
	cached := c.Rules("g1")
	require.Len(t, cached, 1)
	assert.Equal(t, int64(2), cached[0].ID)

	c.RemoveRule("g1", 42) // unknown id is a no-op
	assert.Len(t, c.Rules("g1"), 1)
}

func TestRules_SnapshotIsolatedFromMutation(t *testing.T) {
	c := New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "a", MatchType: rules.MatchContains}))

	snapshot := c.Rules("g1")
	c.RemoveRule("g1", 1)

	require.Len(t, snapshot, 1)
	assert.Empty(t, c.Rules("g1"))
}

func TestIsIgnored(t *testing.T) {
	c := New()
	c.AddIgnore("g1", "chan-1")
	c.AddIgnore("g1", "cat-1")
	c.AddIgnore("g1", "user-1")
	c.AddIgnore("g1", "role-1")

	assert.True(t, c.IsIgnored("g1", "chan-1", "", "u", nil))
	assert.True(t, c.IsIgnored("g1", "chan-2", "cat-1", "u", nil))
	assert.True(t, c.IsIgnored("g1", "chan-2", "", "user-1", nil))
	assert.True(t, c.IsIgnored("g1", "chan-2", "", "u", []string{"role-9", "role-1"}))
	assert.False(t, c.IsIgnored("g1", "chan-2", "cat-2", "u", []string{"role-9"}))
	assert.False(t, c.IsIgnored("g2", "chan-1", "", "u", nil))

	c.RemoveIgnore("g1", "chan-1")
	assert.False(t, c.IsIgnored("g1", "chan-1", "", "u", nil))
}

func TestRemoveCommunity_DropsEntry(t *testing.T) {
	c := New()
	c.PutRule(mustCompile(t, rules.WatchRule{ID: 1, CommunityID: "g1", Pattern: "a", MatchType: rules.MatchContains}))
	require.True(t, c.Has("g1"))

	c.RemoveCommunity("g1")
	assert.False(t, c.Has("g1"))
	assert.Empty(t, c.Rules("g1"))
}

func TestPingTargets_Deduplicates(t *testing.T) {
	c := New()
	c.SetPingGroup("g1", 1, []dbstore.PingTarget{
		{GroupID: 1, Kind: dbstore.PingRole, TargetID: "r1"},
		{GroupID: 1, Kind: dbstore.PingUser, TargetID: "u1"},
	})
	c.SetPingGroup("g1", 2, []dbstore.PingTarget{
		{GroupID: 2, Kind: dbstore.PingRole, TargetID: "r1"},
		{GroupID: 2, Kind: dbstore.PingUser, TargetID: "u2"},
	})

	targets := c.PingTargets("g1", []int64{1, 2})
	assert.Len(t, targets, 3)

	// deleted group stops producing pings but the reference stays harmless
	c.RemovePingGroup("g1", 2)
	assert.Len(t, c.PingTargets("g1", []int64{1, 2}), 2)
}
