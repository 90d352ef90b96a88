// Package cache holds the per-community compiled rules, ignore sets, ping
// groups, and notification settings the scanner reads on every job. It is
// the only state shared between the ingestion path and the scanner, and it
// is only ever mutated through its own methods.
package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	ctxpkg "wordwatch/internal/context"
	"wordwatch/internal/dbstore"
	"wordwatch/internal/rules"
)

// Settings is the cached per-community scanner configuration. Empty strings
// mean unset.
type Settings struct {
	LogChannelID   string
	ErrorChannelID string
	Header         string
	Prefix         string
}

type entry struct {
	rules    []rules.CompiledRule
	ignored  map[string]struct{}
	pings    map[int64][]dbstore.PingTarget
	settings Settings
}

func newEntry() *entry {
	return &entry{
		ignored: make(map[string]struct{}),
		pings:   make(map[int64][]dbstore.PingTarget),
	}
}

// Cache maps community ids to their cache entries.
type Cache struct {
	mu          sync.RWMutex
	communities map[string]*entry
}

func New() *Cache {
	return &Cache{communities: make(map[string]*entry)}
}

// LoadStore is the slice of the persistent store Initialize needs.
type LoadStore interface {
	ListAllRules(ctx context.Context) ([]rules.WatchRule, error)
	ListAllIgnores(ctx context.Context) ([]dbstore.IgnoreEntry, error)
	ListAllPingGroups(ctx context.Context) ([]dbstore.PingGroup, error)
	ListAllPings(ctx context.Context) ([]dbstore.PingTarget, error)
	ListAllSettings(ctx context.Context) ([]dbstore.CommunitySettings, error)
	DeleteRule(ctx context.Context, id int64) error
	DeleteCommunityData(ctx context.Context, communityID string) error
}

// Initialize builds one entry per joined community from the persistent
// store. Records referencing communities the bot no longer belongs to are
// deleted rather than silently skipped, as are persisted rules that no
// longer compile. Only a store that cannot be read at all is fatal.
func Initialize(ctx ctxpkg.Ctx, store LoadStore, communityIDs []string) (*Cache, error) {
	c := New()
	if err := c.Load(ctx, store, communityIDs); err != nil {
		return nil, err
	}
	return c, nil
}

// Load populates the cache from the persistent store, replacing whatever it
// held before. The swap is atomic under the lock so readers never observe a
// half-built cache.
func (c *Cache) Load(ctx ctxpkg.Ctx, store LoadStore, communityIDs []string) error {
	communities := make(map[string]*entry, len(communityIDs))
	for _, id := range communityIDs {
		communities[id] = newEntry()
	}

	orphans := make(map[string]struct{})
	joined := func(communityID string) bool {
		_, ok := communities[communityID]
		if !ok {
			orphans[communityID] = struct{}{}
		}
		return ok
	}

	allRules, err := store.ListAllRules(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list rules")
	}
	for _, rule := range allRules {
		if !joined(rule.CommunityID) {
			continue
		}
		compiled, err := rules.Compile(rule)
		if err != nil {
			// a rule that cannot compile must not stay resident: it would
			// silently skip on every future scan
			level.Warn(ctx.Log()).Log(
				"msg", "deleting uncompilable rule",
				"rule_id", rule.ID,
				"community_id", rule.CommunityID,
				"error", err.Error(),
			)
			if err := store.DeleteRule(ctx, rule.ID); err != nil {
				level.Error(ctx.Log()).Log("msg", "failed to delete uncompilable rule", "rule_id", rule.ID, "error", err.Error())
			}
			continue
		}
		e := communities[rule.CommunityID]
		e.rules = append(e.rules, compiled)
	}

	ignores, err := store.ListAllIgnores(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list ignores")
	}
	for _, ignore := range ignores {
		if !joined(ignore.CommunityID) {
			continue
		}
		communities[ignore.CommunityID].ignored[ignore.TargetID] = struct{}{}
	}

	groups, err := store.ListAllPingGroups(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list ping groups")
	}
	groupCommunity := make(map[int64]string, len(groups))
	for _, group := range groups {
		if !joined(group.CommunityID) {
			continue
		}
		groupCommunity[group.ID] = group.CommunityID
	}

	pings, err := store.ListAllPings(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list pings")
	}
	for _, ping := range pings {
		communityID, ok := groupCommunity[ping.GroupID]
		if !ok {
			continue
		}
		e := communities[communityID]
		e.pings[ping.GroupID] = append(e.pings[ping.GroupID], ping)
	}

	allSettings, err := store.ListAllSettings(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list settings")
	}
	for _, s := range allSettings {
		if !joined(s.CommunityID) {
			continue
		}
		communities[s.CommunityID].settings = Settings{
			LogChannelID:   s.LogChannelID,
			ErrorChannelID: s.ErrorChannelID,
			Header:         s.Header,
			Prefix:         s.Prefix,
		}
	}

	for communityID := range orphans {
		level.Info(ctx.Log()).Log("msg", "deleting data for unjoined community", "community_id", communityID)
		if err := store.DeleteCommunityData(ctx, communityID); err != nil {
			level.Error(ctx.Log()).Log("msg", "failed orphan cleanup", "community_id", communityID, "error", err.Error())
		}
	}

	c.mu.Lock()
	c.communities = communities
	c.mu.Unlock()
	return nil
}

func (c *Cache) ensure(communityID string) *entry {
	e, ok := c.communities[communityID]
	if !ok {
		e = newEntry()
		c.communities[communityID] = e
	}
	return e
}

// AddCommunity creates an empty entry for a newly joined community.
func (c *Cache) AddCommunity(communityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(communityID)
}

// RemoveCommunity drops a community's entry entirely.
func (c *Cache) RemoveCommunity(communityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.communities, communityID)
}

func (c *Cache) Has(communityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.communities[communityID]
	return ok
}

// Rules returns a snapshot of the community's compiled rules. The copy means
// an in-flight scan never observes a partially spliced list.
func (c *Cache) Rules(communityID string) []rules.CompiledRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.communities[communityID]
	if !ok || len(e.rules) == 0 {
		return nil
	}
	return append([]rules.CompiledRule(nil), e.rules...)
}

// PutRule inserts a compiled rule, replacing any cached rule with the same
// id. Updates are remove-then-insert, never a full rebuild.
func (c *Cache) PutRule(rule rules.CompiledRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.ensure(rule.CommunityID)
	for i := range e.rules {
		if e.rules[i].ID == rule.ID {
			e.rules[i] = rule
			return
		}
	}
	e.rules = append(e.rules, rule)
}

// RemoveRule splices a rule out of the community's list.
func (c *Cache) RemoveRule(communityID string, ruleID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.communities[communityID]
	if !ok {
		return
	}
	for i := range e.rules {
		if e.rules[i].ID == ruleID {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return
		}
	}
}

// ClearRules drops every rule for a community, keeping ignores and settings.
func (c *Cache) ClearRules(communityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.communities[communityID]; ok {
		e.rules = nil
	}
}

func (c *Cache) AddIgnore(communityID, targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(communityID).ignored[targetID] = struct{}{}
}

func (c *Cache) RemoveIgnore(communityID, targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.communities[communityID]; ok {
		delete(e.ignored, targetID)
	}
}

// Ignored returns a snapshot of the community's ignored target ids.
func (c *Cache) Ignored(communityID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.communities[communityID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.ignored))
	for id := range e.ignored {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsIgnored reports whether the message's channel, parent category, author,
// or any of the author's roles is exempt from scanning. This runs before any
// matching work.
func (c *Cache) IsIgnored(communityID, channelID, categoryID, authorID string, roleIDs []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.communities[communityID]
	if !ok || len(e.ignored) == 0 {
		return false
	}
	if _, ok := e.ignored[channelID]; ok {
		return true
	}
	if categoryID != "" {
		if _, ok := e.ignored[categoryID]; ok {
			return true
		}
	}
	if _, ok := e.ignored[authorID]; ok {
		return true
	}
	for _, roleID := range roleIDs {
		if _, ok := e.ignored[roleID]; ok {
			return true
		}
	}
	return false
}

func (c *Cache) Settings(communityID string) Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.communities[communityID]; ok {
		return e.settings
	}
	return Settings{}
}

func (c *Cache) SetSettings(communityID string, settings Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(communityID).settings = settings
}

// SetPingGroup replaces the cached targets of a ping group.
func (c *Cache) SetPingGroup(communityID string, groupID int64, targets []dbstore.PingTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure(communityID).pings[groupID] = append([]dbstore.PingTarget(nil), targets...)
}

// RemovePingGroup drops a group from the cache. Rules referencing it simply
// stop producing pings.
func (c *Cache) RemovePingGroup(communityID string, groupID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.communities[communityID]; ok {
		delete(e.pings, groupID)
	}
}

// PingTargets returns the deduplicated targets of the given ping groups.
func (c *Cache) PingTargets(communityID string, groupIDs []int64) []dbstore.PingTarget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.communities[communityID]
	if !ok {
		return nil
	}

	type targetKey struct {
		kind     dbstore.PingKind
		targetID string
	}
	seen := make(map[targetKey]struct{})
	var out []dbstore.PingTarget
	for _, groupID := range groupIDs {
		for _, target := range e.pings[groupID] {
			key := targetKey{kind: target.Kind, targetID: target.TargetID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, target)
		}
	}
	return out
}
