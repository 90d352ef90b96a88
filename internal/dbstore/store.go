// Package dbstore persists watch rules, ignore entries, ping groups, and
// per-community settings.
package dbstore

import (
	"context"
	"errors"

	"wordwatch/internal/rules"
)

const (
	EnvPostgresURI      = "postgres.address"
	EnvPostgresDatabase = "postgres.database"
	EnvPostgresUser     = "postgres.user"
	EnvPostgresPassword = "postgres.password"
)

var (
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("record already exists")
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
)

// IgnoreKind classifies what an ignore entry exempts from scanning.
type IgnoreKind string

const (
	IgnoreChannel IgnoreKind = "channel"
	IgnoreRole    IgnoreKind = "role"
	IgnoreUser    IgnoreKind = "user"
)

// IgnoreEntry exempts a channel, role, or user from all matching.
type IgnoreEntry struct {
	ID          int64
	CommunityID string
	TargetID    string
	Kind        IgnoreKind
}

// PingKind classifies a ping group member.
type PingKind string

const (
	PingUser PingKind = "user"
	PingRole PingKind = "role"
)

// PingGroup is a named set of mention targets rules can reference. Deleting
// a group does not delete referencing rules; they stop producing pings.
type PingGroup struct {
	ID          int64
	CommunityID string
	Name        string
}

// PingTarget is one member of a ping group.
type PingTarget struct {
	ID       int64
	GroupID  int64
	Kind     PingKind
	TargetID string
}

// CommunitySettings holds the per-community scanner configuration. Empty
// strings mean unset.
type CommunitySettings struct {
	CommunityID    string
	LogChannelID   string
	ErrorChannelID string
	Header         string
	Prefix         string
}

type Store interface {
	ListRules(ctx context.Context, communityID string) ([]rules.WatchRule, error)
	ListAllRules(ctx context.Context) ([]rules.WatchRule, error)
	CreateRule(ctx context.Context, rule rules.WatchRule) (*rules.WatchRule, error)
	UpdateRule(ctx context.Context, rule rules.WatchRule) error
	DeleteRule(ctx context.Context, id int64) error
	DeleteCommunityRules(ctx context.Context, communityID string) error

	ListAllIgnores(ctx context.Context) ([]IgnoreEntry, error)
	CreateIgnore(ctx context.Context, entry IgnoreEntry) (*IgnoreEntry, error)
	DeleteIgnore(ctx context.Context, communityID, targetID string) error

	GetPingGroup(ctx context.Context, communityID, name string) (*PingGroup, error)
	CreatePingGroup(ctx context.Context, communityID, name string) (*PingGroup, error)
	DeletePingGroup(ctx context.Context, id int64) error
	ListAllPingGroups(ctx context.Context) ([]PingGroup, error)

	AddPing(ctx context.Context, ping PingTarget) (*PingTarget, error)
	RemovePing(ctx context.Context, groupID int64, kind PingKind, targetID string) error
	ListPings(ctx context.Context, groupID int64) ([]PingTarget, error)
	ListAllPings(ctx context.Context) ([]PingTarget, error)

	GetSettings(ctx context.Context, communityID string) (CommunitySettings, error)
	UpsertSettings(ctx context.Context, settings CommunitySettings) error
	ListAllSettings(ctx context.Context) ([]CommunitySettings, error)

	DeleteCommunityData(ctx context.Context, communityID string) error
}
