package dbstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	ctx "wordwatch/internal/context"
	"wordwatch/internal/rules"
)

const queryTimeout = 5 * time.Second

// PGXStore implements Store on a postgres connection pool.
type PGXStore struct {
	*pgxpool.Pool
}

func New(ctx ctx.Ctx) (*PGXStore, error) {
	uri := os.Getenv(EnvPostgresURI)
	if uri == "" {
		return nil, errors.New("expected postgres address")
	}
	user := os.Getenv(EnvPostgresUser)
	if user == "" {
		return nil, errors.New("expected postgres user")
	}
	pass := os.Getenv(EnvPostgresPassword)
	if pass == "" {
		return nil, errors.New("expected postgres password")
	}
	db := os.Getenv(EnvPostgresDatabase)
	if db == "" {
		return nil, errors.New("expected postgres database")
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s/%s", user, pass, uri, db)
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return &PGXStore{Pool: pool}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const ruleColumns = `id, community_id, pattern, match_type, case_sensitive, auto_delete, ban_severity, ping_group_id`

func scanRule(row pgx.Row) (*rules.WatchRule, error) {
	var r rules.WatchRule
	var matchType int
	if err := row.Scan(&r.ID, &r.CommunityID, &r.Pattern, &matchType, &r.CaseSensitive, &r.AutoDelete, &r.BanSeverity, &r.PingGroupID); err != nil {
		return nil, err
	}
	r.MatchType = rules.MatchType(matchType)
	return &r, nil
}

func (db *PGXStore) listRules(ctx context.Context, sql string, args ...interface{}) ([]rules.WatchRule, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []rules.WatchRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (db *PGXStore) ListRules(ctx context.Context, communityID string) ([]rules.WatchRule, error) {
	return db.listRules(ctx, `SELECT `+ruleColumns+` FROM watches WHERE community_id = $1 ORDER BY id`, communityID)
}

func (db *PGXStore) ListAllRules(ctx context.Context) ([]rules.WatchRule, error) {
	return db.listRules(ctx, `SELECT `+ruleColumns+` FROM watches ORDER BY id`)
}

func (db *PGXStore) CreateRule(ctx context.Context, rule rules.WatchRule) (*rules.WatchRule, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sql := `INSERT INTO
		watches (
			community_id,
			pattern,
			match_type,
			case_sensitive,
			auto_delete,
			ban_severity,
			ping_group_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`
	err := db.QueryRow(ctx, sql,
		rule.CommunityID, rule.Pattern, int(rule.MatchType), rule.CaseSensitive,
		rule.AutoDelete, rule.BanSeverity, rule.PingGroupID,
	).Scan(&rule.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}

	return &rule, nil
}

func (db *PGXStore) UpdateRule(ctx context.Context, rule rules.WatchRule) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sql := `UPDATE watches SET
			pattern = $1,
			match_type = $2,
			case_sensitive = $3,
			auto_delete = $4,
			ban_severity = $5,
			ping_group_id = $6
		WHERE id = $7`
	tag, err := db.Exec(ctx, sql,
		rule.Pattern, int(rule.MatchType), rule.CaseSensitive,
		rule.AutoDelete, rule.BanSeverity, rule.PingGroupID, rule.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PGXStore) DeleteRule(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := db.Exec(ctx, `DELETE FROM watches WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

func (db *PGXStore) DeleteCommunityRules(ctx context.Context, communityID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := db.Exec(ctx, `DELETE FROM watches WHERE community_id = $1`, communityID); err != nil {
		return fmt.Errorf("failed to delete community rules: %w", err)
	}
	return nil
}

func (db *PGXStore) ListAllIgnores(ctx context.Context) ([]IgnoreEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.Query(ctx, `SELECT id, community_id, target_id, kind FROM ignores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ignores: %w", err)
	}
	defer rows.Close()

	var out []IgnoreEntry
	for rows.Next() {
		var e IgnoreEntry
		if err := rows.Scan(&e.ID, &e.CommunityID, &e.TargetID, &e.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *PGXStore) CreateIgnore(ctx context.Context, entry IgnoreEntry) (*IgnoreEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sql := `INSERT INTO ignores (community_id, target_id, kind) VALUES ($1, $2, $3) RETURNING id`
	if err := db.QueryRow(ctx, sql, entry.CommunityID, entry.TargetID, entry.Kind).Scan(&entry.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert ignore: %w", err)
	}
	return &entry, nil
}

func (db *PGXStore) DeleteIgnore(ctx context.Context, communityID, targetID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := db.Exec(ctx, `DELETE FROM ignores WHERE community_id = $1 AND target_id = $2`, communityID, targetID)
	if err != nil {
		return fmt.Errorf("failed to delete ignore: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PGXStore) GetPingGroup(ctx context.Context, communityID, name string) (*PingGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var g PingGroup
	sql := `SELECT id, community_id, name FROM ping_groups WHERE community_id = $1 AND name = $2`
	if err := db.QueryRow(ctx, sql, communityID, name).Scan(&g.ID, &g.CommunityID, &g.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return &g, nil
}

func (db *PGXStore) CreatePingGroup(ctx context.Context, communityID, name string) (*PingGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	g := PingGroup{CommunityID: communityID, Name: name}
	sql := `INSERT INTO ping_groups (community_id, name) VALUES ($1, $2) RETURNING id`
	if err := db.QueryRow(ctx, sql, communityID, name).Scan(&g.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert ping group: %w", err)
	}
	return &g, nil
}

func (db *PGXStore) DeletePingGroup(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// referencing rules keep their ping_group_id; lookups simply miss
	if _, err := db.Exec(ctx, `DELETE FROM pings WHERE group_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete pings: %w", err)
	}
	if _, err := db.Exec(ctx, `DELETE FROM ping_groups WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete ping group: %w", err)
	}
	return nil
}

func (db *PGXStore) ListAllPingGroups(ctx context.Context) ([]PingGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.Query(ctx, `SELECT id, community_id, name FROM ping_groups ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ping groups: %w", err)
	}
	defer rows.Close()

	var out []PingGroup
	for rows.Next() {
		var g PingGroup
		if err := rows.Scan(&g.ID, &g.CommunityID, &g.Name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (db *PGXStore) AddPing(ctx context.Context, ping PingTarget) (*PingTarget, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sql := `INSERT INTO pings (group_id, kind, target_id) VALUES ($1, $2, $3) RETURNING id`
	if err := db.QueryRow(ctx, sql, ping.GroupID, ping.Kind, ping.TargetID).Scan(&ping.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert ping: %w", err)
	}
	return &ping, nil
}

func (db *PGXStore) RemovePing(ctx context.Context, groupID int64, kind PingKind, targetID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := db.Exec(ctx, `DELETE FROM pings WHERE group_id = $1 AND kind = $2 AND target_id = $3`, groupID, kind, targetID)
	if err != nil {
		return fmt.Errorf("failed to delete ping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *PGXStore) listPings(ctx context.Context, sql string, args ...interface{}) ([]PingTarget, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pings: %w", err)
	}
	defer rows.Close()

	var out []PingTarget
	for rows.Next() {
		var p PingTarget
		if err := rows.Scan(&p.ID, &p.GroupID, &p.Kind, &p.TargetID); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *PGXStore) ListPings(ctx context.Context, groupID int64) ([]PingTarget, error) {
	return db.listPings(ctx, `SELECT id, group_id, kind, target_id FROM pings WHERE group_id = $1 ORDER BY id`, groupID)
}

func (db *PGXStore) ListAllPings(ctx context.Context) ([]PingTarget, error) {
	return db.listPings(ctx, `SELECT id, group_id, kind, target_id FROM pings ORDER BY id`)
}

// GetSettings returns the community's settings, or zero settings if none are
// stored yet.
func (db *PGXStore) GetSettings(ctx context.Context, communityID string) (CommunitySettings, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	s := CommunitySettings{CommunityID: communityID}
	sql := `SELECT log_channel_id, error_channel_id, header, prefix FROM community_settings WHERE community_id = $1`
	err := db.QueryRow(ctx, sql, communityID).Scan(&s.LogChannelID, &s.ErrorChannelID, &s.Header, &s.Prefix)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CommunitySettings{CommunityID: communityID}, nil
		}
		return s, fmt.Errorf("failed to scan row: %w", err)
	}
	return s, nil
}

func (db *PGXStore) UpsertSettings(ctx context.Context, settings CommunitySettings) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sql := `INSERT INTO
		community_settings (
			community_id,
			log_channel_id,
			error_channel_id,
			header,
			prefix
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (community_id) DO UPDATE SET
			log_channel_id = EXCLUDED.log_channel_id,
			error_channel_id = EXCLUDED.error_channel_id,
			header = EXCLUDED.header,
			prefix = EXCLUDED.prefix`
	if _, err := db.Exec(ctx, sql,
		settings.CommunityID, settings.LogChannelID, settings.ErrorChannelID,
		settings.Header, settings.Prefix,
	); err != nil {
		return fmt.Errorf("failed to upsert settings: %w", err)
	}
	return nil
}

func (db *PGXStore) ListAllSettings(ctx context.Context) ([]CommunitySettings, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := db.Query(ctx, `SELECT community_id, log_channel_id, error_channel_id, header, prefix FROM community_settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var out []CommunitySettings
	for rows.Next() {
		var s CommunitySettings
		if err := rows.Scan(&s.CommunityID, &s.LogChannelID, &s.ErrorChannelID, &s.Header, &s.Prefix); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteCommunityData removes every record belonging to a community. Used
// when the bot leaves a community and for orphan cleanup during cache load.
func (db *PGXStore) DeleteCommunityData(ctx context.Context, communityID string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	statements := []string{
		`DELETE FROM watches WHERE community_id = $1`,
		`DELETE FROM ignores WHERE community_id = $1`,
		`DELETE FROM pings WHERE group_id IN (SELECT id FROM ping_groups WHERE community_id = $1)`,
		`DELETE FROM ping_groups WHERE community_id = $1`,
		`DELETE FROM community_settings WHERE community_id = $1`,
	}
	for _, sql := range statements {
		if _, err := tx.Exec(ctx, sql, communityID); err != nil {
			return fmt.Errorf("failed to delete community data: %w", err)
		}
	}
	return tx.Commit(ctx)
}
