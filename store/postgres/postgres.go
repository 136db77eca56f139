// Package postgres implements store.Store on Postgres through database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeltedButter77/robotnic/store"
)

// Store is a Postgres backed store.Store.
type Store struct {
	db *sql.DB
}

// New wraps an open, migrated database.
func New(db *sql.DB) *Store { return &Store{db: db} }

var _ store.Store = (*Store)(nil)

const tempColumns = `channel_id, guild_id, creator_id, COALESCE(owner_id, ''), sequence_number, visibility, rename_override, state, control_message_id, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTemp(row scanner) (store.TempChannel, error) {
	var tc store.TempChannel
	var created sql.NullTime
	err := row.Scan(&tc.ChannelID, &tc.GuildID, &tc.CreatorID, &tc.OwnerID, &tc.SequenceNumber,
		&tc.Visibility, &tc.RenameOverride, &tc.State, &tc.ControlMessageID, &created)
	if created.Valid {
		tc.CreatedAt = created.Time
	}
	return tc, err
}

func (s *Store) GetTempChannel(ctx context.Context, channelID string) (store.TempChannel, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tempColumns+` FROM temp_channels WHERE channel_id = $1`, channelID)
	tc, err := scanTemp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.TempChannel{}, store.ErrNotFound
	}
	if err != nil {
		return store.TempChannel{}, fmt.Errorf("get temp channel: %w", err)
	}
	return tc, nil
}

func (s *Store) UpsertTempChannel(ctx context.Context, tc store.TempChannel) error {
	var owner sql.NullString
	if tc.OwnerID != "" {
		owner = sql.NullString{String: tc.OwnerID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO temp_channels
		(channel_id, guild_id, creator_id, owner_id, sequence_number, visibility, rename_override, state, control_message_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10, NOW()),NOW())
		ON CONFLICT (channel_id) DO UPDATE SET
			guild_id=EXCLUDED.guild_id,
			creator_id=EXCLUDED.creator_id,
			owner_id=EXCLUDED.owner_id,
			sequence_number=EXCLUDED.sequence_number,
			visibility=EXCLUDED.visibility,
			rename_override=EXCLUDED.rename_override,
			state=EXCLUDED.state,
			control_message_id=EXCLUDED.control_message_id,
			updated_at=NOW()`,
		tc.ChannelID, tc.GuildID, tc.CreatorID, owner, tc.SequenceNumber,
		int(tc.Visibility), tc.RenameOverride, int(tc.State), tc.ControlMessageID, nullTime(tc))
	if err != nil {
		return fmt.Errorf("upsert temp channel: %w", err)
	}
	return nil
}

func (s *Store) UpdateTempChannel(ctx context.Context, channelID string, fn func(*store.TempChannel) error) (store.TempChannel, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.TempChannel{}, fmt.Errorf("begin temp channel update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+tempColumns+` FROM temp_channels WHERE channel_id = $1 FOR UPDATE`, channelID)
	cur, err := scanTemp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.TempChannel{}, store.ErrNotFound
	}
	if err != nil {
		return store.TempChannel{}, fmt.Errorf("lock temp channel: %w", err)
	}
	next := cur
	if err := fn(&next); err != nil {
		return cur, err
	}
	var owner sql.NullString
	if next.OwnerID != "" {
		owner = sql.NullString{String: next.OwnerID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `UPDATE temp_channels SET
			owner_id=$2, visibility=$3, rename_override=$4, state=$5, control_message_id=$6, updated_at=NOW()
		WHERE channel_id=$1`,
		channelID, owner, int(next.Visibility), next.RenameOverride, int(next.State), next.ControlMessageID)
	if err != nil {
		return store.TempChannel{}, fmt.Errorf("update temp channel: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return store.TempChannel{}, fmt.Errorf("commit temp channel update: %w", err)
	}
	cur.OwnerID = next.OwnerID
	cur.Visibility = next.Visibility
	cur.RenameOverride = next.RenameOverride
	cur.State = next.State
	cur.ControlMessageID = next.ControlMessageID
	return cur, nil
}

func nullTime(tc store.TempChannel) sql.NullTime {
	if tc.CreatedAt.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: tc.CreatedAt, Valid: true}
}

func (s *Store) DeleteTempChannel(ctx context.Context, channelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM temp_channels WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("delete temp channel: %w", err)
	}
	return nil
}

func (s *Store) ListTempChannelIDs(ctx context.Context, guildID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id FROM temp_channels WHERE ($1 = '' OR guild_id = $1) ORDER BY channel_id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list temp channels: %w", err)
	}
	defer closeRows(rows)
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan temp channel id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListTempChannelsByCreator(ctx context.Context, creatorID string) ([]store.TempChannel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tempColumns+` FROM temp_channels WHERE creator_id = $1 ORDER BY sequence_number`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list temp channels by creator: %w", err)
	}
	defer closeRows(rows)
	var out []store.TempChannel
	for rows.Next() {
		tc, err := scanTemp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan temp channel: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

const creatorColumns = `channel_id, guild_id, child_name_template, user_limit, category_policy, category_id, overwrite_policy`

func scanCreator(row scanner) (store.CreatorChannel, error) {
	var cc store.CreatorChannel
	err := row.Scan(&cc.ChannelID, &cc.GuildID, &cc.ChildNameTemplate, &cc.UserLimit, &cc.CategoryPolicy, &cc.CategoryID, &cc.OverwritePolicy)
	return cc, err
}

func (s *Store) GetCreatorChannel(ctx context.Context, channelID string) (store.CreatorChannel, error) {
	cc, err := scanCreator(s.db.QueryRowContext(ctx, `SELECT `+creatorColumns+` FROM creator_channels WHERE channel_id = $1`, channelID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.CreatorChannel{}, store.ErrNotFound
	}
	if err != nil {
		return store.CreatorChannel{}, fmt.Errorf("get creator channel: %w", err)
	}
	return cc, nil
}

func (s *Store) UpsertCreatorChannel(ctx context.Context, cc store.CreatorChannel) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO creator_channels
		(channel_id, guild_id, child_name_template, user_limit, category_policy, category_id, overwrite_policy, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT (channel_id) DO UPDATE SET
			guild_id=EXCLUDED.guild_id,
			child_name_template=EXCLUDED.child_name_template,
			user_limit=EXCLUDED.user_limit,
			category_policy=EXCLUDED.category_policy,
			category_id=EXCLUDED.category_id,
			overwrite_policy=EXCLUDED.overwrite_policy,
			updated_at=NOW()`,
		cc.ChannelID, cc.GuildID, cc.ChildNameTemplate, cc.UserLimit, int(cc.CategoryPolicy), cc.CategoryID, int(cc.OverwritePolicy))
	if err != nil {
		return fmt.Errorf("upsert creator channel: %w", err)
	}
	return nil
}

func (s *Store) DeleteCreatorChannel(ctx context.Context, channelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM creator_channels WHERE channel_id = $1`, channelID); err != nil {
		return fmt.Errorf("delete creator channel: %w", err)
	}
	return nil
}

func (s *Store) ListCreatorChannels(ctx context.Context, guildID string) ([]store.CreatorChannel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+creatorColumns+` FROM creator_channels WHERE ($1 = '' OR guild_id = $1) ORDER BY channel_id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list creator channels: %w", err)
	}
	defer closeRows(rows)
	var out []store.CreatorChannel
	for rows.Next() {
		cc, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan creator channel: %w", err)
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func (s *Store) ListSequenceNumbers(ctx context.Context, creatorID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, sequence_number FROM temp_channels WHERE creator_id = $1`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list sequence numbers: %w", err)
	}
	defer closeRows(rows)
	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan sequence number: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (s *Store) RenumberSequences(ctx context.Context, creatorID string, mapping map[string]int) error {
	if len(mapping) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin renumber: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `UPDATE temp_channels SET sequence_number = $1, updated_at = NOW() WHERE channel_id = $2 AND creator_id = $3`)
	if err != nil {
		return fmt.Errorf("prepare renumber: %w", err)
	}
	defer stmt.Close()
	for id, n := range mapping {
		if _, err := stmt.ExecContext(ctx, n, id, creatorID); err != nil {
			return fmt.Errorf("renumber %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit renumber: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", slog.Any("err", err), slog.String("component", "store_postgres"))
	}
}
