package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

// GrantRepo хранит только ALLOW_PERMANENT решения
type GrantRepo struct {
	db    *DB
	clock func() time.Time
}

func NewGrantRepo(db *DB) *GrantRepo {
	return &GrantRepo{db: db, clock: time.Now}
}

func (r *GrantRepo) SaveGrant(ctx context.Context, g domain.PermissionGrant) error {
	meta, err := json.Marshal(g.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: marshal grant metadata: %w", err)
	}
	var expires any
	if g.ExpiresAt != nil {
		expires = g.ExpiresAt.UTC()
	}
	return r.db.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO permission_grants (signature, level, granted_at, expires_at, granted_by, metadata)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(signature) DO UPDATE SET
				level = excluded.level,
				granted_at = excluded.granted_at,
				expires_at = excluded.expires_at,
				granted_by = excluded.granted_by,
				metadata = excluded.metadata`,
			g.Signature, string(g.Level), g.GrantedAt.UTC(), expires, g.GrantedBy, string(meta))
		if err != nil {
			return fmt.Errorf("sqlite: save grant %s: %w", g.Signature, err)
		}
		return nil
	})
}

func (r *GrantRepo) DeleteGrant(ctx context.Context, signature string) error {
	return r.db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM permission_grants WHERE signature = ?`, signature); err != nil {
			return fmt.Errorf("sqlite: delete grant %s: %w", signature, err)
		}
		return nil
	})
}

// LoadPermanent пропускает истекшие записи и запреты
func (r *GrantRepo) LoadPermanent(ctx context.Context) ([]domain.PermissionGrant, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT signature, level, granted_at, expires_at, granted_by, metadata
		FROM permission_grants
		WHERE level = ?`, string(domain.PermissionPermanent))
	if err != nil {
		return nil, fmt.Errorf("sqlite: load grants: %w", err)
	}
	defer rows.Close()

	now := r.clock()
	var out []domain.PermissionGrant
	for rows.Next() {
		var (
			g       domain.PermissionGrant
			level   string
			expires sql.NullTime
			meta    sql.NullString
		)
		if err := rows.Scan(&g.Signature, &level, &g.GrantedAt, &expires, &g.GrantedBy, &meta); err != nil {
			return nil, fmt.Errorf("sqlite: scan grant: %w", err)
		}
		g.Level = domain.PermissionLevel(level)
		if expires.Valid {
			t := expires.Time
			g.ExpiresAt = &t
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &g.Metadata)
		}
		if !g.IsValid(now) {
			continue
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
