package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

// GrantRepo: постоянные гранты, общие для всех узлов
type GrantRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewGrantRepo(db *sql.DB) *GrantRepo {
	return &GrantRepo{db: db, clock: time.Now}
}

func (r *GrantRepo) SaveGrant(ctx context.Context, g domain.PermissionGrant) error {
	meta, err := json.Marshal(g.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal grant metadata: %w", err)
	}
	query := `
		INSERT INTO permission_grants (signature, level, granted_at, expires_at, granted_by, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signature) DO UPDATE SET
			level = EXCLUDED.level,
			granted_at = EXCLUDED.granted_at,
			expires_at = EXCLUDED.expires_at,
			granted_by = EXCLUDED.granted_by,
			metadata = EXCLUDED.metadata`

	if _, err := r.db.ExecContext(ctx, query, g.Signature, string(g.Level), g.GrantedAt, g.ExpiresAt, g.GrantedBy, meta); err != nil {
		return fmt.Errorf("postgres: save grant %s: %w", g.Signature, err)
	}
	return nil
}

func (r *GrantRepo) DeleteGrant(ctx context.Context, signature string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM permission_grants WHERE signature = $1`, signature); err != nil {
		return fmt.Errorf("postgres: delete grant %s: %w", signature, err)
	}
	return nil
}

// LoadPermanent выполняет "холодную загрузку" грантов при старте
func (r *GrantRepo) LoadPermanent(ctx context.Context) ([]domain.PermissionGrant, error) {
	query := `
		SELECT signature, level, granted_at, expires_at, granted_by, metadata
		FROM permission_grants
		WHERE level = $1 AND (expires_at IS NULL OR expires_at > $2)`

	rows, err := r.db.QueryContext(ctx, query, string(domain.PermissionPermanent), r.clock())
	if err != nil {
		return nil, fmt.Errorf("postgres: load grants: %w", err)
	}
	defer rows.Close()

	var out []domain.PermissionGrant
	for rows.Next() {
		var (
			g       domain.PermissionGrant
			level   string
			expires sql.NullTime
			meta    []byte
		)
		if err := rows.Scan(&g.Signature, &level, &g.GrantedAt, &expires, &g.GrantedBy, &meta); err != nil {
			return nil, fmt.Errorf("postgres: scan grant: %w", err)
		}
		g.Level = domain.PermissionLevel(level)
		if expires.Valid {
			t := expires.Time
			g.ExpiresAt = &t
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &g.Metadata)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
