package main

import (
	"context"
	"fmt"

	"github.com/xela07ax/spaceai-assistant/internal/audit"
	"github.com/xela07ax/spaceai-assistant/internal/infra"
	"github.com/xela07ax/spaceai-assistant/internal/memory"
	"github.com/xela07ax/spaceai-assistant/internal/permission"
	"github.com/xela07ax/spaceai-assistant/internal/repository/postgres"
	"github.com/xela07ax/spaceai-assistant/internal/repository/sqlite"
)

type auditReader interface {
	audit.StorageInterface
	Recent(ctx context.Context, limit int) ([]audit.AuditEvent, error)
}

// storage хранилища одного драйвера
type storage struct {
	grants permission.GrantStore
	audit  auditReader
	memory memory.Provider
	close  func() error
}

func openStorage(ctx context.Context, cfg infra.DatabaseConfig) (*storage, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.URL, int(cfg.MaxConns), int(cfg.MinConns))
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &storage{
			grants: postgres.NewGrantRepo(db),
			audit:  postgres.NewAuditRepo(db),
			memory: postgres.NewConversationRepo(db),
			close:  db.Close,
		}, nil
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return &storage{
			grants: sqlite.NewGrantRepo(db),
			audit:  sqlite.NewAuditRepo(db),
			memory: sqlite.NewConversationRepo(db),
			close:  db.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}
