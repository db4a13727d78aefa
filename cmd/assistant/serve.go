package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xela07ax/spaceai-assistant/internal/console/handler"
	"github.com/xela07ax/spaceai-assistant/internal/console/server"
	"github.com/xela07ax/spaceai-assistant/internal/infra/auth"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant with the HTTP console",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// Контекст для управления жизненным циклом фоновых горутин
	// При SIGTERM cancel() остановит слушателей и сервер
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx, terminal{in: os.Stdin, out: os.Stderr})
	if err != nil {
		return err
	}
	defer a.close()

	deps := server.Deps{
		Tasks:       handler.NewTaskHandler(a.engine),
		Permissions: handler.NewPermissionHandler(a.authority),
		Tools:       handler.NewToolHandler(a.tools),
		Audit:       handler.NewAuditHandler(a.authority),
		Gatherer:    a.registry,
		Logger:      a.logger,
	}
	if len(a.cfg.Auth.PublicKey) > 0 {
		v, err := auth.NewConsoleValidator(a.cfg.Auth.PublicKey, a.cfg.Auth.Issuer)
		if err != nil {
			return fmt.Errorf("auth public key: %w", err)
		}
		deps.Validator = v
	} else {
		a.logger.Warn("auth.public_key_path is not set, console API is open")
	}

	a.logger.Info("assistant starting",
		zap.String("database", a.cfg.Database.Driver),
		zap.String("notifier", a.cfg.Permissions.Notifier),
		zap.Int("tools", len(a.tools.ListTools("", false))),
	)
	if err := server.NewConsoleServer(deps).Run(ctx, a.cfg.Server.Addr()); err != nil {
		return err
	}
	a.logger.Info("assistant stopped")
	return nil
}
