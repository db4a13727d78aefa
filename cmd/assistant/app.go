package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-assistant/internal/audit"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/engine"
	"github.com/xela07ax/spaceai-assistant/internal/infra"
	"github.com/xela07ax/spaceai-assistant/internal/llm"
	"github.com/xela07ax/spaceai-assistant/internal/notify"
	"github.com/xela07ax/spaceai-assistant/internal/permission"
	"github.com/xela07ax/spaceai-assistant/internal/policy"
	"github.com/xela07ax/spaceai-assistant/internal/tools"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// app: собранный процесс ассистента
type app struct {
	cfg       *infra.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	metrics   *infra.Metrics
	store     *storage
	rdb       *redis.Client
	agentFS   *audit.AgentFS
	trail     *audit.Trail
	notifier  notify.Notifier
	authority *permission.Authority
	ks        *tools.KillSwitch
	tools     *tools.Registry
	engine    *engine.Engine
	conns     []*grpc.ClientConn
}

// terminal — куда задавать вопросы о разрешениях, если notifier = terminal
type terminal struct {
	in  io.Reader
	out io.Writer
}

func loadApp(ctx context.Context, term terminal) (*app, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(ctx, cfg, term)
}

// newApp: конфиг -> логгер -> хранилище -> аудит -> authority -> реестр -> модель -> движок.
// Фоновые слушатели живут до отмены ctx.
func newApp(ctx context.Context, cfg *infra.Config, term terminal) (_ *app, err error) {
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	a.metrics = infra.NewMetrics(a.registry)

	// 1. Хранилище
	if a.store, err = openStorage(ctx, cfg.Database); err != nil {
		return nil, err
	}

	// 2. Аудит: кольцо в памяти + пакетная запись в базу
	a.agentFS = audit.NewAgentFS(a.store.audit, logger, cfg.Permissions.AuditBufferSize, cfg.Permissions.AuditFlushInterval).
		WithFillGauge(a.metrics.AuditBufferFill)
	a.agentFS.Start()
	a.trail = audit.NewTrail(cfg.Permissions.AuditRingSize, a.agentFS)

	// 3. Redis (необязателен, кроме redis-notifier)
	if cfg.Redis.Addr != "" {
		if a.rdb, err = connectRedis(ctx, cfg.Redis); err != nil {
			if cfg.Permissions.Notifier == "redis" {
				return nil, err
			}
			logger.Warn("redis unavailable, kill-switch works locally only", zap.Error(err))
			a.rdb, err = nil, nil
		}
	}

	// 4. Канал вопросов пользователю
	switch cfg.Permissions.Notifier {
	case "redis":
		rn := notify.NewRedisNotifier(a.rdb, logger)
		go rn.Listen(ctx)
		a.notifier = rn
	case "local":
		a.notifier = notify.NewLocalNotifier()
	default:
		a.notifier = notify.NewTerminalNotifier(term.in, term.out)
	}

	// 5. Permission Authority
	a.authority = permission.NewAuthority(permission.Deps{
		Enforcer: policy.NewRiskEnforcer(cfg.Permissions.TrustedTools),
		Store:    a.store.grants,
		Notifier: a.notifier,
		Trail:    a.trail,
		Metrics:  a.metrics,
		Logger:   logger,
	}, cfg.Permissions.PromptTimeout)
	if err = a.authority.Initialize(ctx); err != nil {
		return nil, err
	}

	// 6. Capability Registry + kill-switch
	a.ks = tools.NewKillSwitch(a.rdb, logger)
	if err := a.ks.Init(ctx); err != nil {
		logger.Warn("kill-switch state not loaded", zap.Error(err))
	}
	if err := a.ks.Warmup(ctx, cfg.Tools.Disabled); err != nil {
		logger.Warn("kill-switch warm-up failed", zap.Error(err))
	}
	go a.ks.StartListener(ctx)

	a.tools = tools.NewRegistry(a.ks, logger)
	if err = tools.RegisterBuiltins(a.tools); err != nil {
		return nil, err
	}
	if err = a.registerRemote(cfg.Tools); err != nil {
		return nil, err
	}

	// 7. Языковая модель и движок
	model := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	a.engine = engine.NewEngine(engine.Config{
		SweepInterval:         cfg.Engine.SweepInterval,
		TaskTimeout:           cfg.Engine.TaskTimeout,
		Retention:             cfg.Engine.Retention,
		MaxRetries:            cfg.Engine.MaxRetries,
		HistoryWindow:         cfg.Engine.HistoryWindow,
		MemoryLimit:           cfg.Engine.MemoryLimit,
		PlanningWordThreshold: cfg.Engine.PlanningWordThreshold,
	}, engine.Deps{
		LLM:       model,
		Memory:    a.store.memory,
		Tools:     a.tools,
		Authority: a.authority,
		Metrics:   a.metrics,
		Logger:    logger,
	})
	a.engine.Start(ctx)
	return a, nil
}

// registerRemote подключает инструменты из внешних gRPC коннекторов,
// каждый под rate limit, circuit breaker и retry.
func (a *app) registerRemote(cfg infra.ToolsConfig) error {
	for _, rc := range cfg.Remote {
		risk, err := domain.ParseRiskLevel(rc.RiskLevel)
		if err != nil {
			return fmt.Errorf("remote tool %s: %w", rc.Name, err)
		}
		conn, err := tools.DialConnector(rc.Target)
		if err != nil {
			return err
		}
		a.conns = append(a.conns, conn)

		handler := tools.NewReliabilityWrapper(rc.Name, tools.NewGRPCHandler(conn, rc.Name, rc.Timeout), tools.ReliabilityConfig{
			RateLimit:     cfg.RateLimit,
			RateBurst:     cfg.RateBurst,
			CBMaxRequests: uint32(cfg.CBMaxRequests),
			CBInterval:    cfg.CBInterval,
			CBTimeout:     cfg.CBTimeout,
			CallTimeout:   rc.Timeout,
		}, a.metrics.CircuitBreakerState)

		if err := a.tools.Register(tools.Tool{
			Name:                 rc.Name,
			Description:          rc.Description,
			Category:             rc.Category,
			RiskLevel:            risk,
			RequiredCapabilities: []string{"connector:" + rc.Name},
			Handler:              handler,
		}); err != nil {
			return err
		}
		a.logger.Info("remote tool registered", zap.String("tool", rc.Name), zap.String("target", rc.Target))
	}
	return nil
}

func connectRedis(ctx context.Context, cfg infra.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// close останавливает все в обратном порядке сборки
func (a *app) close() {
	if a.engine != nil {
		a.engine.Shutdown()
	}
	for _, c := range a.conns {
		_ = c.Close()
	}
	if c, ok := a.notifier.(interface{ Close() }); ok {
		c.Close()
	}
	if a.agentFS != nil {
		a.agentFS.Stop()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.store != nil {
		_ = a.store.close()
	}
	_ = a.logger.Sync()
}
