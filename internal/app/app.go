package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"

	"ResearchBrief/internal/config"
	"ResearchBrief/internal/domain"
	"ResearchBrief/internal/infrastructure/fetch"
	"ResearchBrief/internal/infrastructure/llm"
	"ResearchBrief/internal/infrastructure/render"
	"ResearchBrief/internal/infrastructure/scheduler"
	"ResearchBrief/internal/infrastructure/storage"
	"ResearchBrief/internal/infrastructure/telegram"
	"ResearchBrief/internal/infrastructure/tokens"
	"ResearchBrief/internal/logging"
	"ResearchBrief/internal/ports"
	"ResearchBrief/internal/usecase"
)

// ErrLocked is returned when another process holds the tick lock.
var ErrLocked = errors.New("another research-brief process holds the lock")

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg          config.Config
	store        *storage.Store
	orchestrator *usecase.Orchestrator
	scheduler    *usecase.Scheduler
	logger       *slog.Logger
}

// New opens the store and builds every adapter named by the configuration.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.Database.Driver,
		DSN:         cfg.Database.DSN,
		DefaultTier: cfg.Research.DefaultQualityTier,
	})
	if err != nil {
		return nil, err
	}

	generator, err := newGenerator(ctx, cfg.Generation, baseLogger)
	if err != nil {
		store.Close()
		return nil, err
	}
	issuer, err := newTokenIssuer(cfg.Tokens, baseLogger)
	if err != nil {
		store.Close()
		return nil, err
	}

	deps := usecase.Deps{
		Jobs:      store,
		Sources:   store,
		Reports:   store,
		Directory: store,
		Corpus:    store,
		Fetcher:   fetch.NewHTTPFetcher(nil, cfg.Research.Fetch.UserAgent, cfg.Research.Fetch.Timeout),
		Generator: generator,
		Sender:    newSender(cfg.Notifications.Telegram, baseLogger),
		Tokens:    issuer,
		Renderer:  render.NewHTMLRenderer(cfg.Research.PublicBaseURL),
		Logger:    baseLogger,
	}

	orchestrator := usecase.NewOrchestrator(deps, cfg.Research)
	driver := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location(), baseLogger)
	sched := usecase.NewScheduler(driver, deps, orchestrator, cfg.Research, cfg.Scheduler.PeriodKind(), cfg.Scheduler.Location())

	return &Application{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		scheduler:    sched,
		logger:       baseLogger.With("component", "app"),
	}, nil
}

func newGenerator(ctx context.Context, cfg config.GenerationConfig, logger *slog.Logger) (ports.Generator, error) {
	if cfg.APIKey == "" {
		logger.Warn("generation API key not set, briefs will use the template strategy")
		return nil, nil
	}
	if cfg.Provider == config.ProviderGemini {
		client, err := llm.NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return client, nil
	}
	return llm.NewChatGPTClient(cfg, nil), nil
}

func newTokenIssuer(cfg config.TokensConfig, logger *slog.Logger) (ports.TokenIssuer, error) {
	switch {
	case cfg.IssuerURL != "":
		return tokens.NewClient(cfg.IssuerURL, cfg.APIKey, nil), nil
	case cfg.SigningKey != "":
		signer, err := tokens.NewSigner(cfg.SigningKey, cfg.TTL, nil)
		if err != nil {
			return nil, fmt.Errorf("token signer: %w", err)
		}
		return signer, nil
	default:
		logger.Warn("no token issuer configured, notifications will carry no footer links")
		return nil, nil
	}
}

func newSender(cfg config.TelegramConfig, logger *slog.Logger) ports.Sender {
	if cfg.BotToken == "" {
		return telegram.NewLogSender(logger)
	}
	if cfg.OperatorChatID != "" {
		logger.Warn("telegram operator mode, every brief goes to one chat", "chat_id", cfg.OperatorChatID)
	}
	return telegram.NewSender(cfg.BotToken, cfg.OperatorChatID, cfg.APIBase, nil)
}

// Close releases the database.
func (a *Application) Close() error {
	return a.store.Close()
}

// Store exposes the underlying store for maintenance commands.
func (a *Application) Store() *storage.Store {
	return a.store
}

// Tick runs one creation and advance pass under the tick lock.
func (a *Application) Tick(ctx context.Context) (usecase.TickResult, error) {
	unlock, err := a.lock()
	if err != nil {
		return usecase.TickResult{}, err
	}
	defer unlock()

	now := time.Now().In(a.cfg.Scheduler.Location())
	return a.scheduler.Tick(ctx, now)
}

// RunDaemon ticks on the configured cron schedule until ctx is cancelled.
func (a *Application) RunDaemon(ctx context.Context) error {
	unlock, err := a.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("daemon started", "cron", a.cfg.Scheduler.CronExpression, "timezone", a.cfg.Scheduler.Location().String())

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Research.AdvanceBudget+a.cfg.Research.BudgetBuffer)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	a.logger.Info("daemon stopped")
	return nil
}

// Step advances a single job once with the configured step budget.
func (a *Application) Step(ctx context.Context, jobID string) (*domain.Artifact, error) {
	if err := a.orchestrator.Step(ctx, jobID, a.cfg.Research.StepBudget); err != nil {
		return nil, err
	}
	return a.orchestrator.Artifact(ctx, jobID)
}

// Artifact returns a job's status, stage and report.
func (a *Application) Artifact(ctx context.Context, jobID string) (*domain.Artifact, error) {
	return a.orchestrator.Artifact(ctx, jobID)
}

// RecentJobs lists the newest jobs.
func (a *Application) RecentJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	return a.store.ListRecent(ctx, limit)
}

// lock takes the process-wide file lock so ticks never overlap. An empty
// lock path disables locking.
func (a *Application) lock() (func(), error) {
	path := a.cfg.Scheduler.LockFile
	if path == "" {
		return func() {}, nil
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			a.logger.Warn("release lock", "path", path, "error", err)
		}
	}, nil
}
