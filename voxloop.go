// Package voxloop wires the turn-based voice conversation orchestrator
// together: configuration in, a running webhook service out. The
// individual pieces live in internal/ and pkg/; this package only
// assembles them.
package voxloop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxloop-dev/voxloop/internal/dialog"
	intobs "github.com/voxloop-dev/voxloop/internal/observability"
	"github.com/voxloop-dev/voxloop/internal/provider"
	"github.com/voxloop-dev/voxloop/internal/session"
	"github.com/voxloop-dev/voxloop/internal/twiml"
	"github.com/voxloop-dev/voxloop/internal/webhook"
	"github.com/voxloop-dev/voxloop/pkg/config"
	"github.com/voxloop-dev/voxloop/pkg/observability"
)

// shutdownTimeout bounds graceful drain on exit.
const shutdownTimeout = 30 * time.Second

// App is an assembled orchestrator ready to run.
type App struct {
	cfg        *config.Config
	store      session.Store
	registry   *provider.Registry
	controller *dialog.Controller
	webhookSrv *webhook.Server
	opsSrv     *observability.Server
	reaper     *session.Reaper
}

// New assembles an App from configuration. It validates the config,
// builds the session store and provider, and prepares both HTTP
// servers without starting anything.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	plan, err := cfg.StagePlan()
	if err != nil {
		return nil, fmt.Errorf("stage plan: %w", err)
	}

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := provider.NewRegistry()
	if cfg.Provider.Name == "openai" {
		p, err := provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:      cfg.Provider.OpenAIKey,
			Model:       cfg.Provider.Model,
			Timeout:     cfg.Provider.Timeout.Std(),
			MaxTokens:   cfg.Provider.MaxTokens,
			Temperature: cfg.Provider.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("openai provider: %w", err)
		}
		registry.Register(p.Name(), p)
	}

	var gen provider.Provider
	if cfg.Provider.Name != "" {
		gen, err = registry.Get(cfg.Provider.Name)
		if err != nil {
			return nil, err
		}
	} else {
		log.Printf("no generation provider configured, running on the fallback catalog")
	}

	controller, err := dialog.NewController(plan, store, gen, dialog.ControllerConfig{
		SystemPrompt:    cfg.Dialog.SystemPrompt,
		HistoryWindow:   cfg.Dialog.HistoryWindow,
		ConfidenceFloor: cfg.Dialog.ConfidenceFloor,
	})
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	var limiter *webhook.RateLimiter
	if cfg.Server.GlobalRatePerSecond > 0 && cfg.Server.PerCallerRatePerSecond > 0 {
		limiter = webhook.NewRateLimiter(
			cfg.Server.GlobalRatePerSecond, cfg.Server.GlobalRateBurst,
			cfg.Server.PerCallerRatePerSecond, cfg.Server.PerCallerRateBurst,
		)
	}

	handler := webhook.NewHandler(controller, limiter, twiml.RenderOptions{
		Voice:       cfg.Server.Voice,
		Language:    cfg.Server.Language,
		CallbackURL: cfg.Server.CallbackBaseURL + webhook.TurnPath,
	})

	reaper := session.NewReaper(store, cfg.Session.IdleTTL.Std(), cfg.Session.ReapSchedule, func(reaped int) {
		observability.AddSessionsReaped(reaped)
		if n, err := store.Len(context.Background()); err == nil {
			observability.SetActiveSessions(n)
		}
	})

	return &App{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		controller: controller,
		webhookSrv: webhook.NewServer(cfg.Server.Addr, handler),
		opsSrv:     observability.NewServer(cfg.Server.OpsPort),
		reaper:     reaper,
	}, nil
}

// Run starts the webhook server, the ops server, and the session
// reaper, and blocks until ctx is cancelled or a server fails.
func (a *App) Run(ctx context.Context) error {
	if err := intobs.InitFromEnv(); err != nil {
		log.Printf("Warning: failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := intobs.Shutdown(shutdownCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	observability.InitMetrics()
	a.registerHealthChecks()

	if err := a.reaper.Start(); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	defer a.reaper.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("webhook server listening on %s", a.cfg.Server.Addr)
		if err := a.webhookSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Printf("ops server listening on :%d", a.cfg.Server.OpsPort)
		if err := a.opsSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Printf("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.webhookSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("webhook server shutdown: %v", err)
		}
		if err := a.opsSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ops server shutdown: %v", err)
		}
		if err := a.store.Close(); err != nil {
			log.Printf("session store close: %v", err)
		}
		return nil
	})

	return g.Wait()
}

// Controller exposes the turn controller, for one-shot operations like
// rendering the initial call document.
func (a *App) Controller() *dialog.Controller {
	return a.controller
}

func (a *App) registerHealthChecks() {
	checker := observability.InitHealthChecker()
	checker.RegisterCheck(observability.StoreCheck(func(ctx context.Context) error {
		_, err := a.store.Len(ctx)
		return err
	}))
	if a.cfg.Provider.Name != "" {
		name := a.cfg.Provider.Name
		checker.RegisterCheck(observability.ProviderCheck("provider", func(context.Context) error {
			if !a.registry.Has(name) {
				return fmt.Errorf("provider %q not registered", name)
			}
			return nil
		}))
	}
}

func buildStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Backend {
	case "redis":
		store, err := session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
			Prefix:   cfg.Session.RedisPrefix,
			KeyTTL:   2 * cfg.Session.IdleTTL.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		return store, nil
	default:
		return session.NewMemoryStore(), nil
	}
}
