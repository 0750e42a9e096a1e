package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/1995parham/neshan-go/internal/config"
	"github.com/1995parham/neshan-go/internal/logging"
	"github.com/1995parham/neshan-go/internal/store"
	"github.com/1995parham/neshan-go/internal/trace"
	"github.com/1995parham/neshan-go/internal/usage"
	"github.com/1995parham/neshan-go/pkg/neshan"
)

// app holds what a command needs, built from flags and config.
type app struct {
	ws      string
	cfg     *config.Config
	cache   *store.Cache
	tracker *usage.Tracker
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return os.Getwd()
}

func resolveConfigPath(ws string) string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath(ws)
}

// loadApp loads configuration and applies the global flags on top of it.
func loadApp() (*app, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	cfg, err := config.Load(resolveConfigPath(ws))
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.API.APIKey = apiKey
	}
	if noCache {
		cfg.Cache.Enabled = false
	}
	return &app{ws: ws, cfg: cfg}, nil
}

// openCache opens the response cache regardless of cache.enabled.
func (a *app) openCache() (*store.Cache, error) {
	if a.cache != nil {
		return a.cache, nil
	}
	c, err := store.Open(a.cfg.Cache.Driver, config.ResolvePath(a.ws, a.cfg.Cache.Path), a.cfg.GetCacheTTL())
	if err != nil {
		return nil, err
	}
	a.cache = c
	return c, nil
}

func (a *app) openTracker() (*usage.Tracker, error) {
	if a.tracker != nil {
		return a.tracker, nil
	}
	t, err := usage.NewTracker(config.ResolvePath(a.ws, a.cfg.Usage.Path))
	if err != nil {
		return nil, err
	}
	a.tracker = t
	return t, nil
}

// service builds client -> cache -> tracing. The tracer is outermost so cache
// hits are accounted for as well.
func (a *app) service() (neshan.Service, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	var svc neshan.Service = neshan.NewClientWithConfig(a.cfg.ClientConfig())

	if a.cfg.Cache.Enabled {
		c, err := a.openCache()
		if err != nil {
			// A broken cache must not block lookups.
			logger.Warn("Cache unavailable, continuing without it", zap.Error(err))
		} else {
			svc = store.NewCachingService(svc, c, a.cfg.Cache.Precision)
		}
	}

	var recorder trace.Recorder
	if a.cfg.Usage.Enabled {
		t, err := a.openTracker()
		if err != nil {
			logger.Warn("Usage tracking unavailable", zap.Error(err))
		} else {
			recorder = t
		}
	}
	return trace.New(svc, recorder), nil
}

func (a *app) Close() {
	if a.tracker != nil {
		if err := a.tracker.Close(); err != nil {
			logger.Warn("Failed to save usage", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("Failed to close cache", zap.Error(err))
		}
	}
}

// commandContext cancels on SIGINT/SIGTERM and applies --timeout to the whole
// command. Without --timeout each request gets api.timeout instead.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	parent = usage.WithCommand(parent, cmd.Name())
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// runWithService is the common body of every command that calls the API.
func runWithService(cmd *cobra.Command, fn func(ctx context.Context, svc neshan.Service) error) error {
	return runWithApp(cmd, func(ctx context.Context, _ *app, svc neshan.Service) error {
		return fn(ctx, svc)
	})
}

func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, svc neshan.Service) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	logging.CLI("running %s", cmd.CommandPath())
	logging.CLIDebug("json=%v no_cache=%v timeout=%v cache=%v usage=%v",
		jsonOutput, noCache, timeout, a.cfg.Cache.Enabled, a.cfg.Usage.Enabled)
	if err := fn(ctx, a, svc); err != nil {
		logging.CLIError("%s failed: %v", cmd.CommandPath(), err)
		return err
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// renderError maps well-known failures to actionable messages.
func renderError(err error) string {
	switch {
	case errors.Is(err, neshan.ErrMissingAPIKey):
		return "error: Neshan API key not configured (use --api-key or NESHAN_API_KEY)"
	case errors.Is(err, neshan.ErrUnauthorized):
		return "error: Neshan rejected the API key: " + err.Error()
	case errors.Is(err, neshan.ErrRateLimited), neshan.IsRetryExhausted(err):
		return "error: Neshan is throttling or unavailable, try again later: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "error: timed out (raise --timeout)"
	}
	return "error: " + err.Error()
}
