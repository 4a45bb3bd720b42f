// ABOUTME: Entry point for the toolgate tool execution server.
// ABOUTME: Runs the HTTP gateway or the stdio transport over one shared registry.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/contextstore"
	"github.com/toolgate/toolgate/internal/gateway"
	"github.com/toolgate/toolgate/internal/plugins/homeassistant"
	"github.com/toolgate/toolgate/internal/plugins/httpcall"
	"github.com/toolgate/toolgate/internal/plugins/sysinfo"
	"github.com/toolgate/toolgate/internal/protocol"
	"github.com/toolgate/toolgate/internal/registry"
	"github.com/toolgate/toolgate/internal/stdio"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _              _            _
| |_ ___   ___ | | __ _  __ _| |_ ___
| __/ _ \ / _ \| |/ _' |/ _' | __/ _ \
| || (_) | (_) | | (_| | (_| | ||  __/
 \__\___/ \___/|_|\__, |\__,_|\__\___|
                  |___/
`

// getConfigPath returns the path to the toolgate config file.
// Priority: TOOLGATE_CONFIG env var > XDG_CONFIG_HOME/toolgate/toolgate.yaml > ~/.config/toolgate/toolgate.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TOOLGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "toolgate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolgate", "toolgate.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: toolgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the HTTP gateway")
		fmt.Println("  stdio     Serve the line protocol on stdin/stdout")
		fmt.Println("  health    Check gateway health")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "stdio":
		err = runStdio(ctx)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Printf("    listening on %s\n\n", cfg.Server.HTTPAddr)

	recorder, browser, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer recorder.Close()

	reg, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}

	dispatcher := protocol.NewDispatcher(protocol.DispatcherConfig{
		Registry:       reg,
		Recorder:       recorder,
		Logger:         logger,
		ExecuteTimeout: cfg.Dispatch.ExecuteTimeout,
	})

	gw, err := gateway.New(gateway.NewConfig{
		Config:     cfg,
		Registry:   reg,
		Dispatcher: dispatcher,
		Browser:    browser,
		Logger:     logger,
		Version:    version,
	})
	if err != nil {
		return err
	}

	runErr := gw.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.LifecycleTimeout)
	defer cancel()
	if err := reg.ShutdownAll(shutdownCtx); err != nil {
		logger.Warn("provider shutdown reported errors", "error", err)
	}

	return runErr
}

func runStdio(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Stdout carries the protocol stream, so logs go to stderr.
	logger := setupLogger(cfg.Logging, os.Stderr)

	recorder, _, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer recorder.Close()

	reg, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}

	dispatcher := protocol.NewDispatcher(protocol.DispatcherConfig{
		Registry:       reg,
		Recorder:       recorder,
		Logger:         logger,
		ExecuteTimeout: cfg.Dispatch.ExecuteTimeout,
	})

	transport := stdio.New(stdio.Config{
		Dispatcher: dispatcher,
		In:         os.Stdin,
		Out:        os.Stdout,
		Logger:     logger,
	})

	runErr := transport.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.LifecycleTimeout)
	defer cancel()
	if err := reg.ShutdownAll(shutdownCtx); err != nil {
		logger.Warn("provider shutdown reported errors", "error", err)
	}

	return runErr
}

// loadConfig reads the config file when present and falls back to defaults,
// so stdio mode works on a bare machine with no config at all.
func loadConfig() (*config.Config, error) {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// openStore opens the interaction store when a database path is configured.
func openStore(cfg *config.Config, logger *slog.Logger) (contextstore.Recorder, contextstore.Browser, error) {
	if cfg.Database.Path == "" {
		return contextstore.Nop{}, nil, nil
	}
	store, err := contextstore.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening interaction store: %w", err)
	}
	logger.Info("interaction store open", "path", cfg.Database.Path)
	return store, store, nil
}

// buildRegistry registers every enabled provider. A provider whose Init
// fails keeps the process up; the failure is logged and the capability is
// simply absent.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	reg := registry.New(registry.Config{
		Logger:           logger,
		LifecycleTimeout: cfg.Dispatch.LifecycleTimeout,
	})

	if err := reg.Register(ctx, sysinfo.New(logger)); err != nil {
		logger.Warn("system_info provider unavailable", "error", err)
	}

	if err := reg.Register(ctx, httpcall.New(httpcall.Config{
		MaxTimeout: cfg.Providers.HTTP.MaxTimeout,
		MaxBody:    cfg.Providers.HTTP.MaxBody,
		Logger:     logger,
	})); err != nil {
		logger.Warn("http_request provider unavailable", "error", err)
	}

	if cfg.Providers.HomeAssistant.Enabled {
		if err := reg.Register(ctx, homeassistant.New(homeassistant.Config{
			BaseURL: cfg.Providers.HomeAssistant.BaseURL,
			Token:   cfg.Providers.HomeAssistant.Token,
			Logger:  logger,
		})); err != nil {
			logger.Warn("homeassistant provider unavailable", "error", err)
		}
	}

	if len(reg.Providers()) == 0 {
		return nil, errors.New("no providers registered")
	}
	return reg, nil
}

func runHealth(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var health gateway.HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("unexpected health response: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("gateway %s (version %s)\n", health.Status, health.Version)
	return nil
}

func setupLogger(cfg config.LoggingConfig, out io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = &colorHandler{
			level: level,
			out:   out,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	out   io.Writer
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(h.out, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level: h.level,
		out:   h.out,
		attrs: newAttrs,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return h
}
