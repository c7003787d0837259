// Package app provides application-level wiring and dependency injection
// for the audit-log cache.
package app

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"unqork-logs/internal/auditapi"
	"unqork-logs/internal/config"
	internaldb "unqork-logs/internal/db"
	"unqork-logs/internal/db/repository"
	"unqork-logs/internal/domain"
	"unqork-logs/internal/parser"
	"unqork-logs/internal/service/fetch"
	"unqork-logs/internal/service/query"
)

// Deps holds the external dependencies the app needs: database handles,
// config and logger. HTTPClient is optional.
type Deps struct {
	Cfg        *config.Config
	WriteDB    *sql.DB
	ReadDB     *sql.DB
	CachePath  string
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Services groups the wired services.
// Fetcher is nil when API credentials are not configured.
type Services struct {
	Planner *fetch.Planner
	Fetcher *fetch.Orchestrator
	Query   *query.Service
}

// App is the fully wired audit-log cache: the consumer-facing surface used
// by the CLI.
type App struct {
	Services Services
	Store    *repository.CacheRepo

	cfg     *config.Config
	closers []func() error
	logger  *slog.Logger
}

// Open opens (creating if needed) the cache in cfg.DataDir and wires the app.
// The caller must Close it.
func Open(cfg *config.Config, logger *slog.Logger) (*App, error) {
	writeDB, readDB, path, err := internaldb.OpenCache(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a, err := New(Deps{Cfg: cfg, WriteDB: writeDB, ReadDB: readDB, CachePath: path, Logger: logger})
	if err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, err
	}
	a.closers = append(a.closers, readDB.Close, writeDB.Close)
	return a, nil
}

// New wires repositories and services from the provided deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// === Repository ===
	store := repository.NewCacheRepo(deps.WriteDB, deps.ReadDB, deps.CachePath)

	// === Read side ===
	services := Services{
		Planner: fetch.NewPlanner(store),
		Query:   query.NewService(store),
	}

	// === Remote side (only with credentials) ===
	if cfg.HasCredentials() {
		httpClient := deps.HTTPClient
		if httpClient == nil {
			httpClient = newHTTPClient(cfg)
		}
		tokens := auditapi.NewTokenManager(auditapi.TokenManagerConfig{
			BaseURL:       cfg.BaseURL,
			ClientID:      cfg.ClientID,
			ClientSecret:  cfg.ClientSecret,
			HTTPClient:    httpClient,
			RefreshMargin: cfg.TokenRefreshBuffer,
			Logger:        logger,
		})
		client := auditapi.NewClient(auditapi.ClientConfig{
			BaseURL:    cfg.BaseURL,
			HTTPClient: httpClient,
			Tokens:     tokens,
			Limiter:    newLimiter(cfg.RequestsPerSecond),
			MaxRetries: cfg.DownloadRetries,
			Logger:     logger,
		})
		services.Fetcher = fetch.NewOrchestrator(fetch.OrchestratorConfig{
			API:         client,
			Parser:      parser.New(cfg.MalformedTolerance, logger),
			Store:       store,
			Concurrency: cfg.MaxConcurrentDownloads,
			Logger:      logger,
		})
	}

	return &App{Services: services, Store: store, cfg: cfg, logger: logger}, nil
}

func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.MaxConcurrentDownloads
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via UNQORK_VERIFY_SSL
	}
	return &http.Client{Transport: transport, Timeout: cfg.HTTPTimeout}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Fetch brings [start, end) into the cache, downloading only windows that
// are not yet in the ledger.
func (a *App) Fetch(ctx context.Context, start, end time.Time, progress fetch.Progress) (*fetch.Summary, error) {
	if a.Services.Fetcher == nil {
		if err := a.cfg.ValidateCredentials(); err != nil {
			return nil, err
		}
		return nil, errors.New("fetcher is not configured")
	}

	all, err := fetch.Split(start, end, domain.WindowSize)
	if err != nil {
		return nil, err
	}
	pending, err := a.Services.Planner.Plan(ctx, start, end)
	if err != nil {
		return nil, err
	}
	a.logger.Info("fetch planned", "windows", len(all), "pending", len(pending))

	sum, err := a.Services.Fetcher.Fetch(ctx, pending, progress)
	if sum != nil {
		sum.WindowsSkipped = len(all) - len(pending)
	}
	return sum, err
}

// Query returns one page of cached entries matching filter.
func (a *App) Query(ctx context.Context, filter domain.FilterSpec, page domain.PageRequest) (*domain.EntryPage, error) {
	return a.Services.Query.Resolve(filter).List(ctx, page)
}

// GetByIDPrefix returns the entry identified by an ID or unique ID prefix.
func (a *App) GetByIDPrefix(ctx context.Context, prefix string) (*domain.AuditEntry, error) {
	return a.Services.Query.GetByIDPrefix(ctx, prefix)
}

// Stats summarises the cache.
func (a *App) Stats(ctx context.Context) (*domain.CacheStats, error) {
	return a.Services.Query.Stats(ctx)
}

// Clear empties the cache and the ledger.
func (a *App) Clear(ctx context.Context) error {
	return a.Services.Query.Clear(ctx)
}

// ListWindows returns the ledger, oldest first.
func (a *App) ListWindows(ctx context.Context) ([]domain.FetchWindow, error) {
	return a.Services.Query.ListWindows(ctx)
}

// Close releases the database handles opened by Open.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}
