package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/totebags/api/internal/platform/config"
)

const (
	defaultPingTimeout     = 5 * time.Second
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// ErrProviderClosed is returned once Close has been called.
var ErrProviderClosed = errors.New("postgres: provider is closed")

// Provider lazily opens a shared connection pool using the pgx stdlib driver.
type Provider struct {
	cfg         config.DatabaseConfig
	pingTimeout time.Duration

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithPingTimeout overrides the timeout used to verify a fresh pool.
func WithPingTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.pingTimeout = timeout
		}
	}
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.DatabaseConfig, opts ...ProviderOption) *Provider {
	p := &Provider{cfg: cfg, pingTimeout: defaultPingTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// DB returns the pool, opening and pinging it on first use.
func (p *Provider) DB(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.db != nil {
		return p.db, nil
	}

	dsn := strings.TrimSpace(p.cfg.URL)
	if dsn == "" {
		return nil, errors.New("postgres: database url is required")
	}
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}

	db := stdlib.OpenDB(*connCfg)
	if p.cfg.MaxConns > 0 {
		db.SetMaxOpenConns(p.cfg.MaxConns)
		db.SetMaxIdleConns(p.cfg.MaxConns)
	}
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	p.db = db
	return db, nil
}

// Ping checks connectivity for readiness probes.
func (p *Provider) Ping(ctx context.Context) error {
	db, err := p.DB(ctx)
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Close releases the pool. Subsequent calls to DB fail.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
