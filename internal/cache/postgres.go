package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig sizes the pgx pool
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   30 * time.Minute,
		MaxConnIdleTime:   5 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
	}
}

// PoolConfigFromEnv reads DB_MAX_CONNS, DB_MIN_CONNS, DB_MAX_CONN_LIFETIME,
// DB_MAX_CONN_IDLE_TIME and DB_HEALTHCHECK_PERIOD over the defaults.
func PoolConfigFromEnv() PoolConfig {
	cfg := DefaultPoolConfig()

	if n, ok := envInt("DB_MAX_CONNS"); ok {
		cfg.MaxConns = n
	}
	if n, ok := envInt("DB_MIN_CONNS"); ok {
		cfg.MinConns = n
	}
	if d, ok := envDuration("DB_MAX_CONN_LIFETIME"); ok {
		cfg.MaxConnLifetime = d
	}
	if d, ok := envDuration("DB_MAX_CONN_IDLE_TIME"); ok {
		cfg.MaxConnIdleTime = d
	}
	if d, ok := envDuration("DB_HEALTHCHECK_PERIOD"); ok {
		cfg.HealthCheckPeriod = d
	}

	if cfg.MaxConns < 1 {
		cfg.MaxConns = 1
	}
	if cfg.MinConns < 0 {
		cfg.MinConns = 0
	}
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}
	return cfg
}

func envInt(name string) (int32, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 32)
	return int32(n), err == nil
}

func envDuration(name string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	return d, err == nil
}

// ensureSSLMode defaults sslmode to require; Supabase refuses plain connections
func ensureSSLMode(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return dbURL
	}

	q := u.Query()
	if q.Get("sslmode") == "" {
		q.Set("sslmode", "require")
		u.RawQuery = q.Encode()
	}
	return strings.TrimSpace(u.String())
}

// NewPool connects a pgx pool
func NewPool(ctx context.Context, databaseURL string, cfg PoolConfig) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("empty database url")
	}

	poolCfg, err := pgxpool.ParseConfig(ensureSSLMode(databaseURL))
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// PostgresStore keeps the cache table in Postgres (Supabase in production)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore migrates the cache table and returns the store
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the cache table
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`create table if not exists cache (
			key text primary key,
			value jsonb not null,
			updated_at timestamptz not null default now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) read(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	var (
		value   []byte
		updated time.Time
	)
	err := s.pool.QueryRow(ctx, `select value, updated_at from cache where key = $1`, key).Scan(&value, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, updated, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool, error) {
	value, updated, ok, err := s.read(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if time.Since(updated) > maxAge {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *PostgresStore) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, ok, err := s.read(ctx, key)
	return value, ok, err
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`insert into cache (key, value, updated_at) values ($1, $2, now())
		 on conflict (key) do update set value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
