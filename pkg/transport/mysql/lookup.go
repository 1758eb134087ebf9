// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License;
// you may not use this file except in compliance with the Elastic License.

// Package mysql implements the MySQL-backed lookup table described in
// original_source/bspump/mysql/lookup.py: a cached, dictionary-like
// mapping over a MySQL table or join query, fed by
// github.com/go-sql-driver/mysql through database/sql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/fluxpump/fluxpump/pkg/metrics"
)

// Config mirrors MySQLLookup's ConfigDefaults.
type Config struct {
	DSN      string // e.g. "user:pass@tcp(host:3306)/db"
	Statement string // columns to select, default "*"
	From     string // table name or join expression
	Key      string // key column name used for lookups

	QueryFindOne string
	QueryCount   string
	QueryIter    string
}

// DefaultConfig fills in the original's default query templates.
func DefaultConfig() Config {
	return Config{
		Statement:    "*",
		QueryFindOne: "SELECT %s FROM %s WHERE %s=?;",
		QueryCount:   "SELECT COUNT(%s) AS n FROM %s;",
		QueryIter:    "SELECT %s FROM %s;",
	}
}

// Lookup provides a cached, map-like view over a MySQL table, matching
// MySQLLookup. Get performs a query on first access for a key and caches
// the decoded row; CacheCounter records hit/miss the way the original's
// MetricsService-backed counter does.
type Lookup struct {
	cfg Config
	db  *sql.DB

	cacheMu sync.RWMutex
	cache   map[string]map[string]any

	cacheCounter *metrics.Counter
}

// New opens a connection pool for cfg.DSN and registers a hit/miss counter
// on reg, matching "metrics_service.create_counter('mysql.lookup', ...,
// init_values={'hit': 0, 'miss': 0})".
func New(cfg Config, reg *metrics.Registry) (*Lookup, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to open %q: %w", cfg.From, err)
	}

	l := &Lookup{cfg: cfg, db: db, cache: make(map[string]map[string]any)}
	if reg != nil {
		counter, err := reg.Counter("mysql.lookup", nil, map[string]any{"hit": 0.0, "miss": 0.0}, false)
		if err == nil {
			l.cacheCounter = counter
		}
	}
	return l, nil
}

// Close releases the underlying connection pool.
func (l *Lookup) Close() error { return l.db.Close() }

// Len returns the row count of the backing query, matching __len__.
func (l *Lookup) Len(ctx context.Context) (int, error) {
	query := fmt.Sprintf(l.cfg.QueryCount, l.cfg.Statement, l.cfg.From)
	var n int
	if err := l.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("mysql: count query failed: %w", err)
	}
	return n, nil
}

// Get returns the cached row for key, querying and caching it on a miss,
// matching __getitem__.
func (l *Lookup) Get(ctx context.Context, key string) (map[string]any, error) {
	l.cacheMu.RLock()
	row, ok := l.cache[key]
	l.cacheMu.RUnlock()
	if ok {
		l.addCount("hit")
		return row, nil
	}

	row, err := l.findOne(ctx, key)
	if err != nil {
		return nil, err
	}

	l.cacheMu.Lock()
	l.cache[key] = row
	l.cacheMu.Unlock()
	l.addCount("miss")
	return row, nil
}

func (l *Lookup) addCount(name string) {
	if l.cacheCounter == nil {
		return
	}
	init := 0.0
	_ = l.cacheCounter.Add(time.Now(), name, 1, &init, nil)
}

func (l *Lookup) findOne(ctx context.Context, key string) (map[string]any, error) {
	query := fmt.Sprintf(l.cfg.QueryFindOne, l.cfg.Statement, l.cfg.From, l.cfg.Key)
	rows, err := l.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("mysql: find-one query failed: %w", err)
	}
	defer rows.Close()
	return scanOne(rows)
}

// All iterates the full backing query, matching __iter__/__next__ and
// warming the cache the same way: every yielded row is cached under Key.
func (l *Lookup) All(ctx context.Context) ([]map[string]any, error) {
	query := fmt.Sprintf(l.cfg.QueryIter, l.cfg.Statement, l.cfg.From)
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mysql: iter query failed: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
		if key, ok := row[l.cfg.Key].(string); ok {
			l.cacheMu.Lock()
			l.cache[key] = row
			l.cacheMu.Unlock()
		}
	}
	return out, rows.Err()
}

func scanOne(rows *sql.Rows) (map[string]any, error) {
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRow(rows)
}

func scanRow(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("mysql: failed to read columns: %w", err)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("mysql: failed to scan row: %w", err)
	}

	row := make(map[string]any, len(cols))
	for i, col := range cols {
		if b, ok := vals[i].([]byte); ok {
			row[col] = string(b)
		} else {
			row[col] = vals[i]
		}
	}
	return row, nil
}
