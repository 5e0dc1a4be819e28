// Package clientdata caches provider responses in cache.db as JSON blobs with
// expiry, so the feed can fall back to the last known good value.
package clientdata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Cache tables in cache.db.
const (
	TableQuotes       = "quotes"
	TablePrevDayAggs  = "prev_day_aggs"
	TableOptionChains = "option_chains"
)

// AllTables lists all tables in cache.db for cleanup operations.
var AllTables = []string{TableQuotes, TablePrevDayAggs, TableOptionChains}

var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// Repository provides cache operations for provider data.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// validateTable keeps table names out of reach of callers' input.
func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid table name: %s", table)
	}
	return nil
}

// Store saves data with expiration = now + ttl.
func (r *Repository) Store(table, key string, data interface{}, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	now := r.now()
	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (key, data, expires_at, stored_at) VALUES (?, ?, ?, ?)",
		table,
	)
	if _, err := r.db.Exec(query, key, string(jsonData), now.Add(ttl).UnixMilli(), now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}
	return nil
}

// GetIfFresh returns data only while it has not expired; nil, nil otherwise.
func (r *Repository) GetIfFresh(table, key string) (json.RawMessage, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE key = ? AND expires_at > ?", table)

	var data string
	err := r.db.QueryRow(query, key, r.now().UnixMilli()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data from %s: %w", table, err)
	}
	return json.RawMessage(data), nil
}

// GetWithAge returns data regardless of expiry together with how old it is.
// Returns nil, 0, nil if the key doesn't exist.
func (r *Repository) GetWithAge(table, key string) (json.RawMessage, time.Duration, error) {
	if err := validateTable(table); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT data, stored_at FROM %s WHERE key = ?", table)

	var (
		data     string
		storedAt int64
	)
	err := r.db.QueryRow(query, key).Scan(&data, &storedAt)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get data from %s: %w", table, err)
	}
	return json.RawMessage(data), r.now().Sub(time.UnixMilli(storedAt)), nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(table, key string) error {
	if err := validateTable(table); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", table)
	if _, err := r.db.Exec(query, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// DeleteExpired removes all rows past their expiry and returns how many went.
func (r *Repository) DeleteExpired(table string) (int64, error) {
	return r.DeleteExpiredBefore(table, r.now())
}

// DeleteExpiredBefore removes rows whose expiry is earlier than cutoff.
func (r *Repository) DeleteExpiredBefore(table string, cutoff time.Time) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)
	result, err := r.db.Exec(query, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}
	return deleted, nil
}

// DeleteAllExpired removes all expired entries from all tables.
func (r *Repository) DeleteAllExpired() (map[string]int64, error) {
	results := make(map[string]int64)
	for _, table := range AllTables {
		deleted, err := r.DeleteExpired(table)
		if err != nil {
			return results, fmt.Errorf("failed to delete expired from %s: %w", table, err)
		}
		results[table] = deleted
	}
	return results, nil
}
