package store

import (
	"context"
	"database/sql"
	"time"
)

// GetCache returns a live cache row's value, or (nil, false, nil) on miss
// or when the row has expired.
func (s *Store) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value_blob, inserted_at, ttl_seconds FROM cache_entries WHERE key = ?`, key)

	var value []byte
	var inserted float64
	var ttl int64
	err := row.Scan(&value, &inserted, &ttl)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get cache", err)
	}
	if time.Now().UTC().After(fromUnixf(inserted).Add(time.Duration(ttl) * time.Second)) {
		// Lazy eviction on read.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, false, nil
	}
	return value, true, nil
}

// PutCache upserts a cache row with the given TTL.
func (s *Store) PutCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value_blob, inserted_at, ttl_seconds)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
		   value_blob=excluded.value_blob, inserted_at=excluded.inserted_at,
		   ttl_seconds=excluded.ttl_seconds`,
		key, value, unixf(time.Now().UTC()), int64(ttl/time.Second),
	)
	if err != nil {
		return unavailable("put cache", err)
	}
	return nil
}

// EvictExpiredCache removes rows past their TTL and reports the count.
func (s *Store) EvictExpiredCache(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE inserted_at + ttl_seconds <= ?`, unixf(now))
	if err != nil {
		return 0, unavailable("evict expired cache", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
