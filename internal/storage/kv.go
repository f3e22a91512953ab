package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Bucket is a named key-value namespace holding string and string-set
// values. Sets are stored as JSON arrays.
type Bucket struct {
	db   *sql.DB
	name string
}

// NewBucket creates a bucket over the given database.
func NewBucket(db *DB, name string) *Bucket {
	return &Bucket{db: db.DB, name: name}
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// SetString saves a string value under key.
func (b *Bucket) SetString(key, value string) error {
	return b.set(key, value)
}

// GetString retrieves a string value. The second return is false when
// the key does not exist.
func (b *Bucket) GetString(key string) (string, bool, error) {
	return b.get(key)
}

// SetStringSet saves a set of strings under key.
func (b *Bucket) SetStringSet(key string, values []string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal set: %w", err)
	}
	return b.set(key, string(data))
}

// GetStringSet retrieves a set of strings. A missing key yields an
// empty set.
func (b *Bucket) GetStringSet(key string) ([]string, error) {
	raw, ok, err := b.get(key)
	if err != nil || !ok {
		return nil, err
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal set: %w", err)
	}
	return values, nil
}

// Delete removes a key. Returns true if the key existed.
func (b *Bucket) Delete(key string) (bool, error) {
	result, err := b.db.Exec(`
		DELETE FROM kv_store WHERE bucket = ? AND key = ?
	`, b.name, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete key: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// DeletePrefix removes every key starting with prefix. Returns the
// number of keys removed.
func (b *Bucket) DeletePrefix(prefix string) (int64, error) {
	result, err := b.db.Exec(`
		DELETE FROM kv_store WHERE bucket = ? AND key LIKE ? ESCAPE '\'
	`, b.name, escapeLike(prefix)+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to delete prefix: %w", err)
	}
	return result.RowsAffected()
}

// Keys returns all keys in the bucket.
func (b *Bucket) Keys() ([]string, error) {
	rows, err := b.db.Query(`
		SELECT key FROM kv_store WHERE bucket = ?
	`, b.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (b *Bucket) set(key, value string) error {
	now := time.Now().UTC().Unix()

	_, err := b.db.Exec(`
		INSERT INTO kv_store (bucket, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, b.name, key, value, now, now)
	if err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}
	return nil
}

func (b *Bucket) get(key string) (string, bool, error) {
	var value string
	err := b.db.QueryRow(`
		SELECT value FROM kv_store WHERE bucket = ? AND key = ?
	`, b.name, key).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get value: %w", err)
	}
	return value, true, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
