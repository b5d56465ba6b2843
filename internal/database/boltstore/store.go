// Package boltstore provides the BoltDB (bbolt) backed moderation store.
// It is the zero-administration alternative to the SQLite backend for
// single-node deployments.
package boltstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names for organizing data
var (
	// BucketBans stores ban records keyed by 8-byte big-endian ID
	BucketBans = []byte("bans")

	// BucketBansByKey indexes the latest ban ID per natural key
	// ("user|scope|key"), which is what keeps active bans unique per key
	BucketBansByKey = []byte("bans_by_key")

	// BucketBanExceptions stores ban exceptions keyed by "banID|courseID"
	BucketBanExceptions = []byte("ban_exceptions")

	// BucketMutes stores mute records keyed by 8-byte big-endian ID
	BucketMutes = []byte("mutes")

	// BucketMutesByKey indexes the latest mute ID per natural key
	BucketMutesByKey = []byte("mutes_by_key")

	// BucketMuteExceptions stores mute exceptions keyed by
	// "mutedUser|exceptionUser|courseID"
	BucketMuteExceptions = []byte("mute_exceptions")

	// BucketAuditLog stores audit entries keyed by "timestamp|id" so a
	// cursor scan yields chronological order
	BucketAuditLog = []byte("audit_log")
)

// Options configures the BoltDB store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// Timeout for obtaining a file lock on the database.
	// If zero, a default of 5 seconds is used.
	Timeout time.Duration

	// FileMode for creating the database file.
	// If zero, 0600 is used.
	FileMode os.FileMode
}

// DefaultOptions returns sensible defaults for development.
func DefaultOptions() Options {
	return Options{
		Path:     "forummod.db",
		Timeout:  5 * time.Second,
		FileMode: 0600,
	}
}

// Open creates or opens a BoltDB database at the specified path.
// It creates all necessary buckets if they don't exist.
func Open(opts Options) (*ModerationStore, error) {
	if opts.Path == "" {
		opts.Path = "forummod.db"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}

	// Ensure parent directory exists
	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(opts.Path, opts.FileMode, &bolt.Options{
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			BucketBans,
			BucketBansByKey,
			BucketBanExceptions,
			BucketMutes,
			BucketMutesByKey,
			BucketMuteExceptions,
			BucketAuditLog,
		}

		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &ModerationStore{db: db}, nil
}
