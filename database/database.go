package database

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/freekieb7/cinder/filesystem"
)

// Open opens or creates the pebble database in dir. Session and account
// stores share the one handle.
func Open(dir string, logger *slog.Logger) (*pebble.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := filesystem.EnsureDirectory(dir); err != nil {
		return nil, err
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", dir, err)
	}
	logger.Info("pebble opened", slog.String("path", dir))
	return db, nil
}

// OpenInMemory opens a database backed by an in-memory filesystem.
func OpenInMemory() (*pebble.DB, error) {
	return pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
}

// PrefixEnd is the smallest key greater than every key that starts with
// prefix, for use as an iterator upper bound.
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Scan calls fn for every key with the given prefix, in key order. The
// slices handed to fn are only valid during the call.
func Scan(db *pebble.DB, prefix []byte, fn func(key, value []byte) error) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: PrefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
