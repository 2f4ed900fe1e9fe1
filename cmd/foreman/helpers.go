package main

import (
	"fmt"

	"github.com/seanmigrate/foreman/internal/store"
)

// openStore opens the configured database and brings its schema up to
// date. Callers own the returned handle.
func openStore() (*store.DB, error) {
	path := cfg.Store.Path
	if path == "" {
		path = store.DefaultDBPath()
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return db, nil
}
