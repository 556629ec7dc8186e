package main

import (
	"path/filepath"

	"nanofab.ai/internal/persistence/indexdb"
)

// IndexFile is the run index path relative to -data. cmd/admin reads the same
// file.
const IndexFile = "index/runs.sqlite"

func openRuntimeIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}
	return indexdb.OpenSQLite(filepath.Join(dataDir, filepath.FromSlash(IndexFile)))
}
