// Package sqlitedb centralizes the storage-tuning connection string and
// PRAGMA discipline spec §4.4/§6.2 requires of every store component,
// grounded on the pack's ccdash metrics cache (modernc.org/sqlite,
// WAL + synchronous=NORMAL + busy_timeout via both the connection string
// and belt-and-suspenders PRAGMA statements).
package sqlitedb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens path with the pragmas the spec's storage tuning section
// requires: WAL journalling, synchronous=NORMAL, a multi-second busy
// timeout (busyTimeoutSec), and a single connection (SQLite allows only
// one writer; readers share it safely under WAL).
func Open(path string, busyTimeoutSec int) (*sql.DB, error) {
	if busyTimeoutSec <= 0 {
		busyTimeoutSec = 30
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(%d)",
		path, busyTimeoutSec*1000,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutSec*1000),
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return db, nil
}
