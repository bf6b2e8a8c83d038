// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver.
//
// SQLite has no row locks, so the store runs on a single connection and
// every claim or mutation is one write transaction: select, conditional
// update and audit insert commit together and concurrent callers queue on
// the connection. Timestamps are stored as UTC Unix nanoseconds.
//
//	s, err := sqlite.Open(ctx, "jobs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//	err = s.Migrate(ctx)
package sqlite
