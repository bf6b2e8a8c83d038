// Package bunstore implements store.Store using the Bun ORM with PostgreSQL
// dialect. Claims use SELECT ... FOR UPDATE SKIP LOCKED inside RunInTx, so
// the status change and its audit row commit together.
//
// The caller owns the *bun.DB lifecycle and bunstore never closes it. Pass
// the db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/xraph/jobdispatch/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
