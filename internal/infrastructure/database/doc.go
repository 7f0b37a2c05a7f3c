// Package database provides the agent's local SQLite store.
//
// The store is optional. When enabled it keeps a journal of confirmed
// deliveries and pipeline errors so an operator can see what the agent
// sent and why anything was dropped, even after a restart. It is not a
// replacement for the overflow file: samples waiting for the network live
// in the buffer package.
//
// # Usage
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// # Migrations
//
// Schema files are embedded by the migrations package and applied in
// version order, one transaction each. Files are named
// YYYYMMDD_HHMMSS_<name>.up.sql with an optional .down.sql partner.
package database
