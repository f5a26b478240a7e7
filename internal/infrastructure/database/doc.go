// Package database provides the SQLite store backing the bridge.
//
// The database holds the persisted device list and its content hash (see
// internal/devicestore) plus the schema migration ledger. WAL mode keeps
// status reads from blocking device-list writes, and the file is owner
// read/write only because device secrets are stored alongside the list.
//
// Migration files are embedded into the binary by the migrations package;
// a deployment is just the one executable:
//
//	import _ "github.com/Dmxmj/ha-163-plug/migrations"
//
//	db, err := database.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
