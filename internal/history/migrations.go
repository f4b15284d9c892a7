package history

import (
	"database/sql"

	"github.com/HerbHall/ztpserver/internal/store"
)

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create provisioning history table",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE provision_history (
						seq        INTEGER PRIMARY KEY AUTOINCREMENT,
						id         TEXT NOT NULL UNIQUE,
						node_id    TEXT NOT NULL,
						topic      TEXT NOT NULL,
						workflow   TEXT NOT NULL DEFAULT '',
						pattern    TEXT NOT NULL DEFAULT '',
						definition TEXT NOT NULL DEFAULT '',
						state      TEXT NOT NULL DEFAULT '',
						status     INTEGER NOT NULL DEFAULT 0,
						error_msg  TEXT NOT NULL DEFAULT '',
						created_at TEXT NOT NULL
					)`,
					`CREATE INDEX idx_provision_history_node ON provision_history(node_id, seq)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
