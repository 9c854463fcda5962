package sqlitesink

type migration struct {
	version int
	sql     string
}

// migrations must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sheet_rows (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	sheet   TEXT    NOT NULL,
	row_no  INTEGER NOT NULL,
	sender  TEXT    NOT NULL DEFAULT '',
	subject TEXT    NOT NULL DEFAULT '',
	date    TEXT    NOT NULL DEFAULT '',
	content TEXT    NOT NULL DEFAULT '',
	UNIQUE (sheet, row_no)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
