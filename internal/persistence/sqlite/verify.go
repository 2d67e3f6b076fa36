package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
)

// VerifyIntegrity runs SQLite's self-check against the store file and
// returns the diagnostic rows, nil when the file is sound. Mode "quick"
// maps to quick_check (page structure only), anything else to the slower
// integrity_check. Startup runs quick mode before the first write.
func VerifyIntegrity(path string, mode string) ([]string, error) {
	// Own read-only connection so the check never takes a write lock from
	// the live pool.
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_busy_timeout=2000", path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s read-only: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	check := "quick_check"
	if mode == "full" {
		check = "integrity_check"
	}

	rows, err := db.Query("PRAGMA " + check + ";")
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s on %s: %w", check, path, err)
	}
	defer func() { _ = rows.Close() }()

	var diags []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s row: %w", check, err)
		}
		diags = append(diags, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The pragma's healthy answer is exactly one row reading "ok".
	if len(diags) == 1 && strings.EqualFold(diags[0], "ok") {
		return nil, nil
	}
	if len(diags) == 0 {
		diags = []string{check + " returned no rows"}
	}
	return diags, nil
}
