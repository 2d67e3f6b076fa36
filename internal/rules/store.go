// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/streamops/internal/opserr"
)

// Store persists rule documents. Name, priority and enabled are mirrored
// into columns so loading can sort without parsing JSON; on read the
// columns win over whatever the doc says.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const ruleColumns = `id, name, priority, enabled, doc, created_at, updated_at`

// Upsert validates and saves the rule. An empty id means create;
// created_at is insert-only.
func (s *Store) Upsert(ctx context.Context, r *Rule) (*Rule, error) {
	const op = "rules.upsert"
	if err := Validate(r); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	doc, err := json.Marshal(r)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, op, "encode rule")
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO so_rules
		(id, name, priority, enabled, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			priority = excluded.priority, enabled = excluded.enabled,
			doc = excluded.doc, updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Priority, boolInt(r.Enabled), string(doc),
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, op, "write rule")
	}
	return s.Get(ctx, r.ID)
}

func (s *Store) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM so_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opserr.Newf(opserr.KindNotFound, "rules.get", "rule %s not found", id)
	}
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, "rules.get", "scan rule")
	}
	return r, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM so_rules WHERE id = ?`, id)
	if err != nil {
		return opserr.Wrap(err, opserr.KindIO, "rules.delete", "delete rule")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return opserr.Newf(opserr.KindNotFound, "rules.delete", "rule %s not found", id)
	}
	return nil
}

// List returns every rule, enabled or not, in evaluation order.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM so_rules
		ORDER BY priority DESC, created_at ASC, rowid ASC`)
}

// LoadEnabled returns the rules the engine evaluates, highest priority
// first, oldest first within one priority.
func (s *Store) LoadEnabled(ctx context.Context) ([]Rule, error) {
	return s.query(ctx, `SELECT `+ruleColumns+` FROM so_rules WHERE enabled = 1
		ORDER BY priority DESC, created_at ASC, rowid ASC`)
}

func (s *Store) query(ctx context.Context, q string) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindIO, "rules.list", "query")
	}
	defer func() { _ = rows.Close() }()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, opserr.Wrap(err, opserr.KindIO, "rules.list", "scan")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(sc scanner) (*Rule, error) {
	var (
		id, name, doc        string
		priority, enabled    int
		createdAt, updatedAt string
	)
	if err := sc.Scan(&id, &name, &priority, &enabled, &doc, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var r Rule
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return nil, fmt.Errorf("rule %s: decode doc: %w", id, err)
	}
	r.ID = id
	r.Name = name
	r.Priority = priority
	r.Enabled = enabled != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
