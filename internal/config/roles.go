// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"

	"github.com/ManuGH/streamops/internal/opserr"
)

// Role names a watched media root. The watcher mirrors enabled roles into
// live directory watchers; rules refer to roles by name in their triggers.
type Role struct {
	Role    string `json:"role"`
	AbsPath string `json:"abs_path"`
	Watch   bool   `json:"watch"`
}

// Roles persists watch roles in the so_roles table.
type Roles struct {
	db *sql.DB
}

// NewRoles wires the role store.
func NewRoles(db *sql.DB) *Roles {
	return &Roles{db: db}
}

// List returns every role, watched or not, ordered by name.
func (r *Roles) List(ctx context.Context) ([]Role, error) {
	const op = "config.roles.list"
	rows, err := r.db.QueryContext(ctx,
		`SELECT role, abs_path, watch FROM so_roles ORDER BY role`)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, op, "query roles")
	}
	defer func() { _ = rows.Close() }()

	var out []Role
	for rows.Next() {
		var item Role
		if err := rows.Scan(&item.Role, &item.AbsPath, &item.Watch); err != nil {
			return nil, opserr.Wrap(err, opserr.KindInternal, op, "scan role")
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, op, "iterate roles")
	}
	return out, nil
}

// Watched returns the roles the watcher should have live, ordered by name.
func (r *Roles) Watched(ctx context.Context) ([]Role, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, item := range all {
		if item.Watch {
			out = append(out, item)
		}
	}
	return out, nil
}

// Get returns one role by name.
func (r *Roles) Get(ctx context.Context, name string) (*Role, error) {
	const op = "config.roles.get"
	var item Role
	err := r.db.QueryRowContext(ctx,
		`SELECT role, abs_path, watch FROM so_roles WHERE role = ?`, name,
	).Scan(&item.Role, &item.AbsPath, &item.Watch)
	if err == sql.ErrNoRows {
		return nil, opserr.Newf(opserr.KindNotFound, op, "role %q not found", name)
	}
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, op, "query role")
	}
	return &item, nil
}

// Set creates or replaces a role. Names are lowercased; paths must be
// absolute and clean.
func (r *Roles) Set(ctx context.Context, role Role) (*Role, error) {
	const op = "config.roles.set"

	role.Role = strings.ToLower(strings.TrimSpace(role.Role))
	if role.Role == "" {
		return nil, opserr.New(opserr.KindValidation, op, "role name is required")
	}
	if strings.ContainsAny(role.Role, " /\\") {
		return nil, opserr.Newf(opserr.KindValidation, op, "role name %q may not contain spaces or slashes", role.Role)
	}
	role.AbsPath = filepath.Clean(strings.TrimSpace(role.AbsPath))
	if !filepath.IsAbs(role.AbsPath) {
		return nil, opserr.Newf(opserr.KindValidation, op, "role path %q must be absolute", role.AbsPath)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO so_roles (role, abs_path, watch) VALUES (?, ?, ?)
		 ON CONFLICT(role) DO UPDATE SET abs_path = excluded.abs_path, watch = excluded.watch`,
		role.Role, role.AbsPath, role.Watch)
	if err != nil {
		return nil, opserr.Wrap(err, opserr.KindInternal, op, "upsert role")
	}
	return &role, nil
}

// Delete removes a role. The watcher drops its directory watch on the next
// reconcile pass.
func (r *Roles) Delete(ctx context.Context, name string) error {
	const op = "config.roles.delete"
	res, err := r.db.ExecContext(ctx, `DELETE FROM so_roles WHERE role = ?`, name)
	if err != nil {
		return opserr.Wrap(err, opserr.KindInternal, op, "delete role")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return opserr.Wrap(err, opserr.KindInternal, op, "rows affected")
	}
	if n == 0 {
		return opserr.Newf(opserr.KindNotFound, op, "role %q not found", name)
	}
	return nil
}
