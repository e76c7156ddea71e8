// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stacklok/mcpgw/pkg/gateway"
	"github.com/stacklok/mcpgw/pkg/storage"
)

// ServerStore implements storage.ServerStore using SQLite.
type ServerStore struct {
	wrapper *DB
	db      *sql.DB
	now     func() time.Time
}

var _ storage.ServerStore = (*ServerStore)(nil)

// NewServerStore creates a new SQLite-backed ServerStore.
func NewServerStore(db *DB) *ServerStore {
	return &ServerStore{wrapper: db, db: db.DB(), now: time.Now}
}

// NewServerStoreFromPath opens the database at path and returns a store on it.
func NewServerStoreFromPath(ctx context.Context, path string) (*ServerStore, error) {
	db, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return NewServerStore(db), nil
}

// Close closes the underlying database connection.
func (s *ServerStore) Close() error {
	return s.wrapper.Close()
}

const serverColumns = `name, transport, description, url, command, args, env,
	docker_image, docker_ports, required_roles, creator_id, enabled, created_at, updated_at`

// Get retrieves a descriptor by name.
func (s *ServerStore) Get(ctx context.Context, name string) (*gateway.ServerDescriptor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE name = ?`, name)
	desc, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("server %q: %w", name, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying server: %w", err)
	}
	return desc, nil
}

// Create stores a new descriptor. An existing row with the same name is
// left as it is.
func (s *ServerStore) Create(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	stored, err := s.write(ctx, desc, `ON CONFLICT(name) DO NOTHING`)
	if errors.Is(err, errNoRowWritten) {
		return nil, fmt.Errorf("server %q: %w", desc.Name, storage.ErrAlreadyExists)
	}
	return stored, err
}

// Upsert creates or replaces a descriptor. The conflict clause leaves
// creator_id and created_at untouched, so a replace keeps the original owner.
func (s *ServerStore) Upsert(ctx context.Context, desc *gateway.ServerDescriptor) (*gateway.ServerDescriptor, error) {
	return s.write(ctx, desc, `
		ON CONFLICT(name) DO UPDATE SET
			transport = excluded.transport,
			description = excluded.description,
			url = excluded.url,
			command = excluded.command,
			args = excluded.args,
			env = excluded.env,
			docker_image = excluded.docker_image,
			docker_ports = excluded.docker_ports,
			required_roles = excluded.required_roles,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`)
}

var errNoRowWritten = errors.New("no row written")

// write inserts desc with the given conflict clause and reads the row back
// in the same transaction.
func (s *ServerStore) write(ctx context.Context, desc *gateway.ServerDescriptor, onConflict string) (*gateway.ServerDescriptor, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	args, err := encodeJSON(desc.Args)
	if err != nil {
		return nil, fmt.Errorf("encoding args: %w", err)
	}
	env, err := encodeJSON(desc.Env)
	if err != nil {
		return nil, fmt.Errorf("encoding env: %w", err)
	}
	ports, err := encodeJSON(desc.DockerPorts)
	if err != nil {
		return nil, fmt.Errorf("encoding docker ports: %w", err)
	}
	roles, err := encodeJSON(desc.RequiredRoles)
	if err != nil {
		return nil, fmt.Errorf("encoding required roles: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`+onConflict,
		desc.Name,
		string(desc.Transport),
		desc.Description,
		desc.URL,
		desc.Command,
		args,
		env,
		desc.DockerImage,
		ports,
		roles,
		desc.CreatorID,
		desc.Enabled,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("writing server: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking written rows: %w", err)
	}
	if n == 0 {
		return nil, errNoRowWritten
	}

	stored, err := scanServer(tx.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers WHERE name = ?`, desc.Name))
	if err != nil {
		return nil, fmt.Errorf("reading back server: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return stored, nil
}

// List returns the descriptors matching filter sorted by name.
func (s *ServerStore) List(ctx context.Context, filter storage.ListFilter) ([]*gateway.ServerDescriptor, error) {
	query := `SELECT ` + serverColumns + ` FROM servers`
	if filter.EnabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close()

	result := []*gateway.ServerDescriptor{}
	for rows.Next() {
		desc, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		if filter.Matches(desc) {
			result = append(result, desc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating servers: %w", err)
	}
	return result, nil
}

// Delete removes a descriptor.
func (s *ServerStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("server %q: %w", name, storage.ErrNotFound)
	}
	return nil
}

type scanner interface{ Scan(dest ...any) error }

func scanServer(sc scanner) (*gateway.ServerDescriptor, error) {
	var (
		desc                       gateway.ServerDescriptor
		transport                  string
		args, env, ports, roles    string
		createdAtStr, updatedAtStr string
	)
	if err := sc.Scan(
		&desc.Name,
		&transport,
		&desc.Description,
		&desc.URL,
		&desc.Command,
		&args,
		&env,
		&desc.DockerImage,
		&ports,
		&roles,
		&desc.CreatorID,
		&desc.Enabled,
		&createdAtStr,
		&updatedAtStr,
	); err != nil {
		return nil, err
	}
	desc.Transport = gateway.TransportType(transport)

	if err := decodeJSON(args, &desc.Args); err != nil {
		return nil, fmt.Errorf("decoding args: %w", err)
	}
	if err := decodeJSON(env, &desc.Env); err != nil {
		return nil, fmt.Errorf("decoding env: %w", err)
	}
	if err := decodeJSON(ports, &desc.DockerPorts); err != nil {
		return nil, fmt.Errorf("decoding docker ports: %w", err)
	}
	if err := decodeJSON(roles, &desc.RequiredRoles); err != nil {
		return nil, fmt.Errorf("decoding required roles: %w", err)
	}

	var err error
	if desc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if desc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &desc, nil
}

// encodeJSON marshals v for a JSON text column. Nil slices and maps become "null".
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return string(data), nil
}

// decodeJSON unmarshals a JSON text column into dst.
func decodeJSON(data string, dst any) error {
	if data == "" || data == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("unmarshaling JSON: %w", err)
	}
	return nil
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
