package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// TypeRecord is a persisted type definition. Definition is JSON.
type TypeRecord struct {
	Name       string
	Base       string
	Definition []byte
}

// ObjectRecord is the persisted field data of one entity. Data is a JSON
// object keyed by property name.
type ObjectRecord struct {
	Type string
	ID   string
	Data []byte
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// PutType inserts or replaces a type definition.
func (s *Store) PutType(ctx context.Context, rec TypeRecord) error {
	pb := s.Dialect.NewParamBuilder()
	q := fmt.Sprintf(`INSERT INTO _types (name, base, definition) VALUES (%s, %s, %s)
ON CONFLICT (name) DO UPDATE SET base = excluded.base, definition = excluded.definition, updated_at = %s`,
		pb.Add(rec.Name), pb.Add(nullable(rec.Base)), pb.Add(string(rec.Definition)), s.Dialect.NowExpr())
	if _, err := Exec(ctx, s.DB, q, pb.Params()...); err != nil {
		return fmt.Errorf("put type %s: %w", rec.Name, s.Dialect.MapError(err))
	}
	return nil
}

// GetType returns the named type definition or ErrNotFound.
func (s *Store) GetType(ctx context.Context, name string) (*TypeRecord, error) {
	var rec TypeRecord
	var base sql.NullString
	err := s.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT name, base, definition FROM _types WHERE name = %s", s.Dialect.Placeholder(1)),
		name,
	).Scan(&rec.Name, &base, &rec.Definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("type %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get type %s: %w", name, err)
	}
	rec.Base = base.String
	return &rec, nil
}

// ListTypes returns every type definition ordered by name.
func (s *Store) ListTypes(ctx context.Context) ([]TypeRecord, error) {
	rows, err := QueryRows(ctx, s.DB, "SELECT name, base, definition FROM _types ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list types: %w", err)
	}
	out := make([]TypeRecord, 0, len(rows))
	for _, row := range rows {
		rec := TypeRecord{Name: asString(row["name"]), Base: asString(row["base"])}
		rec.Definition = []byte(asString(row["definition"]))
		out = append(out, rec)
	}
	return out, nil
}

// PutObject inserts or replaces the data of one object.
func (s *Store) PutObject(ctx context.Context, rec ObjectRecord) error {
	pb := s.Dialect.NewParamBuilder()
	q := fmt.Sprintf(`INSERT INTO _objects (type, id, data) VALUES (%s, %s, %s)
ON CONFLICT (type, id) DO UPDATE SET data = excluded.data, updated_at = %s`,
		pb.Add(rec.Type), pb.Add(rec.ID), pb.Add(string(rec.Data)), s.Dialect.NowExpr())
	if _, err := Exec(ctx, s.DB, q, pb.Params()...); err != nil {
		return fmt.Errorf("put object %s|%s: %w", rec.Type, rec.ID, s.Dialect.MapError(err))
	}
	return nil
}

// GetObject finds the object id stored under any of types, or returns
// ErrNotFound. Types are usually a type and its derived types.
func (s *Store) GetObject(ctx context.Context, types []string, id string) (*ObjectRecord, error) {
	pb := s.Dialect.NewParamBuilder()
	q := fmt.Sprintf("SELECT type, id, data FROM _objects WHERE id = %s AND %s",
		pb.Add(id), s.Dialect.InExpr("type", pb, types))
	var rec ObjectRecord
	err := s.DB.QueryRowContext(ctx, q, pb.Params()...).Scan(&rec.Type, &rec.ID, &rec.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object %s|%s: %w", strings.Join(types, ","), id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", id, err)
	}
	return &rec, nil
}

// ListObjects returns the objects stored under any of types ordered by id.
func (s *Store) ListObjects(ctx context.Context, types []string) ([]ObjectRecord, error) {
	pb := s.Dialect.NewParamBuilder()
	q := fmt.Sprintf("SELECT type, id, data FROM _objects WHERE %s ORDER BY id",
		s.Dialect.InExpr("type", pb, types))
	rows, err := s.DB.QueryContext(ctx, q, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	var out []ObjectRecord
	for rows.Next() {
		var rec ObjectRecord
		if err := rows.Scan(&rec.Type, &rec.ID, &rec.Data); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteObject removes an object. Deleting a missing object returns
// ErrNotFound.
func (s *Store) DeleteObject(ctx context.Context, typ, id string) error {
	q := fmt.Sprintf("DELETE FROM _objects WHERE type = %s AND id = %s",
		s.Dialect.Placeholder(1), s.Dialect.Placeholder(2))
	n, err := Exec(ctx, s.DB, q, typ, id)
	if err != nil {
		return fmt.Errorf("delete object %s|%s: %w", typ, id, err)
	}
	if n == 0 {
		return fmt.Errorf("object %s|%s: %w", typ, id, ErrNotFound)
	}
	return nil
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
