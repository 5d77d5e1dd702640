package store

import (
	"context"
	"fmt"
	"strings"
)

// ChangeRecord is one journaled model change. Value is JSON and may be
// empty.
type ChangeRecord struct {
	Seq      int64
	Kind     string
	Type     string
	ID       string
	Property string
	Value    []byte
	Model    string
}

// InsertChanges writes recs in a single statement. q is usually a
// transaction.
func (s *Store) InsertChanges(ctx context.Context, q Querier, recs []ChangeRecord) error {
	if len(recs) == 0 {
		return nil
	}
	pb := s.Dialect.NewParamBuilder()
	rows := make([]string, len(recs))
	for i, r := range recs {
		var value any
		if len(r.Value) > 0 {
			value = string(r.Value)
		}
		rows[i] = fmt.Sprintf("(%s, %s, %s, %s, %s, %s)",
			pb.Add(r.Kind), pb.Add(r.Type), pb.Add(r.ID), pb.Add(nullable(r.Property)), pb.Add(value), pb.Add(r.Model))
	}
	stmt := "INSERT INTO _changes (kind, type, id, property, value, model) VALUES " + strings.Join(rows, ", ")
	if _, err := Exec(ctx, q, stmt, pb.Params()...); err != nil {
		return fmt.Errorf("insert changes: %w", err)
	}
	return nil
}

// ListChanges returns the journal of one object in insertion order.
func (s *Store) ListChanges(ctx context.Context, typ, id string) ([]ChangeRecord, error) {
	q := fmt.Sprintf("SELECT seq, kind, type, id, property, value, model FROM _changes WHERE type = %s AND id = %s ORDER BY seq",
		s.Dialect.Placeholder(1), s.Dialect.Placeholder(2))
	rows, err := QueryRows(ctx, s.DB, q, typ, id)
	if err != nil {
		return nil, fmt.Errorf("list changes %s|%s: %w", typ, id, err)
	}
	out := make([]ChangeRecord, 0, len(rows))
	for _, row := range rows {
		rec := ChangeRecord{
			Kind:     asString(row["kind"]),
			Type:     asString(row["type"]),
			ID:       asString(row["id"]),
			Property: asString(row["property"]),
			Model:    asString(row["model"]),
		}
		if v := asString(row["value"]); v != "" {
			rec.Value = []byte(v)
		}
		switch n := row["seq"].(type) {
		case int64:
			rec.Seq = n
		case int32:
			rec.Seq = int64(n)
		}
		out = append(out, rec)
	}
	return out, nil
}
