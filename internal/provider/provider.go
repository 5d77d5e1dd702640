// Package provider fetches type definitions and object state on behalf of
// the model. The loaders in this package are the only code that writes
// server data into entities.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"exoweb/internal/metadata"
	"exoweb/internal/model"
	"exoweb/internal/store"
)

// ErrNotFound is returned by providers for unknown types and objects.
var ErrNotFound = errors.New("not found")

// ObjectData is the raw state of one object. Entity references in Fields
// are encoded as {"type": ..., "id": ...}.
type ObjectData struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// TypeProvider fetches the definition of a type by name.
type TypeProvider interface {
	Type(ctx context.Context, name string) (*metadata.TypeDefinition, error)
}

// ObjectProvider fetches one object stored under any of types.
type ObjectProvider interface {
	Object(ctx context.Context, types []string, id string) (*ObjectData, error)
}

// QueryProvider fetches every object stored under any of types.
type QueryProvider interface {
	Query(ctx context.Context, types []string) ([]*ObjectData, error)
}

// Store serves all three provider roles from a store.Store, and saves
// entities back to it.
type Store struct {
	store *store.Store
	log   *logrus.Entry
}

// NewStore creates a store-backed provider. log may be nil.
func NewStore(s *store.Store, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{store: s, log: log.WithField("component", "provider")}
}

func (p *Store) Type(ctx context.Context, name string) (*metadata.TypeDefinition, error) {
	def, err := metadata.LoadType(ctx, p.store, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("type %s: %w", name, ErrNotFound)
	}
	return def, err
}

func (p *Store) Object(ctx context.Context, types []string, id string) (*ObjectData, error) {
	rec, err := p.store.GetObject(ctx, types, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(rec)
}

func (p *Store) Query(ctx context.Context, types []string) ([]*ObjectData, error) {
	recs, err := p.store.ListObjects(ctx, types)
	if err != nil {
		return nil, err
	}
	out := make([]*ObjectData, 0, len(recs))
	for i := range recs {
		d, err := decodeRecord(&recs[i])
		if err != nil {
			p.log.WithFields(logrus.Fields{"type": recs[i].Type, "id": recs[i].ID}).WithError(err).Warn("skipping undecodable object")
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Save writes the persisted properties of e. A new entity first gets a
// permanent id, replacing the generated one.
func (p *Store) Save(ctx context.Context, e *model.Entity) error {
	t := e.Type()
	if t == nil {
		return fmt.Errorf("save %s: %w", e.ID(), model.ErrNotRegistered)
	}
	if e.IsNew() {
		if err := t.ChangeObjectID(e.ID(), uuid.NewString()); err != nil {
			return fmt.Errorf("save %s: %w", e, err)
		}
	}
	data, err := json.Marshal(Encode(e))
	if err != nil {
		return fmt.Errorf("encode %s: %w", e, err)
	}
	if err := p.store.PutObject(ctx, store.ObjectRecord{Type: t.Name(), ID: e.ID(), Data: data}); err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{"type": t.Name(), "id": e.ID()}).Debug("object saved")
	return nil
}

// Delete removes the stored state of e.
func (p *Store) Delete(ctx context.Context, e *model.Entity) error {
	t := e.Type()
	if t == nil {
		return fmt.Errorf("delete %s: %w", e.ID(), model.ErrNotRegistered)
	}
	err := p.store.DeleteObject(ctx, t.Name(), e.ID())
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", e, ErrNotFound)
	}
	return err
}

func decodeRecord(rec *store.ObjectRecord) (*ObjectData, error) {
	fields := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(rec.Data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode %s|%s: %w", rec.Type, rec.ID, err)
	}
	return &ObjectData{Type: rec.Type, ID: rec.ID, Fields: fields}, nil
}

// Encode returns the persisted, initialized properties of e in the form
// Apply reads back.
func Encode(e *model.Entity) map[string]any {
	out := make(map[string]any)
	for _, p := range e.Type().Properties() {
		if !p.IsPersisted() || p.IsStatic() || !p.IsInited(e) {
			continue
		}
		out[p.Name()] = EncodeValue(p.Value(e))
	}
	return out
}

// EncodeValue converts a property value to its JSON form.
func EncodeValue(v any) any {
	switch x := v.(type) {
	case *model.Entity:
		return map[string]any{"type": x.Type().Name(), "id": x.ID()}
	case *model.List:
		items := x.Items()
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = EncodeValue(it)
		}
		return out
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return v
}
