package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"exoweb/internal/store"
)

// LoadFile reads definitions from a YAML, JSON or TOML file, chosen by
// extension, and validates them.
func LoadFile(path string) (*Definitions, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read definitions %s: %w", path, err)
	}
	var defs Definitions
	if err := v.Unmarshal(&defs); err != nil {
		return nil, fmt.Errorf("decode definitions %s: %w", path, err)
	}
	if err := defs.Validate(); err != nil {
		return nil, fmt.Errorf("definitions %s: %w", path, err)
	}
	return &defs, nil
}

// LoadAll reads all type definitions from the store and populates the
// registry. Rows that do not decode are skipped with a warning.
func LoadAll(ctx context.Context, s *store.Store, reg *Registry, log *logrus.Entry) error {
	records, err := s.ListTypes(ctx)
	if err != nil {
		return fmt.Errorf("load types: %w", err)
	}

	defs := &Definitions{}
	for _, rec := range records {
		var t TypeDefinition
		if err := json.Unmarshal(rec.Definition, &t); err != nil {
			log.WithField("type", rec.Name).WithError(err).Warn("skipping type with invalid definition")
			continue
		}
		if t.Name == "" {
			t.Name = rec.Name
		}
		defs.Types = append(defs.Types, &t)
	}
	if err := defs.Validate(); err != nil {
		return fmt.Errorf("load types: %w", err)
	}
	reg.Load(defs)

	log.WithField("types", len(defs.Types)).Info("loaded type definitions into registry")
	return nil
}

// SaveAll writes every type of defs to the store.
func SaveAll(ctx context.Context, s *store.Store, defs *Definitions) error {
	for _, t := range defs.Types {
		if err := SaveType(ctx, s, t); err != nil {
			return err
		}
	}
	return nil
}

// SaveType writes one type definition to the store.
func SaveType(ctx context.Context, s *store.Store, t *TypeDefinition) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode type %s: %w", t.Name, err)
	}
	return s.PutType(ctx, store.TypeRecord{Name: t.Name, Base: t.Base, Definition: raw})
}

// LoadType reads a single type definition from the store.
func LoadType(ctx context.Context, s *store.Store, name string) (*TypeDefinition, error) {
	rec, err := s.GetType(ctx, name)
	if err != nil {
		return nil, err
	}
	var t TypeDefinition
	if err := json.Unmarshal(rec.Definition, &t); err != nil {
		return nil, fmt.Errorf("decode type %s: %w", name, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
