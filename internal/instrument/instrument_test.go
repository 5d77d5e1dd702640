package instrument

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exoweb/internal/engine"
	"exoweb/internal/metadata"
	"exoweb/internal/model"
	"exoweb/internal/store"
)

var teamDefs = &metadata.Definitions{Types: []*metadata.TypeDefinition{{
	Name: "Team",
	Properties: []metadata.PropertyDefinition{
		{Name: "Name", Type: "String"},
		{Name: "Members", Type: "Team", IsList: true},
	},
}}}

func setup(t *testing.T, batch int) (*store.Store, *model.Model, *EventBuffer) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx))

	logger, _ := test.NewNullLogger()
	log := logrus.NewEntry(logger)
	m := model.New(model.WithLogger(log))
	_, err = engine.Build(m, teamDefs)
	require.NoError(t, err)

	eb := NewEventBuffer(s, batch, time.Hour, log)
	t.Cleanup(eb.Stop)
	Record(m, eb)
	return s, m, eb
}

func TestJournal_RecordsChanges(t *testing.T) {
	s, m, eb := setup(t, 100)
	ctx := context.Background()

	team := m.Type("Team")
	a, err := team.New()
	require.NoError(t, err)
	b, err := team.New()
	require.NoError(t, err)
	require.NoError(t, a.Set("Name", "Core"))
	members, err := a.List("Members")
	require.NoError(t, err)
	require.NoError(t, members.Add(b))

	require.NoError(t, eb.Flush(ctx))
	assert.Equal(t, 0, eb.Len())

	recs, err := s.ListChanges(ctx, "Team", a.ID())
	require.NoError(t, err)
	var kinds []string
	for _, r := range recs {
		kinds = append(kinds, r.Kind)
		assert.Equal(t, m.ID(), r.Model)
	}
	assert.Equal(t, []string{KindRegistered, KindSet, KindList}, kinds)

	var name string
	require.NoError(t, json.Unmarshal(recs[1].Value, &name))
	assert.Equal(t, "Name", recs[1].Property)
	assert.Equal(t, "Core", name)

	var refs []map[string]string
	require.NoError(t, json.Unmarshal(recs[2].Value, &refs))
	require.Len(t, refs, 1)
	assert.Equal(t, map[string]string{"type": "Team", "id": b.ID()}, refs[0])
}

func TestJournal_Unregistered(t *testing.T) {
	s, m, eb := setup(t, 100)
	ctx := context.Background()

	team := m.Type("Team")
	a, err := team.New()
	require.NoError(t, err)
	id := a.ID()
	require.NoError(t, team.Unregister(a))
	require.NoError(t, eb.Flush(ctx))

	recs, err := s.ListChanges(ctx, "Team", id)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, KindUnregistered, recs[1].Kind)
	assert.Empty(t, recs[1].Value)
}

func TestEventBuffer_FlushesWhenFull(t *testing.T) {
	s, _, eb := setup(t, 2)
	ctx := context.Background()

	eb.Enqueue(Event{Kind: KindSet, Type: "Team", ID: "t1", Property: "Name", Value: "x"})
	eb.Enqueue(Event{Kind: KindSet, Type: "Team", ID: "t1", Property: "Name", Value: "y"})

	require.Eventually(t, func() bool {
		recs, err := s.ListChanges(ctx, "Team", "t1")
		return err == nil && len(recs) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventBuffer_StopFlushesRemaining(t *testing.T) {
	s, _, eb := setup(t, 100)
	eb.Enqueue(Event{Kind: KindRegistered, Type: "Team", ID: "t9"})
	eb.Stop()

	recs, err := s.ListChanges(context.Background(), "Team", "t9")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
