package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exoweb/internal/engine"
	"exoweb/internal/metadata"
	"exoweb/internal/model"
	"exoweb/internal/provider"
	"exoweb/internal/store"
)

func personDefs() *metadata.Definitions {
	return &metadata.Definitions{
		ConditionTypes: []metadata.ConditionTypeDefinition{
			{Code: "CanEdit", Category: "permission", Allowed: true},
		},
		Types: []*metadata.TypeDefinition{{
			Name: "Person",
			Properties: []metadata.PropertyDefinition{
				{Name: "Name", Type: "String"},
				{Name: "Age", Type: "Integer"},
				{Name: "Tags", Type: "String", IsList: true},
				{Name: "Display", Type: "String", Calculated: &metadata.CalculatedDefinition{
					Expression: `Name ?? "?"`,
					BasedOn:    []string{"Name"},
				}},
			},
			Rules: []metadata.RuleDefinition{
				{Type: "required", Property: "Name"},
				{Type: "range", Property: "Age", Min: 0, Max: 150},
			},
		}},
	}
}

type testServer struct {
	app   *fiber.App
	model *model.Model
	store *store.Store
	objs  *provider.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	log := logrus.NewEntry(logger)

	s, err := store.Open(ctx, "sqlite", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx))
	objs := provider.NewStore(s, log)

	m := model.New(model.WithLogger(log), model.WithFormats(engine.Formats{}))
	m.SetGhostLoader(provider.NewObjectLoader(m, objs))
	_, err = engine.Build(m, personDefs())
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(log)})
	RegisterRoutes(app, NewHandler(m, provider.NewTypeLoader(objs), objs, log))
	return &testServer{app: app, model: m, store: s, objs: objs}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func data(t *testing.T, out map[string]any) map[string]any {
	t.Helper()
	d, ok := out["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", out)
	return d
}

func errorCode(out map[string]any) string {
	e, _ := out["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestListTypes(t *testing.T) {
	ts := newTestServer(t)
	status, out := ts.do(t, "GET", "/api/_types", nil)
	require.Equal(t, fiber.StatusOK, status)

	types := out["data"].([]any)
	require.Len(t, types, 1)
	person := types[0].(map[string]any)
	assert.Equal(t, "Person", person["name"])
	assert.Len(t, person["properties"], 4)

	status, out = ts.do(t, "GET", "/api/_condition_types", nil)
	require.Equal(t, fiber.StatusOK, status)
	codes := []string{}
	for _, ct := range out["data"].([]any) {
		codes = append(codes, ct.(map[string]any)["code"].(string))
	}
	assert.Contains(t, codes, "CanEdit")
	assert.Contains(t, codes, "Person.Name.Required")
}

func TestCreateSetAndSave(t *testing.T) {
	ts := newTestServer(t)

	status, out := ts.do(t, "POST", "/api/Person", map[string]any{"fields": map[string]any{"Age": 40}})
	require.Equal(t, fiber.StatusCreated, status)
	obj := data(t, out)
	id := obj["id"].(string)
	assert.True(t, strings.HasPrefix(id, model.DefaultIDPrefix))
	assert.Equal(t, true, obj["is_new"])
	fields := obj["fields"].(map[string]any)
	assert.Equal(t, float64(40), fields["Age"])
	assert.Equal(t, "?", fields["Display"])
	conds := obj["conditions"].([]any)
	require.Len(t, conds, 1)
	assert.Equal(t, "Person.Name.Required", conds[0].(map[string]any)["code"])

	status, out = ts.do(t, "PUT", "/api/Person/"+id+"/Name", map[string]any{"value": "Ada"})
	require.Equal(t, fiber.StatusOK, status)
	obj = data(t, out)
	assert.Empty(t, obj["conditions"])
	assert.Equal(t, "Ada", obj["fields"].(map[string]any)["Display"])

	status, out = ts.do(t, "PUT", "/api/Person/"+id+"/Age", map[string]any{"text": "abc"})
	require.Equal(t, fiber.StatusOK, status)
	conds = data(t, out)["conditions"].([]any)
	require.Len(t, conds, 1)
	assert.Equal(t, model.FormatErrorCode, conds[0].(map[string]any)["code"])

	status, out = ts.do(t, "PUT", "/api/Person/"+id+"/Age", map[string]any{"text": "41"})
	require.Equal(t, fiber.StatusOK, status)
	obj = data(t, out)
	assert.Empty(t, obj["conditions"])
	assert.Equal(t, float64(41), obj["fields"].(map[string]any)["Age"])

	status, out = ts.do(t, "GET", "/api/Person/"+id+"/eval?path=Display", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Ada", data(t, out)["value"])

	status, out = ts.do(t, "POST", "/api/Person/"+id+"/_save", nil)
	require.Equal(t, fiber.StatusOK, status)
	obj = data(t, out)
	saved := obj["id"].(string)
	assert.NotEqual(t, id, saved)
	assert.Equal(t, false, obj["is_new"])

	rec, err := ts.store.GetObject(context.Background(), []string{"Person"}, saved)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Name":"Ada","Age":41}`, string(rec.Data))
}

func TestSetValue_Errors(t *testing.T) {
	ts := newTestServer(t)
	_, out := ts.do(t, "POST", "/api/Person", nil)
	id := data(t, out)["id"].(string)

	status, out := ts.do(t, "PUT", "/api/Person/"+id+"/Nope", map[string]any{"value": 1})
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "UNKNOWN_PROPERTY", errorCode(out))

	status, out = ts.do(t, "PUT", "/api/Person/"+id+"/Age", map[string]any{"value": "old"})
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_VALUE", errorCode(out))
}

func TestSave_RejectsErrors(t *testing.T) {
	ts := newTestServer(t)
	_, out := ts.do(t, "POST", "/api/Person", nil)
	id := data(t, out)["id"].(string)

	status, out := ts.do(t, "POST", "/api/Person/"+id+"/_save", nil)
	require.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(out))
	details := out["error"].(map[string]any)["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "Name", details[0].(map[string]any)["field"])
}

func TestGetObject_LoadsGhost(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.PutObject(ctx, store.ObjectRecord{Type: "Person", ID: "p1", Data: []byte(`{"Name":"Grace","Age":85}`)}))

	status, out := ts.do(t, "GET", "/api/Person/p1", nil)
	require.Equal(t, fiber.StatusOK, status)
	fields := data(t, out)["fields"].(map[string]any)
	assert.Equal(t, "Grace", fields["Name"])
	assert.Equal(t, float64(85), fields["Age"])

	status, out = ts.do(t, "GET", "/api/Person/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errorCode(out))
	assert.Nil(t, ts.model.Type("Person").Get("missing"))
}

func TestSetValue_ListMissingFromStoredData(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.PutObject(ctx, store.ObjectRecord{Type: "Person", ID: "p2", Data: []byte(`{"Name":"Linus"}`)}))

	status, out := ts.do(t, "PUT", "/api/Person/p2/Tags", map[string]any{"value": []any{"x", "y"}})
	require.Equal(t, fiber.StatusOK, status, out)
	fields := data(t, out)["fields"].(map[string]any)
	assert.Equal(t, []any{"x", "y"}, fields["Tags"])
}

func TestListKnown_LoadsFromStore(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.PutObject(ctx, store.ObjectRecord{Type: "Person", ID: "a", Data: []byte(`{"Name":"A"}`)}))
	require.NoError(t, ts.store.PutObject(ctx, store.ObjectRecord{Type: "Person", ID: "b", Data: []byte(`{"Name":"B"}`)}))
	provider.RegisterKnown(ts.model.Type("Person"), ts.objs)

	status, out := ts.do(t, "GET", "/api/Person", nil)
	require.Equal(t, fiber.StatusOK, status)
	items := out["data"].([]any)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, true, it.(map[string]any)["loaded"])
	}
}

func TestTypes_LoadedOnDemand(t *testing.T) {
	ts := newTestServer(t)
	status, out := ts.do(t, "GET", "/api/Tag/1", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "UNKNOWN_TYPE", errorCode(out))

	require.NoError(t, metadata.SaveType(context.Background(), ts.store, &metadata.TypeDefinition{
		Name:       "Tag",
		Properties: []metadata.PropertyDefinition{{Name: "Label", Type: "String"}},
	}))
	status, out = ts.do(t, "GET", "/api/_types/Tag", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Tag", data(t, out)["name"])
	assert.NotNil(t, ts.model.Type("Tag"))
}

func TestEval_Errors(t *testing.T) {
	ts := newTestServer(t)
	_, out := ts.do(t, "POST", "/api/Person", nil)
	id := data(t, out)["id"].(string)

	status, _ := ts.do(t, "GET", "/api/Person/"+id+"/eval", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, out = ts.do(t, "GET", "/api/Person/"+id+"/eval?path=Nope", nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Equal(t, "UNDEFINED_PATH", errorCode(out))
}

func TestConditionsAndAllowed(t *testing.T) {
	ts := newTestServer(t)
	_, out := ts.do(t, "POST", "/api/Person", map[string]any{"fields": map[string]any{"Age": 200}})
	id := data(t, out)["id"].(string)

	status, out := ts.do(t, "GET", "/api/Person/"+id+"/conditions", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, out["data"], 2)

	status, out = ts.do(t, "GET", "/api/Person/"+id+"/conditions?property=Age", nil)
	require.Equal(t, fiber.StatusOK, status)
	conds := out["data"].([]any)
	require.Len(t, conds, 1)
	assert.Equal(t, "Person.Age.Range", conds[0].(map[string]any)["code"])

	status, out = ts.do(t, "GET", "/api/Person/"+id+"/allowed?codes=CanEdit", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, false, data(t, out)["allowed"])

	status, out = ts.do(t, "GET", "/api/Person/"+id+"/allowed?codes=Bogus", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "UNKNOWN_CONDITION_TYPE", errorCode(out))
}
