// Package admin manages stored type definitions and exposes the change
// journal.
package admin

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"exoweb/internal/api"
	"exoweb/internal/metadata"
	"exoweb/internal/model"
	"exoweb/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	model    *model.Model
	log      *logrus.Entry
}

func NewHandler(s *store.Store, reg *metadata.Registry, m *model.Model, log *logrus.Entry) *Handler {
	return &Handler{store: s, registry: reg, model: m, log: log.WithField("component", "admin")}
}

// RegisterAdminRoutes mounts the admin routes. They must be registered
// before api.RegisterRoutes, whose parameterized routes would otherwise
// match /api/_admin paths.
func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/types", h.ListTypes)
	admin.Get("/types/:name", h.GetType)
	admin.Put("/types/:name", h.PutType)

	admin.Get("/changes/:type/:id", h.ListChanges)
}

// ListTypes returns every stored type definition.
func (h *Handler) ListTypes(c *fiber.Ctx) error {
	data := h.registry.AllTypes()
	if data == nil {
		data = []*metadata.TypeDefinition{}
	}
	return c.JSON(fiber.Map{"data": data})
}

func (h *Handler) GetType(c *fiber.Ctx) error {
	name := c.Params("name")
	t := h.registry.GetType(name)
	if t == nil {
		return api.UnknownTypeError(name)
	}
	return c.JSON(fiber.Map{"data": t})
}

// PutType stores a type definition. A type the model has already declared
// cannot be replaced; an undeclared one is picked up the first time it is
// requested.
func (h *Handler) PutType(c *fiber.Ctx) error {
	var def metadata.TypeDefinition
	if err := c.BodyParser(&def); err != nil {
		return api.BadRequestError("Invalid JSON body")
	}
	def.Name = c.Params("name")

	if err := def.Validate(); err != nil {
		return api.NewAppError("INVALID_DEFINITION", fiber.StatusUnprocessableEntity, err.Error())
	}
	if def.Base != "" && h.registry.GetType(def.Base) == nil {
		return api.NewAppError("INVALID_DEFINITION", fiber.StatusUnprocessableEntity,
			fmt.Sprintf("%s: unknown base type %s", def.Name, def.Base))
	}
	if h.declared(def.Name) {
		return api.NewAppError("CONFLICT", fiber.StatusConflict, "Type already declared: "+def.Name)
	}

	if err := metadata.SaveType(c.UserContext(), h.store, &def); err != nil {
		return fmt.Errorf("save type %s: %w", def.Name, err)
	}
	h.registry.Add(&def)
	h.log.WithField("type", def.Name).Info("type definition stored")
	return c.JSON(fiber.Map{"data": def})
}

func (h *Handler) declared(name string) bool {
	turn := h.model.Turn()
	turn.Lock()
	defer turn.Unlock()
	return h.model.Type(name) != nil
}

type changeView struct {
	Seq      int64  `json:"seq"`
	Kind     string `json:"kind"`
	Property string `json:"property,omitempty"`
	Value    any    `json:"value,omitempty"`
	Model    string `json:"model"`
}

// ListChanges returns the journaled changes of one object, oldest first.
func (h *Handler) ListChanges(c *fiber.Ctx) error {
	recs, err := h.store.ListChanges(c.UserContext(), c.Params("type"), c.Params("id"))
	if err != nil {
		return err
	}
	out := make([]changeView, len(recs))
	for i, r := range recs {
		out[i] = changeView{Seq: r.Seq, Kind: r.Kind, Property: r.Property, Model: r.Model}
		if len(r.Value) > 0 {
			out[i].Value = json.RawMessage(r.Value)
		}
	}
	return c.JSON(fiber.Map{"data": out})
}
