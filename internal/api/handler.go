// Package api exposes a model over HTTP: type metadata, instances, path
// evaluation, conditions, permissions and property updates.
package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"exoweb/internal/model"
	"exoweb/internal/provider"
)

// Saver persists entities.
type Saver interface {
	Save(ctx context.Context, e *model.Entity) error
}

type Handler struct {
	model   *model.Model
	types   model.TypeLoader
	objects Saver
	log     *logrus.Entry
}

// NewHandler creates a handler for m. types and objects may be nil, in
// which case unknown types are not loaded and saving is unavailable.
func NewHandler(m *model.Model, types model.TypeLoader, objects Saver, log *logrus.Entry) *Handler {
	if log == nil {
		log = m.Log()
	}
	return &Handler{model: m, types: types, objects: objects, log: log.WithField("component", "api")}
}

func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	api.Get("/_types", h.ListTypes)
	api.Get("/_types/:type", h.GetType)
	api.Get("/_condition_types", h.ListConditionTypes)

	api.Get("/:type", h.ListKnown)
	api.Post("/:type", h.Create)
	api.Get("/:type/:id", h.GetObject)
	api.Get("/:type/:id/eval", h.Eval)
	api.Get("/:type/:id/conditions", h.Conditions)
	api.Get("/:type/:id/allowed", h.IsAllowed)
	api.Post("/:type/:id/_save", h.Save)
	api.Put("/:type/:id/:property", h.SetValue)
}

// locked runs fn while holding the model's turn.
func (h *Handler) locked(fn func() error) error {
	turn := h.model.Turn()
	turn.Lock()
	defer turn.Unlock()
	return fn()
}

// lookupType finds the named type, loading it when a type loader is
// configured.
func (h *Handler) lookupType(ctx context.Context, name string) (*model.Type, error) {
	var t *model.Type
	err := h.locked(func() error {
		if t = h.model.Type(name); t != nil {
			return nil
		}
		if h.types == nil {
			return UnknownTypeError(name)
		}
		if err := h.types.LoadType(ctx, h.model, name); err != nil {
			if errors.Is(err, provider.ErrNotFound) {
				return UnknownTypeError(name)
			}
			return err
		}
		t = h.model.Type(name)
		return nil
	})
	return t, err
}

// entity returns the entity addressed by the request, loading it first if
// it is a ghost.
func (h *Handler) entity(c *fiber.Ctx) (*model.Entity, error) {
	ctx := c.UserContext()
	t, err := h.lookupType(ctx, c.Params("type"))
	if err != nil {
		return nil, err
	}
	id := c.Params("id")

	var e *model.Entity
	var created, ghost bool
	err = h.locked(func() error {
		if e = t.Get(id); e == nil {
			created = true
			var err error
			if e, err = t.GetOrCreate(id); err != nil {
				return modelError(err)
			}
		}
		ghost = h.model.Loader().IsRegistered(e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	discard := func() {
		_ = h.locked(func() error { return t.Unregister(e) })
	}
	if created && !ghost {
		discard()
		return nil, NotFoundError(t.Name(), id)
	}
	if ghost {
		if err := h.model.Loader().Load(ctx, e, ""); err != nil {
			if created {
				discard()
			}
			if errors.Is(err, provider.ErrNotFound) {
				return nil, NotFoundError(t.Name(), id)
			}
			return nil, modelError(err)
		}
	}
	return e, nil
}

func (h *Handler) ListTypes(c *fiber.Ctx) error {
	var out []typeView
	_ = h.locked(func() error {
		for _, t := range h.model.Types() {
			out = append(out, newTypeView(t))
		}
		return nil
	})
	if out == nil {
		out = []typeView{}
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handler) GetType(c *fiber.Ctx) error {
	t, err := h.lookupType(c.UserContext(), c.Params("type"))
	if err != nil {
		return err
	}
	var out typeView
	_ = h.locked(func() error {
		out = newTypeView(t)
		return nil
	})
	return c.JSON(fiber.Map{"data": out})
}

func (h *Handler) ListConditionTypes(c *fiber.Ctx) error {
	var out []conditionTypeView
	_ = h.locked(func() error {
		for _, ct := range h.model.ConditionTypes().All() {
			out = append(out, newConditionTypeView(ct))
		}
		return nil
	})
	return c.JSON(fiber.Map{"data": out})
}

// ListKnown returns the known instances of a type, loading them first when
// a loader is registered for the list.
func (h *Handler) ListKnown(c *fiber.Ctx) error {
	ctx := c.UserContext()
	t, err := h.lookupType(ctx, c.Params("type"))
	if err != nil {
		return err
	}
	if err := h.model.Loader().Load(ctx, t.Known(), ""); err != nil {
		return modelError(err)
	}
	out := []refView{}
	_ = h.locked(func() error {
		for _, it := range t.Known().Items() {
			e := it.(*model.Entity)
			out = append(out, refView{
				Type:   e.Type().Name(),
				ID:     e.ID(),
				IsNew:  e.IsNew(),
				Loaded: !h.model.Loader().IsRegistered(e),
			})
		}
		return nil
	})
	return c.JSON(fiber.Map{"data": out})
}

// Create registers a new instance, optionally setting fields from the
// request body.
func (h *Handler) Create(c *fiber.Ctx) error {
	t, err := h.lookupType(c.UserContext(), c.Params("type"))
	if err != nil {
		return err
	}
	var body struct {
		Fields map[string]any `json:"fields"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return BadRequestError("Invalid JSON body")
		}
	}

	var out objectView
	err = h.locked(func() error {
		e, err := t.New()
		if err != nil {
			return modelError(err)
		}
		for name, raw := range body.Fields {
			if err := setValue(e, name, raw); err != nil {
				return err
			}
		}
		out = newObjectView(e)
		return nil
	})
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"type": out.Type, "id": out.ID}).Debug("object created")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": out})
}

func (h *Handler) GetObject(c *fiber.Ctx) error {
	e, err := h.entity(c)
	if err != nil {
		return err
	}
	var out objectView
	_ = h.locked(func() error {
		out = newObjectView(e)
		return nil
	})
	return c.JSON(fiber.Map{"data": out})
}

// Eval evaluates ?path= against the entity. With ?all=true list steps fan
// out and the result is a list.
func (h *Handler) Eval(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return BadRequestError("path is required")
	}
	e, err := h.entity(c)
	if err != nil {
		return err
	}

	ev := h.model.Evaluator()
	eval := ev.Eval
	if c.QueryBool("all") {
		eval = ev.EvalAll
	}
	res, err := eval(c.UserContext(), e, path)
	if err != nil {
		return modelError(err)
	}

	var value any
	_ = h.locked(func() error {
		value = encodeResult(res.Value)
		return nil
	})
	return c.JSON(fiber.Map{"data": fiber.Map{
		"value":             value,
		"performed_loading": res.PerformedLoading,
	}})
}

// Conditions lists the active conditions of the entity, or only those
// about ?property= when given.
func (h *Handler) Conditions(c *fiber.Ctx) error {
	e, err := h.entity(c)
	if err != nil {
		return err
	}
	out := []conditionView{}
	err = h.locked(func() error {
		var pp model.PropertyPath
		if path := c.Query("property"); path != "" {
			if pp, err = h.model.Property(path, e.Type()); err != nil {
				return modelError(err)
			}
		}
		for _, cond := range e.Meta().Conditions(pp) {
			out = append(out, newConditionView(cond))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": out})
}

// IsAllowed checks the comma-separated permission ?codes= for the entity.
func (h *Handler) IsAllowed(c *fiber.Ctx) error {
	codes := splitList(c.Query("codes"))
	if len(codes) == 0 {
		return BadRequestError("codes is required")
	}
	e, err := h.entity(c)
	if err != nil {
		return err
	}
	var allowed, known bool
	_ = h.locked(func() error {
		allowed, known = e.Meta().IsAllowed(codes...)
		return nil
	})
	if !known {
		return NewAppError("UNKNOWN_CONDITION_TYPE", fiber.StatusNotFound, "Unknown condition type in "+strings.Join(codes, ","))
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"allowed": allowed}})
}

// SetValue sets one property from {"value": ...} or parses it from
// {"text": ...} and returns the updated object.
func (h *Handler) SetValue(c *fiber.Ctx) error {
	var body struct {
		Value any     `json:"value"`
		Text  *string `json:"text"`
	}
	if err := c.BodyParser(&body); err != nil {
		return BadRequestError("Invalid JSON body")
	}
	e, err := h.entity(c)
	if err != nil {
		return err
	}

	name := c.Params("property")
	var out objectView
	err = h.locked(func() error {
		if body.Text != nil {
			p := e.Type().Property(name)
			if p == nil {
				return modelError(&unknownProperty{typ: e.Type().Name(), name: name})
			}
			if err := p.SetText(e, *body.Text); err != nil {
				return modelError(err)
			}
		} else if err := setValue(e, name, body.Value); err != nil {
			return err
		}
		out = newObjectView(e)
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": out})
}

// Save persists the entity unless it has active error conditions.
func (h *Handler) Save(c *fiber.Ctx) error {
	if h.objects == nil {
		return NewAppError("NOT_IMPLEMENTED", fiber.StatusNotImplemented, "No object store configured")
	}
	e, err := h.entity(c)
	if err != nil {
		return err
	}
	var out objectView
	err = h.locked(func() error {
		var details []ErrorDetail
		for _, cond := range e.Meta().Conditions(nil) {
			if cond.Type.Category != model.CategoryError {
				continue
			}
			details = append(details, ErrorDetail{
				Field:   strings.Join(propertyNames(cond), ","),
				Rule:    cond.Type.Code,
				Message: cond.Message,
			})
		}
		if len(details) > 0 {
			return ValidationError(details)
		}
		if err := h.objects.Save(c.UserContext(), e); err != nil {
			return err
		}
		out = newObjectView(e)
		return nil
	})
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"type": out.Type, "id": out.ID}).Info("object saved")
	return c.JSON(fiber.Map{"data": out})
}

func setValue(e *model.Entity, name string, raw any) error {
	p := e.Type().Property(name)
	if p == nil {
		return modelError(&unknownProperty{typ: e.Type().Name(), name: name})
	}
	v, err := provider.DecodeValue(p, raw)
	if err != nil {
		return modelError(err)
	}
	if p.IsList() {
		l, err := e.List(name)
		if err != nil {
			return modelError(err)
		}
		return modelError(l.Replace(v.([]any)))
	}
	return modelError(p.SetValue(e, v))
}

type unknownProperty struct {
	typ, name string
}

func (u *unknownProperty) Error() string { return u.typ + "." + u.name + ": unknown property" }

func (u *unknownProperty) Unwrap() error { return model.ErrUnknownProperty }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
