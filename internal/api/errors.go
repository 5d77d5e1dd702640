package api

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"exoweb/internal/lazy"
	"exoweb/internal/model"
	"exoweb/internal/provider"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(typeName, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with id %s not found", typeName, id),
	}
}

func UnknownTypeError(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_TYPE",
		Status:  fiber.StatusNotFound,
		Message: fmt.Sprintf("Unknown type: %s", name),
	}
}

func BadRequestError(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: fiber.StatusBadRequest, Message: msg}
}

func UnauthorizedError(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: fiber.StatusUnauthorized, Message: msg}
}

// ValidationError lists the active error conditions of an entity.
func ValidationError(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  fiber.StatusUnprocessableEntity,
		Message: "Validation failed",
		Details: details,
	}
}

// modelError maps model, lazy and provider errors to API errors. Other
// errors are returned unchanged.
func modelError(err error) error {
	var undefined *lazy.UndefinedError
	var pathErr *model.PathError
	switch {
	case errors.As(err, &undefined):
		return NewAppError("UNDEFINED_PATH", fiber.StatusUnprocessableEntity, undefined.Error())
	case errors.As(err, &pathErr):
		return NewAppError("INVALID_PATH", fiber.StatusBadRequest, pathErr.Error())
	case errors.Is(err, provider.ErrNotFound):
		return NewAppError("NOT_FOUND", fiber.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrUnknownProperty):
		return NewAppError("UNKNOWN_PROPERTY", fiber.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrWrongType), errors.Is(err, model.ErrListNotLoaded):
		return NewAppError("INVALID_VALUE", fiber.StatusUnprocessableEntity, err.Error())
	}
	return err
}

// ErrorHandler renders AppErrors as they are and everything else as an
// internal error.
func ErrorHandler(log *logrus.Entry) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{
				Error: &AppError{Code: "HTTP_ERROR", Message: fiberErr.Message},
			})
		}

		log.WithFields(logrus.Fields{"method": c.Method(), "path": c.Path()}).WithError(err).Error("request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: &AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}
