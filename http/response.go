package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/km-arc/modgraph/framework/diag"
	"github.com/km-arc/modgraph/framework/http/validation"
	"github.com/km-arc/modgraph/framework/module"
)

// Response wraps http.ResponseWriter with JSON helpers.
type Response struct {
	w http.ResponseWriter
}

// NewResponse wraps a ResponseWriter.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w}
}

// ── JSON responses ────────────────────────────────────────────────────────────

// JSON sends a JSON response.
func (res *Response) JSON(status int, data any) {
	res.w.Header().Set("Content-Type", "application/json")
	res.w.WriteHeader(status)
	_ = json.NewEncoder(res.w).Encode(data)
}

// Success sends 200 JSON: {"data": v}
func (res *Response) Success(v any) {
	res.JSON(http.StatusOK, envelope{"data": v})
}

// Created sends 201 JSON: {"data": v}
func (res *Response) Created(v any) {
	res.JSON(http.StatusCreated, envelope{"data": v})
}

// Error sends {"message": message}.
func (res *Response) Error(status int, message string) {
	res.JSON(status, envelope{"message": message})
}

// Unauthorized sends 401.
func (res *Response) Unauthorized(message ...string) {
	res.Error(http.StatusUnauthorized, first(message, "Unauthenticated."))
}

// NotFound sends 404.
func (res *Response) NotFound(message ...string) {
	res.Error(http.StatusNotFound, first(message, "Not found."))
}

// ValidationError sends 422 with the error bag.
func (res *Response) ValidationError(errs *validation.Errors) {
	res.JSON(http.StatusUnprocessableEntity, errs)
}

// Problem maps a bootstrap or registry error to a status and kind.
func (res *Response) Problem(err error) {
	status, kind := classify(err)
	res.JSON(status, envelope{"message": err.Error(), "kind": kind})
}

func classify(err error) (int, string) {
	var (
		declErr      *diag.DeclarationError
		collisionErr *diag.CollisionError
		directiveErr *diag.UnresolvedCollisionDirectiveError
		multiErr     *diag.MultiProviderMisuseError
		cycleErr     *diag.CircularDependencyError
		noProvErr    *diag.NoProviderError
	)
	switch {
	case errors.Is(err, module.ErrModuleNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &collisionErr):
		return http.StatusConflict, "collision"
	case errors.As(err, &cycleErr):
		return http.StatusConflict, "circular_dependency"
	case errors.As(err, &directiveErr):
		return http.StatusUnprocessableEntity, "unresolved_directive"
	case errors.As(err, &multiErr):
		return http.StatusUnprocessableEntity, "multi_provider_misuse"
	case errors.As(err, &noProvErr):
		return http.StatusUnprocessableEntity, "no_provider"
	case errors.As(err, &declErr):
		return http.StatusUnprocessableEntity, "declaration"
	}
	return http.StatusInternalServerError, "internal"
}

// ── Helpers ──────────────────────────────────────────────────────────────────

type envelope map[string]any

func first(ss []string, fallback string) string {
	if len(ss) > 0 && ss[0] != "" {
		return ss[0]
	}
	return fallback
}
