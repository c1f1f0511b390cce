// Package handler contains the HTTP handlers. This file maps the /pacientes
// endpoints onto the patient store.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/patient-records/internal/model"
	"github.com/iliyamo/patient-records/internal/queue"
	"github.com/iliyamo/patient-records/internal/repository"
	"github.com/iliyamo/patient-records/internal/service"
	"github.com/iliyamo/patient-records/pkg/sl"
)

const (
	msgNotFound = "Paciente no encontrado"
	msgDeleted  = "Paciente eliminado correctamente"
	msgPersist  = "no se pudo guardar el dataset"
)

// maxBodyBytes caps how much of a request body is read as the field set.
const maxBodyBytes = 1 << 20

// PatientHandler serves the patient CRUD endpoints.
type PatientHandler struct {
	Repo   *repository.PatientRepo
	Events service.EventPublisher
	Log    *slog.Logger
}

// NewPatientHandler panics on a nil repository; a nil publisher means
// events are dropped and a nil logger means slog.Default.
func NewPatientHandler(repo *repository.PatientRepo, events service.EventPublisher, log *slog.Logger) *PatientHandler {
	if repo == nil {
		panic("nil repository passed to NewPatientHandler")
	}
	if events == nil {
		events = service.NopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &PatientHandler{Repo: repo, Events: events, Log: log}
}

// List handles GET /pacientes?limit=N.
func (h *PatientHandler) List(c echo.Context) error {
	limit := 0
	if n := model.ParseInt(c.QueryParam("limit")); n.Valid && n.Value > 0 {
		limit = int(min(n.Value, math.MaxInt32))
	}
	return c.JSON(http.StatusOK, h.Repo.List(limit))
}

// Get handles GET /pacientes/:id.
func (h *PatientHandler) Get(c echo.Context) error {
	p, err := h.Repo.GetByID(model.ParseInt(c.Param("id")))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// Create handles POST /pacientes. The body is any JSON object of patient
// fields; the id is always assigned by the store.
func (h *PatientHandler) Create(c echo.Context) error {
	fields := readBody(c)
	p, err := h.Repo.Create(c.Request().Context(), fields)
	if err != nil {
		return h.fail(c, err)
	}
	h.publish(c.Request().Context(), queue.ActionCreated, p)
	return c.JSON(http.StatusCreated, p)
}

// Update handles PUT /pacientes/:id by merging the body over the record.
func (h *PatientHandler) Update(c echo.Context) error {
	fields := readBody(c)
	p, err := h.Repo.Update(c.Request().Context(), model.ParseInt(c.Param("id")), fields)
	if err != nil {
		return h.fail(c, err)
	}
	h.publish(c.Request().Context(), queue.ActionUpdated, p)
	return c.JSON(http.StatusOK, p)
}

// Delete handles DELETE /pacientes/:id.
func (h *PatientHandler) Delete(c echo.Context) error {
	id := model.ParseInt(c.Param("id"))
	if err := h.Repo.Delete(c.Request().Context(), id); err != nil {
		return h.fail(c, err)
	}
	h.publish(c.Request().Context(), queue.ActionDeleted, model.Patient{ID: id})
	return c.JSON(http.StatusOK, echo.Map{"message": msgDeleted})
}

func (h *PatientHandler) fail(c echo.Context, err error) error {
	if errors.Is(err, repository.ErrPatientNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": msgNotFound})
	}
	h.Log.Error("persist dataset failed", sl.Err(err), slog.String("uri", c.Request().RequestURI))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": msgPersist})
}

// publish never fails the request; the publisher logs its own errors.
func (h *PatientHandler) publish(ctx context.Context, action string, p model.Patient) {
	ev := queue.PatientEvent{
		Action:     action,
		PatientID:  p.ID.Value,
		Enfermedad: string(p.Enfermedad),
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.Events.PublishPatientEvent(ctx, ev); err != nil {
		h.Log.Debug("patient event not published", sl.Err(err), slog.String("action", action))
	}
}

// readBody returns the raw request body. Unreadable bodies count as empty.
func readBody(c echo.Context) []byte {
	body := c.Request().Body
	if body == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return nil
	}
	return data
}
