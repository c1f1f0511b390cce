package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/patient-records/internal/repository"
)

// HealthHandler answers load balancer health checks.
type HealthHandler struct {
	Repo *repository.PatientRepo
}

// Health returns 200 with the number of patients currently loaded.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "patients": h.Repo.Len()})
}
