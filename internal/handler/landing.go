package handler

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
)

// Landing serves index.html from dir at GET /.
func Landing(dir string) echo.HandlerFunc {
	index := filepath.Join(dir, "index.html")
	return func(c echo.Context) error {
		if _, err := os.Stat(index); err != nil {
			return c.String(http.StatusNotFound, "index.html not found")
		}
		return c.File(index)
	}
}
