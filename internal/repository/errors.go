// Package repository holds the in-memory patient store and the errors it
// reports. Handlers use these sentinel values to pick the HTTP status.
package repository

import "errors"

// ErrPatientNotFound is returned when no patient has the requested id.
// Handlers translate it into an HTTP 404 response.
var ErrPatientNotFound = errors.New("patient not found")
