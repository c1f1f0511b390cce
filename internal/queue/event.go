// Package queue defines message payloads exchanged over the message broker.
package queue

// Actions carried by PatientEvent.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// PatientEvent is published after a patient record is created, updated or
// deleted and the dataset has been saved. Consumers get enough to build an
// audit trail without reading the dataset.
type PatientEvent struct {
	Action     string `json:"action"`
	PatientID  int64  `json:"patient_id"`
	Enfermedad string `json:"enfermedad,omitempty"`
	OccurredAt string `json:"occurred_at"`
}
