package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/patient-records/internal/model"
)

// DefaultListLimit is how many patients List returns when the caller does
// not ask for a positive limit.
const DefaultListLimit = 1000

// Backend loads and saves the complete patient dataset. Save always
// receives the whole store, in order.
type Backend interface {
	Load(ctx context.Context) ([]model.Patient, error)
	Save(ctx context.Context, patients []model.Patient) error
}

// instances separates repos created within the same clock tick.
var instances atomic.Uint64

// revisionSeed returns the starting revision of a new store. Revisions from
// an earlier process, whose cache entries may still be alive in Redis, stay
// far below it because the seed follows the wall clock in nanoseconds.
func revisionSeed() uint64 {
	return uint64(time.Now().UnixNano()) + instances.Add(1)
}

// PatientRepo is the in-memory patient store. Records keep insertion order
// and every mutation is written through to the backend in full before the
// call returns. All operations are serialised by a single mutex.
type PatientRepo struct {
	mu           sync.Mutex
	backend      Backend
	patients     []model.Patient
	nextID       int64
	revision     uint64
	defaultLimit int
}

// NewPatientRepo constructs an empty store persisting through backend.
// A non-positive defaultLimit falls back to DefaultListLimit.
func NewPatientRepo(backend Backend, defaultLimit int) *PatientRepo {
	if backend == nil {
		panic("nil backend passed to NewPatientRepo")
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultListLimit
	}
	return &PatientRepo{backend: backend, nextID: 1, revision: revisionSeed(), defaultLimit: defaultLimit}
}

// Load replaces the store contents with what the backend holds and sets the
// next id to one past the largest id seen. On error the store is left empty
// and usable.
func (r *PatientRepo) Load(ctx context.Context) (int, error) {
	patients, err := r.backend.Load(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients = nil
	r.nextID = 1
	r.revision++
	if err != nil {
		return 0, fmt.Errorf("load patients: %w", err)
	}
	r.patients = make([]model.Patient, 0, len(patients))
	for _, p := range patients {
		r.patients = append(r.patients, p)
		if p.ID.Valid && p.ID.Value >= r.nextID {
			r.nextID = p.ID.Value + 1
		}
	}
	return len(r.patients), nil
}

// List returns a copy of the first limit patients in insertion order. A
// limit of zero or less means the default limit.
func (r *PatientRepo) List(limit int) []model.Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if limit > len(r.patients) {
		limit = len(r.patients)
	}
	out := make([]model.Patient, limit)
	copy(out, r.patients[:limit])
	return out
}

// GetByID returns the first patient with the given id.
func (r *PatientRepo) GetByID(id model.Int) (model.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(id)
	if idx < 0 {
		return model.Patient{}, ErrPatientNotFound
	}
	return r.patients[idx], nil
}

// Create decodes fields as a patient, assigns it the next id (any id in
// fields is ignored), appends it and persists the store.
func (r *PatientRepo) Create(ctx context.Context, fields json.RawMessage) (model.Patient, error) {
	var p model.Patient
	decodeFields(fields, &p)

	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = model.NewInt(r.nextID)
	r.nextID++
	r.patients = append(r.patients, p)
	r.revision++
	if err := r.persist(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// Update merges fields over the stored patient: keys present in fields
// replace the current values, the rest are kept. The id never changes.
func (r *PatientRepo) Update(ctx context.Context, id model.Int, fields json.RawMessage) (model.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(id)
	if idx < 0 {
		return model.Patient{}, ErrPatientNotFound
	}
	p := r.patients[idx]
	original := p.ID
	decodeFields(fields, &p)
	p.ID = original
	r.patients[idx] = p
	r.revision++
	if err := r.persist(ctx); err != nil {
		return p, err
	}
	return p, nil
}

// Delete removes the patient with the given id and persists the store.
func (r *PatientRepo) Delete(ctx context.Context, id model.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOf(id)
	if idx < 0 {
		return ErrPatientNotFound
	}
	r.patients = append(r.patients[:idx], r.patients[idx+1:]...)
	r.revision++
	return r.persist(ctx)
}

// Len reports how many patients are in the store.
func (r *PatientRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patients)
}

// NextID reports the id the next Create will assign.
func (r *PatientRepo) NextID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID
}

// Revision increases on every mutation and reload. Response caches fold it
// into their keys so a write makes older entries unreachable. Each store
// starts from a fresh seed, so a restarted process never reuses the
// revisions of the one before it.
func (r *PatientRepo) Revision() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revision
}

// persist must be called with mu held.
func (r *PatientRepo) persist(ctx context.Context) error {
	if err := r.backend.Save(ctx, r.patients); err != nil {
		return fmt.Errorf("persist patients: %w", err)
	}
	return nil
}

func (r *PatientRepo) indexOf(id model.Int) int {
	for i := range r.patients {
		if r.patients[i].ID.Equal(id) {
			return i
		}
	}
	return -1
}

// decodeFields applies a JSON object onto p. Only keys present in the
// object are touched. Bodies that are not JSON objects leave p unchanged.
func decodeFields(fields json.RawMessage, p *model.Patient) {
	if len(fields) == 0 {
		return
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(fields, &obj); err != nil {
		return
	}
	_ = json.Unmarshal(fields, p)
}
