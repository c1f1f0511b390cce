package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/patient-records/internal/dataset"
	"github.com/iliyamo/patient-records/internal/handler"
	"github.com/iliyamo/patient-records/internal/model"
	"github.com/iliyamo/patient-records/internal/queue"
	"github.com/iliyamo/patient-records/internal/repository"
	"github.com/iliyamo/patient-records/internal/router"
)

const seed = `id,edad,sexo,presion_sistolica,presion_diastolica,colesterol,glucosa,imc,tabaquismo,actividad_fisica,historial_familiar,enfermedad,sintomas
1,30,M,140,90,220,98,28.1,1,0,1,Hipertension,dolor de cabeza
2,45,F,120,80,180,150,31.4,0,1,0,Diabetes,sed excesiva
3,62,M,135,85,240,105,26.9,1,0,1,Cardiopatia,dolor toracico`

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.PatientEvent
	err    error
}

func (r *recordingPublisher) PublishPatientEvent(_ context.Context, ev queue.PatientEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

type app struct {
	e      *echo.Echo
	csv    string
	events *recordingPublisher
}

func newApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dataset.csv")
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	repo := repository.NewPatientRepo(dataset.NewFile(path), 0)
	if _, err := repo.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	events := &recordingPublisher{}
	e := echo.New()
	router.RegisterRoutes(e, &handler.HealthHandler{Repo: repo})
	router.RegisterPatients(e, handler.NewPatientHandler(repo, events, nil))
	return &app{e: e, csv: path, events: events}
}

func (a *app) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestPatientLifecycle(t *testing.T) {
	a := newApp(t)

	rec := a.do(t, http.MethodGet, "/pacientes/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	p := decode[model.Patient](t, rec)
	if p.Enfermedad != "Hipertension" || p.Edad.Value != 30 {
		t.Fatalf("unexpected patient: %+v", p)
	}

	rec = a.do(t, http.MethodPut, "/pacientes/1", `{"glucosa":110}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: status %d", rec.Code)
	}
	p = decode[model.Patient](t, rec)
	if p.ID.Value != 1 || p.Glucosa.Value != 110 || p.Colesterol.Value != 220 {
		t.Fatalf("unexpected update: %+v", p)
	}

	rec = a.do(t, http.MethodDelete, "/pacientes/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if msg := decode[map[string]string](t, rec); msg["message"] == "" {
		t.Fatalf("delete should return a message: %v", msg)
	}

	rec = a.do(t, http.MethodGet, "/pacientes/1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", rec.Code)
	}
	if msg := decode[map[string]string](t, rec); msg["error"] == "" {
		t.Fatalf("404 should carry an error: %v", msg)
	}

	data, err := os.ReadFile(a.csv)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if strings.Contains(string(data), "Hipertension") {
		t.Fatalf("deleted patient still on disk:\n%s", data)
	}

	if len(a.events.events) != 2 || a.events.events[0].Action != queue.ActionUpdated || a.events.events[1].Action != queue.ActionDeleted {
		t.Fatalf("unexpected events: %+v", a.events.events)
	}
}

func TestCreatePatient(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodPost, "/pacientes", `{"id":1,"edad":52,"sexo":"F","imc":"29.5","enfermedad":"Asma, leve"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("post: status %d", rec.Code)
	}
	created := decode[model.Patient](t, rec)
	if created.ID.Value != 4 {
		t.Fatalf("want assigned id 4, got %v", created.ID)
	}
	if created.IMC.Value != 29.5 {
		t.Fatalf("imc not coerced: %+v", created.IMC)
	}

	rec = a.do(t, http.MethodGet, "/pacientes/4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get created: status %d", rec.Code)
	}
	if got := decode[model.Patient](t, rec); got != created {
		t.Fatalf("get mismatch: %+v vs %+v", got, created)
	}

	reloaded, err := dataset.NewFile(a.csv).Load(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded) != 4 || reloaded[3] != created {
		t.Fatalf("created patient not persisted: %+v", reloaded)
	}
}

func TestCreateWithMalformedBody(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodPost, "/pacientes", `{not json`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("post: status %d", rec.Code)
	}
	created := decode[map[string]any](t, rec)
	if created["id"] != float64(4) || created["edad"] != nil {
		t.Fatalf("unexpected record: %v", created)
	}
}

func TestListLimit(t *testing.T) {
	a := newApp(t)
	cases := map[string]int{
		"/pacientes":          3,
		"/pacientes?limit=2":  2,
		"/pacientes?limit=50": 3,
		"/pacientes?limit=0":  3,
		"/pacientes?limit=x":  3,
	}
	for target, want := range cases {
		rec := a.do(t, http.MethodGet, target, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", target, rec.Code)
		}
		list := decode[[]model.Patient](t, rec)
		if len(list) != want {
			t.Fatalf("%s: want %d, got %d", target, want, len(list))
		}
		if list[0].ID.Value != 1 {
			t.Fatalf("%s: order broken: %+v", target, list)
		}
	}
}

func TestNonNumericIDIsNotFound(t *testing.T) {
	a := newApp(t)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		rec := a.do(t, method, "/pacientes/abc", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: want 404, got %d", method, rec.Code)
		}
	}
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	a := newApp(t)
	a.events.err = errors.New("broker down")
	rec := a.do(t, http.MethodPost, "/pacientes", `{"edad":20}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d", rec.Code)
	}
}

func TestPersistFailureIs500(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing-dir", "dataset.csv")
	repo := repository.NewPatientRepo(dataset.NewFile(path), 0)
	e := echo.New()
	router.RegisterPatients(e, handler.NewPatientHandler(repo, nil, nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pacientes", strings.NewReader(`{}`))
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["patients"] != float64(3) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestLanding(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>Pacientes</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	e := echo.New()
	router.RegisterStatic(e, dir)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Pacientes") {
		t.Fatalf("landing: %d %q", rec.Code, rec.Body.String())
	}
}

func TestUpdateKeepsExponentNumbers(t *testing.T) {
	a := newApp(t)
	rec := a.do(t, http.MethodPut, "/pacientes/1", `{"glucosa":1.1e2,"colesterol":2E2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: status %d", rec.Code)
	}
	got := decode[model.Patient](t, rec)
	if !got.Glucosa.Equal(model.NewInt(110)) || !got.Colesterol.Equal(model.NewInt(200)) {
		t.Fatalf("glucosa=%+v colesterol=%+v", got.Glucosa, got.Colesterol)
	}

	reloaded, err := dataset.NewFile(a.csv).Load(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded[0].Glucosa.Equal(model.NewInt(110)) {
		t.Fatalf("persisted glucosa %+v", reloaded[0].Glucosa)
	}
}
