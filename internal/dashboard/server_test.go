package dashboard

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RohitKumar027/ReliabilityPortal/internal/alert"
	"github.com/RohitKumar027/ReliabilityPortal/internal/catalog"
	"github.com/RohitKumar027/ReliabilityPortal/internal/intake"
	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
	"github.com/RohitKumar027/ReliabilityPortal/internal/metrics"
	"github.com/RohitKumar027/ReliabilityPortal/internal/models"
	"github.com/RohitKumar027/ReliabilityPortal/internal/registry"
	"github.com/RohitKumar027/ReliabilityPortal/internal/results"
	"github.com/RohitKumar027/ReliabilityPortal/internal/scheduler"
	"github.com/RohitKumar027/ReliabilityPortal/internal/shift"
	"github.com/RohitKumar027/ReliabilityPortal/internal/supervisor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var tenAM = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAPI(t *testing.T) (*api, *alert.Log) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	st := lab.NewState()
	st.Technicians = []lab.Technician{{ID: "t1", Name: "Asha", Shift: "A"}}
	st.Machines = []lab.Machine{{ID: "HC-1", Name: "Humidity 1", Type: "Humidity Chamber"}}

	alerts := alert.NewLog(nil, quiet())
	sup, err := supervisor.New(supervisor.Options{
		State:    st,
		Calendar: shift.MustDefault(),
		Catalog:  cat,
		Policy:   scheduler.DefaultPolicy(),
		Capacity: metrics.DefaultCapacityConfig(),
		Alerts:   alerts,
		Logger:   quiet(),
		Now:      func() time.Time { return tenAM },
	})
	if err != nil {
		t.Fatalf("supervisor: %v", err)
	}
	return &api{sup: sup, alerts: alerts, log: quiet(), poll: 10 * time.Millisecond, heartbeat: time.Hour}, alerts
}

func newTestRouter(a *api) *gin.Engine {
	router := gin.New()
	registerRoutes(router, a)
	return router
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestStart_NilSupervisor(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	if err == nil {
		t.Fatal("expected error for nil supervisor")
	}
	if !strings.Contains(err.Error(), "supervisor is required") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "supervisor is required")
	}
}

func TestHealthz(t *testing.T) {
	a, _ := newTestAPI(t)
	w := do(t, newTestRouter(a), http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestSubmitAndRecordFlow(t *testing.T) {
	a, _ := newTestAPI(t)
	router := newTestRouter(a)

	sub := intake.Uniform("Refrigerator", "Frost Free", "Qualification", []string{"RF-200"}, 1, []string{"Visual Inspection"}, "")
	w := do(t, router, http.MethodPost, "/api/requests", sub)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		Request lab.Request          `json:"request"`
		Pass    scheduler.PassResult `json:"pass"`
	}
	decode(t, w, &created)
	if len(created.Pass.Started) != 1 {
		t.Errorf("started = %v, want 1", created.Pass.Started)
	}

	w = do(t, router, http.MethodGet, "/api/active-tests", nil)
	var active []metrics.ActiveTestView
	decode(t, w, &active)
	if len(active) != 1 || active[0].Technicians != "Asha" {
		t.Errorf("active = %+v", active)
	}

	in := results.Input{
		SampleID: created.Request.Samples[0].ID,
		Test:     "Visual Inspection",
		Outcome:  lab.Pass,
		Remarks:  "clean",
		Evidence: lab.Evidence{Before: []string{"b.jpg"}, After: []string{"a.jpg"}},
	}
	w = do(t, router, http.MethodPost, "/api/results", in)
	if w.Code != http.StatusOK {
		t.Fatalf("record status = %d, body %s", w.Code, w.Body.String())
	}
	var recorded struct {
		Recorded results.Recorded `json:"recorded"`
	}
	decode(t, w, &recorded)
	if !recorded.Recorded.RequestCompleted {
		t.Errorf("recorded = %+v", recorded.Recorded)
	}

	w = do(t, router, http.MethodGet, "/api/requests/"+created.Request.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get request status = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/api/dashboard", nil)
	var d metrics.Dashboard
	decode(t, w, &d)
	if d.Counters.TotalCompletions != 1 {
		t.Errorf("counters = %+v", d.Counters)
	}
}

func TestErrorStatuses(t *testing.T) {
	a, _ := newTestAPI(t)
	router := newTestRouter(a)
	sub := intake.Uniform("Refrigerator", "Frost Free", "Qualification", []string{"RF-200"}, 1, []string{"Damp Heat"}, "")
	if w := do(t, router, http.MethodPost, "/api/requests", sub); w.Code != http.StatusCreated {
		t.Fatalf("seed submit = %d", w.Code)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad json", http.MethodPost, "/api/machines", "not an object", http.StatusBadRequest},
		{"invalid submission", http.MethodPost, "/api/requests", intake.Submission{}, http.StatusBadRequest},
		{"invalid verdict", http.MethodPost, "/api/results", results.Input{SampleID: "x"}, http.StatusBadRequest},
		{"unknown sample", http.MethodPost, "/api/results", results.Input{
			SampleID: "nope", Test: "Damp Heat", Outcome: lab.Pass, Remarks: "ok",
			Evidence: lab.Evidence{Before: []string{"b"}, After: []string{"a"}},
		}, http.StatusNotFound},
		{"unknown shift", http.MethodPost, "/api/technicians", lab.Technician{ID: "t9", Name: "Zed", Shift: "Z"}, http.StatusBadRequest},
		{"duplicate machine", http.MethodPost, "/api/machines", lab.Machine{ID: "HC-1", Type: "Humidity Chamber"}, http.StatusConflict},
		{"machine in use", http.MethodDelete, "/api/machines/HC-1", nil, http.StatusConflict},
		{"technician busy", http.MethodDelete, "/api/technicians/t1", nil, http.StatusConflict},
		{"unknown machine", http.MethodDelete, "/api/machines/XX", nil, http.StatusNotFound},
		{"unknown request", http.MethodGet, "/api/requests/REQ-NONE", nil, http.StatusNotFound},
		{"bad alert id", http.MethodPost, "/api/alerts/abc/ack", nil, http.StatusBadRequest},
		{"unknown alert", http.MethodPost, "/api/alerts/99/ack", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestMachineAndTechnicianCRUD(t *testing.T) {
	a, _ := newTestAPI(t)
	router := newTestRouter(a)

	if w := do(t, router, http.MethodPost, "/api/machines", lab.Machine{ID: "DT-1", Type: "Drop Tester"}); w.Code != http.StatusCreated {
		t.Fatalf("add machine = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/api/technicians", lab.Technician{ID: "t2", Name: "Ben", Shift: "B"}); w.Code != http.StatusCreated {
		t.Fatalf("add technician = %d", w.Code)
	}

	var machines []lab.Machine
	decode(t, do(t, router, http.MethodGet, "/api/machines", nil), &machines)
	if len(machines) != 2 {
		t.Errorf("machines = %+v", machines)
	}

	if w := do(t, router, http.MethodDelete, "/api/machines/DT-1", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete machine = %d", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/api/technicians/t2", nil); w.Code != http.StatusNoContent {
		t.Errorf("delete technician = %d", w.Code)
	}
	var techs []lab.Technician
	decode(t, do(t, router, http.MethodGet, "/api/technicians", nil), &techs)
	if len(techs) != 1 || techs[0].Name != "Asha" {
		t.Errorf("technicians = %+v", techs)
	}
}

func TestAlertsListAndAcknowledge(t *testing.T) {
	a, log := newTestAPI(t)
	router := newTestRouter(a)
	raised, err := log.Raise(context.Background(), models.Alert{Kind: alert.KindShortage, Subject: "Oven pool exhausted"})
	if err != nil {
		t.Fatalf("Raise: %v", err)
	}

	var list []models.Alert
	decode(t, do(t, router, http.MethodGet, "/api/alerts?unacked=true", nil), &list)
	if len(list) != 1 || list[0].ID != raised.ID {
		t.Fatalf("alerts = %+v", list)
	}

	path := fmt.Sprintf("/api/alerts/%d/ack", raised.ID)
	if w := do(t, router, http.MethodPost, path, nil); w.Code != http.StatusNoContent {
		t.Errorf("ack = %d", w.Code)
	}
	decode(t, do(t, router, http.MethodGet, "/api/alerts?unacked=true", nil), &list)
	if len(list) != 0 {
		t.Errorf("unacked after ack = %+v", list)
	}
}

func TestCatalogAndQueue(t *testing.T) {
	a, _ := newTestAPI(t)
	router := newTestRouter(a)

	var cat map[string][]lab.TestDefinition
	decode(t, do(t, router, http.MethodGet, "/api/catalog", nil), &cat)
	if len(cat["Refrigerator"]) == 0 {
		t.Errorf("catalog = %v", cat)
	}
	var queue []metrics.QueueForecast
	decode(t, do(t, router, http.MethodGet, "/api/queue", nil), &queue)
	if len(queue) != 1 || queue[0].Capacity != 1 {
		t.Errorf("queue = %+v", queue)
	}
}

func TestHandler_CORS(t *testing.T) {
	a, _ := newTestAPI(t)
	h := Handler(StartOpts{Supervisor: a.sup, Alerts: a.alerts, Origins: []string{"http://lab.local"}, Logger: quiet()})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://lab.local")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://lab.local" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://elsewhere")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestSSE_StreamsNewAlerts(t *testing.T) {
	a, log := newTestAPI(t)
	if _, err := log.Raise(context.Background(), models.Alert{Kind: alert.KindShortage, Subject: "old"}); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	srv := httptest.NewServer(newTestRouter(a))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "event: ") {
				lines.Scan()
				return l + "\n" + lines.Text()
			}
		}
		return ""
	}
	if got := next(); !strings.HasPrefix(got, "event: connected") {
		t.Fatalf("first event = %q", got)
	}

	if _, err := log.Raise(context.Background(), models.Alert{Kind: alert.KindFailure, Subject: "Heat failed"}); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	got := next()
	if !strings.HasPrefix(got, "event: alert") || !strings.Contains(got, "Heat failed") {
		t.Errorf("alert event = %q", got)
	}
	if strings.Contains(got, `"old"`) {
		t.Error("alerts raised before connecting must not be replayed")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", intake.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", registry.ErrTechnicianBusy), http.StatusConflict},
		{fmt.Errorf("wrap: %w", alert.ErrNotFound), http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
