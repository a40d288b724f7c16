package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCountersArePerKind(t *testing.T) {
	r := NewRegistry()
	r.Add(CounterConsumed, "products", 5)
	r.Add(CounterConsumed, "users", 2)
	r.Add(CounterSkipped, "products", 1)
	r.Add(CounterSkipped, "products", 0)

	body := scrape(t, r)
	for _, line := range []string{
		`pipeline_records_consumed_total{kind="products"} 5`,
		`pipeline_records_consumed_total{kind="users"} 2`,
		`pipeline_records_skipped_total{kind="products"} 1`,
	} {
		if !strings.Contains(body, line) {
			t.Fatalf("missing %q in:\n%s", line, body)
		}
	}
}

func TestSetStateMovesTheFlag(t *testing.T) {
	r := NewRegistry()
	r.SetState("carts", "", "IDLE")
	r.SetState("carts", "IDLE", "WRITING")

	body := scrape(t, r)
	if !strings.Contains(body, `pipeline_processor_state{kind="carts",state="IDLE"} 0`) {
		t.Fatalf("IDLE should be cleared:\n%s", body)
	}
	if !strings.Contains(body, `pipeline_processor_state{kind="carts",state="WRITING"} 1`) {
		t.Fatalf("WRITING should be set:\n%s", body)
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.Add(CounterBatches, "products", 1)
	r.ObserveBatch("products", time.Second)
	r.SetState("products", "", "IDLE")
	r.CountPublished("products", "fakestore")
}

func TestServerExposesMetricsAndHealth(t *testing.T) {
	r := NewRegistry()
	r.Add(CounterBatches, "users", 1)
	srv := httptest.NewServer(r.Server(":0", nil).Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `pipeline_batches_total{kind="users"} 1`) {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}

	resp, err = srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func scrape(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestHealthzReportsFailedCheck(t *testing.T) {
	var broken error
	h := NewRegistry().Server(":0", func() error { return broken }).Handler

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 {
		t.Fatalf("healthy status %d", rec.Code)
	}

	broken = errors.New("worker carts stopped")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 503 || !strings.Contains(rec.Body.String(), "worker carts stopped") {
		t.Fatalf("unhealthy status %d body %q", rec.Code, rec.Body.String())
	}
}
