package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/obsidianstack/prioritymq/agent/internal/client"
)

// fakeBroker answers the broker routes from canned data and records requests.
type fakeBroker struct {
	popIDs   []string
	lastBody map[string]interface{}
}

func (f *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/add":
		json.NewDecoder(r.Body).Decode(&f.lastBody) //nolint:errcheck
		if f.lastBody["id"] == "dup" {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"Message ID already exists"}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"message":"Message ` + f.lastBody["id"].(string) + ` added"}`)) //nolint:errcheck
	case r.URL.Path == "/pop":
		if len(f.popIDs) == 0 {
			w.Write([]byte(`{"id":null}`)) //nolint:errcheck
			return
		}
		id := f.popIDs[0]
		f.popIDs = f.popIDs[1:]
		json.NewEncoder(w).Encode(map[string]string{"id": id}) //nolint:errcheck
	case r.URL.Path == "/find/a b":
		w.Write([]byte(`{"priority":7,"timestamp":42}`)) //nolint:errcheck
	case strings.HasPrefix(r.URL.Path, "/find/"):
		w.Write([]byte(`null`)) //nolint:errcheck
	case r.URL.Path == "/list":
		w.Write([]byte(`["c","a","b"]`)) //nolint:errcheck
	case r.URL.Path == "/stats":
		w.Write([]byte(`{"depth":3,"watermark":300,"has_watermark":true,` + //nolint:errcheck
			`"admitted_total":5,"popped_total":2,"empty_pops_total":1,"rejected_total":{"duplicate_id":1}}`))
	case r.URL.Path == "/metrics":
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(strings.Join([]string{ //nolint:errcheck
			"# TYPE prioritymq_queue_depth gauge",
			"prioritymq_queue_depth 3",
			"# TYPE prioritymq_admissions_rejected_total counter",
			`prioritymq_admissions_rejected_total{reason="duplicate_id"} 2`,
			`prioritymq_admissions_rejected_total{reason="priority_out_of_range"} 5`,
			"",
		}, "\n")))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("404 page not found")) //nolint:errcheck
	}
}

func newClient(t *testing.T, h http.Handler) *client.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := client.New(srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RejectsBadEndpoint(t *testing.T) {
	for _, ep := range []string{"localhost:8000", "ftp://host", "://"} {
		if _, err := client.New(ep, 0); err == nil {
			t.Errorf("New(%q): expected error", ep)
		}
	}
}

func TestClient_Add(t *testing.T) {
	fb := &fakeBroker{}
	c := newClient(t, fb)

	msg, err := c.Add(context.Background(), "a", 10, 100)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if msg != "Message a added" {
		t.Errorf("message: got %q", msg)
	}
	want := map[string]interface{}{"id": "a", "priority": 10.0, "timestamp": 100.0}
	if diff := cmp.Diff(want, fb.lastBody); diff != "" {
		t.Errorf("request body (-want +got):\n%s", diff)
	}
}

func TestClient_AddConflict(t *testing.T) {
	c := newClient(t, &fakeBroker{})

	_, err := c.Add(context.Background(), "dup", 10, 100)
	var ae *client.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if ae.Status != http.StatusConflict || ae.Message != "Message ID already exists" {
		t.Errorf("APIError: got %+v", ae)
	}
	if !client.IsConflict(err) {
		t.Error("IsConflict: got false, want true")
	}
}

func TestClient_Pop(t *testing.T) {
	c := newClient(t, &fakeBroker{popIDs: []string{"b"}})
	ctx := context.Background()

	id, ok, err := c.Pop(ctx)
	if err != nil || !ok || id != "b" {
		t.Fatalf("Pop: got (%q, %v, %v), want (b, true, nil)", id, ok, err)
	}
	id, ok, err = c.Pop(ctx)
	if err != nil || ok || id != "" {
		t.Errorf("Pop on empty: got (%q, %v, %v), want (\"\", false, nil)", id, ok, err)
	}
}

func TestClient_Find(t *testing.T) {
	c := newClient(t, &fakeBroker{})
	ctx := context.Background()

	e, ok, err := c.Find(ctx, "a b")
	if err != nil || !ok {
		t.Fatalf("Find hit: got (%v, %v)", ok, err)
	}
	if e != (client.Entry{Priority: 7, Timestamp: 42}) {
		t.Errorf("entry: got %+v", e)
	}

	_, ok, err = c.Find(ctx, "missing")
	if err != nil || ok {
		t.Errorf("Find miss: got (%v, %v), want (false, nil)", ok, err)
	}
}

func TestClient_ListAndStats(t *testing.T) {
	c := newClient(t, &fakeBroker{})
	ctx := context.Background()

	ids, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, ids); diff != "" {
		t.Errorf("List (-want +got):\n%s", diff)
	}

	s, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := client.Stats{
		Depth: 3, Watermark: 300, HasWatermark: true,
		Admitted: 5, Popped: 2, EmptyPops: 1,
		Rejected: map[string]uint64{"duplicate_id": 1},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Stats (-want +got):\n%s", diff)
	}
}

func TestClient_Metrics(t *testing.T) {
	c := newClient(t, &fakeBroker{})

	mfs, err := c.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if got := client.Sum(mfs["prioritymq_queue_depth"]); got != 3 {
		t.Errorf("queue depth: got %v, want 3", got)
	}
	if got := client.Sum(mfs["prioritymq_admissions_rejected_total"]); got != 7 {
		t.Errorf("rejected total: got %v, want 7", got)
	}
	if got := client.Sum(mfs["absent"]); got != 0 {
		t.Errorf("absent family: got %v, want 0", got)
	}
}

func TestClient_NonJSONError(t *testing.T) {
	c := newClient(t, http.NotFoundHandler())

	_, err := c.List(context.Background())
	var ae *client.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if ae.Status != http.StatusNotFound || ae.Message != "404 page not found" {
		t.Errorf("APIError: got %+v", ae)
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(&fakeBroker{})
	url := srv.URL
	srv.Close()

	c, err := client.New(url, time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _, err = c.Pop(context.Background())
	if err == nil {
		t.Fatal("expected transport error, got nil")
	}
	var ae *client.APIError
	if errors.As(err, &ae) {
		t.Errorf("transport failure reported as APIError: %v", ae)
	}
}
