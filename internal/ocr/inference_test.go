package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/docs-transducer/constants"
)

// predictionServer fakes the remote job API. statuses are returned by
// successive polls; the last one repeats.
type predictionServer struct {
	t        *testing.T
	statuses []map[string]any
	polls    atomic.Int32
	cancels  atomic.Int32
	failPoll int32 // poll number (1-based) that answers 502
}

func (s *predictionServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /predictions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			s.t.Errorf("authorization = %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		input, _ := body["input"].(map[string]any)
		if img, _ := input["image"].(string); !strings.HasPrefix(img, "data:image/png;base64,") {
			s.t.Errorf("image = %.40q", img)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "starting"})
	})
	mux.HandleFunc("GET /predictions/job-1", func(w http.ResponseWriter, r *http.Request) {
		n := s.polls.Add(1)
		if n == s.failPoll {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		i := int(n) - 1
		if i >= len(s.statuses) {
			i = len(s.statuses) - 1
		}
		_ = json.NewEncoder(w).Encode(s.statuses[i])
	})
	mux.HandleFunc("POST /predictions/job-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		s.cancels.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "job-1", "status": "canceled"})
	})
	return mux
}

func newTestInference(url string, timeout time.Duration) *InferenceProvider {
	return NewInferenceProvider(InferenceConfig{
		APIToken:     "tok",
		BaseURL:      url,
		ModelVersion: "ocr-v1",
		PollInterval: 5 * time.Millisecond,
		Timeout:      timeout,
	}, discardLogger())
}

var pngInput = ImageInput{Bytes: []byte("\x89PNG fake"), MIMEType: "image/png"}

func TestInference_SucceedsAfterTransientPollError(t *testing.T) {
	s := &predictionServer{t: t, failPoll: 1, statuses: []map[string]any{
		{"id": "job-1", "status": "processing"},
		{"id": "job-1", "status": "processing"},
		{"id": "job-1", "status": "succeeded", "output": []string{"<p>سطر", " أول</p>", "<p>سطر ثان</p>"}},
	}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	var registered []string
	var mu sync.Mutex
	opts := CallOptions{OnJobSubmitted: func(id string) {
		mu.Lock()
		registered = append(registered, id)
		mu.Unlock()
	}}
	res := newTestInference(srv.URL, time.Second).Extract(context.Background(), pngInput, opts)
	if res.Status != constants.StageCompleted {
		t.Fatalf("status = %s reason = %v", res.Status, res.Reason)
	}
	if want := "سطر أول\n\nسطر ثان"; *res.Text != want {
		t.Fatalf("text = %q, want %q", *res.Text, want)
	}
	if *res.Model != "ocr-v1" {
		t.Fatalf("model = %q", *res.Model)
	}
	if len(registered) != 1 || registered[0] != "job-1" {
		t.Fatalf("registered = %v", registered)
	}
}

func TestInference_RemoteFailureEndsImmediately(t *testing.T) {
	s := &predictionServer{t: t, statuses: []map[string]any{
		{"id": "job-1", "status": "failed", "error": "CUDA out of memory"},
	}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	res := newTestInference(srv.URL, time.Second).Extract(context.Background(), pngInput, CallOptions{})
	if res.Status != constants.StageFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !strings.Contains(*res.Reason, "CUDA out of memory") {
		t.Fatalf("reason = %q, want upstream error text", *res.Reason)
	}
	if n := s.polls.Load(); n != 1 {
		t.Fatalf("polls = %d, want 1", n)
	}
}

func TestInference_CancelCheckedEachIteration(t *testing.T) {
	s := &predictionServer{t: t, statuses: []map[string]any{{"id": "job-1", "status": "processing"}}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	var checks atomic.Int32
	opts := CallOptions{CancelCheck: func(context.Context) bool { return checks.Add(1) >= 3 }}
	res := newTestInference(srv.URL, time.Second).Extract(context.Background(), pngInput, opts)
	if res.Status != constants.StageFailed || *res.Reason != constants.ReasonCancelled {
		t.Fatalf("got %s/%v, want failed/cancelled", res.Status, res.Reason)
	}
	if n := s.polls.Load(); n != 2 {
		t.Fatalf("polls = %d, want 2", n)
	}
	if n := s.cancels.Load(); n != 1 {
		t.Fatalf("remote cancels = %d, want 1", n)
	}
}

func TestInference_Timeout(t *testing.T) {
	s := &predictionServer{t: t, statuses: []map[string]any{{"id": "job-1", "status": "processing"}}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	res := newTestInference(srv.URL, 30*time.Millisecond).Extract(context.Background(), pngInput, CallOptions{})
	if res.Status != constants.StageFailed || !strings.Contains(*res.Reason, "timed out") {
		t.Fatalf("got %s/%v, want timeout failure", res.Status, res.Reason)
	}
}

func TestInference_SkippedWithoutToken(t *testing.T) {
	p := NewInferenceProvider(InferenceConfig{}, discardLogger())
	res := p.Extract(context.Background(), pngInput, CallOptions{})
	if res.Status != constants.StageSkipped {
		t.Fatalf("status = %s, want skipped", res.Status)
	}
}

func TestInference_Cancel(t *testing.T) {
	s := &predictionServer{t: t, statuses: []map[string]any{{"id": "job-1", "status": "processing"}}}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	if err := newTestInference(srv.URL, time.Second).Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := newTestInference(srv.URL, time.Second).Cancel(context.Background(), "missing"); err == nil {
		t.Fatal("Cancel(missing) = nil, want error")
	}
}
