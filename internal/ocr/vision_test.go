package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/llm/openai"
)

func newTestVision(url, key string) *VisionProvider {
	c := openai.NewClient(openai.Config{APIKey: key, BaseURL: url, Model: "vision-test"}, discardLogger())
	return NewVisionProvider(c, discardLogger())
}

func TestVision_ChatShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "  بسم الله  \n"}}},
		})
	}))
	defer srv.Close()

	res := newTestVision(srv.URL, "k").Extract(context.Background(), pngInput, CallOptions{})
	if res.Status != constants.StageCompleted || *res.Text != "بسم الله" {
		t.Fatalf("got %s %v", res.Status, res.Text)
	}
	if *res.Model != "vision-test" {
		t.Fatalf("model = %v", *res.Model)
	}
}

func TestVision_FallsBackToResponsesShape(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/chat/completions":
			_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		case "/responses":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"output": []any{map[string]any{"content": []any{map[string]any{"type": "output_text", "text": "نص"}}}},
			})
		}
	}))
	defer srv.Close()

	res := newTestVision(srv.URL, "k").Extract(context.Background(), pngInput, CallOptions{})
	if res.Status != constants.StageCompleted || *res.Text != "نص" {
		t.Fatalf("got %s %v", res.Status, res.Text)
	}
	if strings.Join(paths, ",") != "/chat/completions,/responses" {
		t.Fatalf("paths = %v", paths)
	}
}

func TestVision_ErrorReasonCarriesTypeName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	res := newTestVision(srv.URL, "k").Extract(context.Background(), pngInput, CallOptions{})
	if res.Status != constants.StageFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !strings.HasPrefix(*res.Reason, "error:StatusError: ") {
		t.Fatalf("reason = %q", *res.Reason)
	}
}

func TestVision_SkippedWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	res := newTestVision("http://unused", "").Extract(context.Background(), pngInput, CallOptions{})
	if res.Status != constants.StageSkipped {
		t.Fatalf("status = %s, want skipped", res.Status)
	}
}
