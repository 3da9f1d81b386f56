package comfy_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/client"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/comfy"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

// handle registers a method-restricted route. Method-prefixed ServeMux
// patterns ("POST /prompt") need Go 1.22; this toolchain predates that.
func handle(mux *http.ServeMux, method, path string, h http.HandlerFunc) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	})
}

func newTestClient(t *testing.T, handler http.Handler) *comfy.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	exec := client.NewExecutor(srv.Client(), nil, logger).
		WithTiming(2*time.Second, time.Millisecond, 10*time.Millisecond)
	return comfy.NewClient(exec, srv.URL, logger)
}

func TestSubmitPromptReturnsHandle(t *testing.T) {
	var submitted map[string]any
	mux := http.NewServeMux()
	handle(mux, http.MethodPost, "/prompt", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&submitted); err != nil {
			t.Errorf("decode submitted prompt: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "abc-123"})
	})
	c := newTestClient(t, mux)

	handle, err := c.SubmitPrompt(context.Background(), map[string]any{"1": "node"})
	if err != nil {
		t.Fatalf("SubmitPrompt: %v", err)
	}
	if handle != "abc-123" {
		t.Errorf("handle = %q, want abc-123", handle)
	}
	if submitted["prompt"] == nil {
		t.Error("submission body missing prompt graph")
	}
	if submitted["client_id"] == "" {
		t.Error("submission body missing client_id")
	}
}

func TestSubmitPromptWithoutHandleFails(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, http.MethodPost, "/prompt", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"number": 4})
	})
	c := newTestClient(t, mux)

	if _, err := c.SubmitPrompt(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error when acknowledgment carries no handle")
	}
}

func TestHistoryStillRunning(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, http.MethodGet, "/history/job-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	c := newTestClient(t, mux)

	st, err := c.History(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if st.Done || st.Failed {
		t.Errorf("status = %+v, want still running", st)
	}
}

func TestHistoryExplicitError(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, http.MethodGet, "/history/job-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"job-1": {"status": {"status_str": "error", "completed": false,
			"messages": [["execution_start", {}],
				["execution_error", {"node_type": "KSampler", "exception_message": "CUDA out of memory"}]]}}}`))
	})
	c := newTestClient(t, mux)

	st, err := c.History(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !st.Failed {
		t.Fatal("expected failed status")
	}
	if st.Error != "KSampler: CUDA out of memory" {
		t.Errorf("error = %q", st.Error)
	}
}

func TestHistorySuccessExtractsOutputs(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, http.MethodGet, "/history/job-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"job-1": {"status": {"status_str": "success", "completed": true},
			"outputs": {"9": {"images": [{"filename": "out_00001.png", "subfolder": "img2img", "type": "output"}]}}}}`))
	})
	c := newTestClient(t, mux)

	st, err := c.History(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !st.Done || st.Failed {
		t.Fatalf("status = %+v, want done", st)
	}
	if len(st.Outputs) != 1 {
		t.Fatalf("outputs = %v, want 1 entry", st.Outputs)
	}
	want := model.OutputRef{Filename: "out_00001.png", Subfolder: "img2img", Type: "output"}
	if st.Outputs[0] != want {
		t.Errorf("output = %+v, want %+v", st.Outputs[0], want)
	}
}

func TestHistoryCompletedWithoutOutputs(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, http.MethodGet, "/history/job-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"job-1": {"status": {"status_str": "success", "completed": true}, "outputs": {}}}`))
	})
	c := newTestClient(t, mux)

	st, err := c.History(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !st.Done {
		t.Fatal("expected done")
	}
	if len(st.Outputs) != 0 {
		t.Errorf("outputs = %v, want none", st.Outputs)
	}
}

func TestStatusToleratesMissingSystemStats(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, http.MethodGet, "/queue", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"queue_running": [[0, "a"]], "queue_pending": []}`))
	})
	// No /system_stats route: the default mux answers 404.
	c := newTestClient(t, mux)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Connected {
		t.Error("expected connected")
	}
	if len(st.Queue.Running) != 1 {
		t.Errorf("queue_running = %v, want 1 entry", st.Queue.Running)
	}
	if st.SystemStats != nil {
		t.Error("system stats should be absent when the endpoint is missing")
	}
}

func TestFetchOutputQuery(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, http.MethodGet, "/view", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("filename") != "a.png" || q.Get("subfolder") != "sub" || q.Get("type") != "output" {
			t.Errorf("unexpected query: %v", q)
		}
		w.Write([]byte("raw-bytes"))
	})
	c := newTestClient(t, mux)

	data, err := c.FetchOutput(context.Background(), model.OutputRef{Filename: "a.png", Subfolder: "sub"})
	if err != nil {
		t.Fatalf("FetchOutput: %v", err)
	}
	if string(data) != "raw-bytes" {
		t.Errorf("data = %q", data)
	}
}

// Backend calls carry the bearer credential, so an expired token recovers via
// the refresh path instead of surfacing a 401 to the caller.
func TestHistoryRecoversFromExpiredCredential(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, http.MethodGet, "/history/job-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"job-1": {"status": {"status_str": "success", "completed": true},
			"outputs": {"9": {"images": [{"filename": "out.png", "type": "output"}]}}}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	refreshCalls := 0
	coord := client.NewRefreshCoordinator("stale", func(context.Context) (string, error) {
		refreshCalls++
		return "fresh", nil
	}, logger)
	exec := client.NewExecutor(srv.Client(), coord, logger).
		WithTiming(2*time.Second, time.Millisecond, 10*time.Millisecond)
	c := comfy.NewClient(exec, srv.URL, logger)

	st, err := c.History(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !st.Done {
		t.Fatalf("status = %+v, want done", st)
	}
	if refreshCalls != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls)
	}
}

func TestUploadMediaParsesName(t *testing.T) {
	mux := http.NewServeMux()
	handle(mux, http.MethodPost, "/upload/image", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if header.Filename != "voice.wav" {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]string{"name": "voice_00001.wav"})
	})
	c := newTestClient(t, mux)

	name, err := c.UploadMedia(context.Background(), "voice.wav", "audio/wav", []byte("RIFF"))
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if name != "voice_00001.wav" {
		t.Errorf("name = %q", name)
	}
}
