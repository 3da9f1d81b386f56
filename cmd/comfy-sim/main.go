// comfy-sim runs an in-memory stand-in for the ComfyUI HTTP API so the service
// can be exercised end to end without a GPU box.
// Usage: go run ./cmd/comfy-sim
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
)

// completionDelay is how long a submitted prompt stays "running" before the
// simulator reports it complete.
const completionDelay = 5 * time.Second

type simJob struct {
	submittedAt time.Time
}

type simulator struct {
	mu   sync.Mutex
	jobs map[string]simJob
}

func (s *simulator) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt map[string]any `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Prompt) == 0 {
		http.Error(w, `{"error":"invalid prompt"}`, http.StatusBadRequest)
		return
	}

	id := ulid.Make().String()
	s.mu.Lock()
	s.jobs[id] = simJob{submittedAt: time.Now()}
	s.mu.Unlock()

	writeJSON(w, map[string]string{"prompt_id": id})
}

func (s *simulator) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok || time.Since(job.submittedAt) < completionDelay {
		// Still running: ComfyUI returns an empty history map.
		writeJSON(w, map[string]any{})
		return
	}

	writeJSON(w, map[string]any{
		id: map[string]any{
			"status": map[string]any{
				"status_str": "success",
				"completed":  true,
			},
			"outputs": map[string]any{
				"9": map[string]any{
					"videos": []map[string]any{
						{"filename": "result.mp4", "subfolder": "", "type": "output"},
					},
				},
			},
		},
	})
}

func (s *simulator) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	pending := 0
	for _, job := range s.jobs {
		if time.Since(job.submittedAt) < completionDelay {
			pending++
		}
	}
	s.mu.Unlock()

	running := make([]any, 0)
	queued := make([]any, 0, pending)
	for i := 0; i < pending; i++ {
		queued = append(queued, []any{i, "queued"})
	}
	writeJSON(w, map[string]any{
		"queue_running": running,
		"queue_pending": queued,
	})
}

func (s *simulator) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"system": map[string]any{
			"os":         "linux",
			"ram_total":  64 << 30,
			"comfyui":    "simulated",
			"python":     "3.12",
			"embedded":   false,
			"ram_free":   32 << 30,
			"device_ids": []int{0},
		},
		"devices": []map[string]any{
			{"name": "SimGPU", "type": "cuda", "vram_total": 24 << 30, "vram_free": 20 << 30},
		},
	})
}

func (s *simulator) handleView(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write([]byte("simulated output for " + r.URL.Query().Get("filename")))
}

func (s *simulator) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, `{"error":"invalid upload"}`, http.StatusBadRequest)
		return
	}
	_, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, `{"error":"missing image field"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"name": header.Filename, "subfolder": "", "type": "input"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	addr := ":8188"
	if v := os.Getenv("COMFY_SIM_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	sim := &simulator{jobs: make(map[string]simJob)}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/prompt", sim.handlePrompt)
	r.Get("/history/{id}", sim.handleHistory)
	r.Get("/queue", sim.handleQueue)
	r.Get("/system_stats", sim.handleSystemStats)
	r.Get("/view", sim.handleView)
	r.Post("/upload/image", sim.handleUpload)

	logger.Info("simulator listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("simulator stopped", "error", err)
		os.Exit(1)
	}
}
