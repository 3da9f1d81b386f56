package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/client"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

// JobStatus is the polled state of one submitted job. Exactly one of the
// following holds: Failed (with Error set), Done (with Outputs extracted), or
// neither, meaning the job is still running.
type JobStatus struct {
	Done    bool
	Failed  bool
	Error   string
	Outputs []model.OutputRef
}

// Client talks to a ComfyUI-style node-graph compute backend. All calls go
// through the request executor; status polling must not be wrapped in the
// response cache.
type Client struct {
	exec     *client.Executor
	baseURL  string
	clientID string
	logger   *slog.Logger
}

// NewClient creates a backend client for baseURL.
func NewClient(exec *client.Executor, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		exec:     exec,
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: model.NewID(),
		logger:   logger,
	}
}

// BaseURL returns the backend base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Status fetches the backend's queue state and, best-effort, its system stats.
// A failure to read system stats does not fail the status call.
func (c *Client) Status(ctx context.Context) (*BackendStatus, error) {
	body, err := c.exec.Execute(ctx, client.Options{
		Method:        http.MethodGet,
		URL:           c.baseURL + "/queue",
		Authenticated: true,
	}, client.DefaultMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("fetch queue: %w", err)
	}

	var queue QueueStatus
	if err := json.Unmarshal(body, &queue); err != nil {
		return nil, fmt.Errorf("decode queue response: %w", err)
	}

	status := &BackendStatus{
		Connected: true,
		BaseURL:   c.baseURL,
		Queue:     queue,
	}

	statsBody, err := c.exec.Execute(ctx, client.Options{
		Method:        http.MethodGet,
		URL:           c.baseURL + "/system_stats",
		Authenticated: true,
	}, 1)
	if err != nil {
		c.logger.Debug("system stats unavailable", "error", err)
		return status, nil
	}
	var stats SystemStats
	if err := json.Unmarshal(statsBody, &stats); err == nil {
		status.SystemStats = &stats
	}

	return status, nil
}

// SubmitPrompt submits a workflow graph and returns the backend's job handle.
// An acknowledgment without a usable handle is an error, not something to poll.
func (c *Client) SubmitPrompt(ctx context.Context, graph map[string]any) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}

	body, err := c.exec.Execute(ctx, client.Options{
		Method:        http.MethodPost,
		URL:           c.baseURL + "/prompt",
		Body:          payload,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Authenticated: true,
	}, client.DefaultMaxAttempts)
	if err != nil {
		return "", err
	}

	var resp promptResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode prompt response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("backend rejected prompt: %s", resp.Error)
	}
	handle := resp.handle()
	if handle == "" {
		return "", fmt.Errorf("backend returned no job handle: %s", string(body))
	}
	return handle, nil
}

// History fetches the status record for a submitted job. An empty history map
// means the job is still queued or running.
func (c *Client) History(ctx context.Context, handle string) (*JobStatus, error) {
	body, err := c.exec.Execute(ctx, client.Options{
		Method:        http.MethodGet,
		URL:           c.baseURL + "/history/" + url.PathEscape(handle),
		Authenticated: true,
	}, client.DefaultMaxAttempts)
	if err != nil {
		return nil, err
	}

	var history map[string]historyEntry
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}

	entry, ok := history[handle]
	if !ok {
		return &JobStatus{}, nil
	}

	if entry.Status.StatusStr == "error" {
		return &JobStatus{
			Failed: true,
			Error:  executionError(entry.Status.Messages),
		}, nil
	}

	outputs := extractOutputs(entry.Outputs)
	if entry.Status.Completed || len(outputs) > 0 {
		return &JobStatus{Done: true, Outputs: outputs}, nil
	}

	return &JobStatus{}, nil
}

// FetchOutput downloads one generated output via the backend's /view endpoint.
func (c *Client) FetchOutput(ctx context.Context, ref model.OutputRef) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", ref.Filename)
	if ref.Subfolder != "" {
		q.Set("subfolder", ref.Subfolder)
	}
	typ := ref.Type
	if typ == "" {
		typ = "output"
	}
	q.Set("type", typ)

	body, err := c.exec.Execute(ctx, client.Options{
		Method:        http.MethodGet,
		URL:           c.baseURL + "/view?" + q.Encode(),
		Authenticated: true,
	}, client.DefaultMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("fetch output %s: %w", ref.Filename, err)
	}
	return body, nil
}

// UploadMedia uploads an input file to the backend and returns the stored
// filename. The backend's upload endpoint takes every media type, audio
// included, under the "image" form key.
func (c *Client) UploadMedia(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return "", fmt.Errorf("write upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close upload form: %w", err)
	}

	body, err := c.exec.Execute(ctx, client.Options{
		Method:        http.MethodPost,
		URL:           c.baseURL + "/upload/image",
		Body:          buf.Bytes(),
		Header:        http.Header{"Content-Type": []string{mw.FormDataContentType()}},
		Authenticated: true,
	}, client.DefaultMaxAttempts)
	if err != nil {
		return "", err
	}

	// The upload response shape varies: an object with name/filename, a bare
	// array, or plain text.
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		if name, ok := obj["name"].(string); ok && name != "" {
			return name, nil
		}
		if name, ok := obj["filename"].(string); ok && name != "" {
			return name, nil
		}
	}
	var arr []string
	if err := json.Unmarshal(body, &arr); err == nil && len(arr) > 0 {
		return arr[0], nil
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text, nil
	}
	return filename, nil
}

// extractOutputs flattens per-node media lists into an ordered slice of
// output references.
func extractOutputs(nodes map[string]nodeOutput) []model.OutputRef {
	var refs []model.OutputRef
	for _, node := range nodes {
		for _, group := range [][]outputFile{node.Images, node.Gifs, node.Videos} {
			for _, f := range group {
				if f.Filename == "" {
					continue
				}
				refs = append(refs, model.OutputRef{
					Filename:  f.Filename,
					Subfolder: f.Subfolder,
					Type:      f.Type,
				})
			}
		}
	}
	return refs
}

// executionError digs the human-readable failure out of the backend's status
// messages. Each message is a [type, payload] pair.
func executionError(messages []json.RawMessage) string {
	for _, raw := range messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) < 2 {
			continue
		}
		var typ string
		if err := json.Unmarshal(pair[0], &typ); err != nil || typ != "execution_error" {
			continue
		}
		var payload struct {
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &payload); err != nil {
			continue
		}
		if payload.ExceptionMessage != "" {
			if payload.NodeType != "" {
				return fmt.Sprintf("%s: %s", payload.NodeType, payload.ExceptionMessage)
			}
			return payload.ExceptionMessage
		}
	}
	return "job failed on the compute backend"
}
