package comfy

import "encoding/json"

// BackendStatus summarizes the compute backend's queue and hardware state,
// shown by the UI's status widget.
type BackendStatus struct {
	Connected   bool         `json:"connected"`
	BaseURL     string       `json:"base_url"`
	Queue       QueueStatus  `json:"queue"`
	SystemStats *SystemStats `json:"system_stats,omitempty"`
}

// QueueStatus mirrors the backend's /queue response.
type QueueStatus struct {
	Running []json.RawMessage `json:"queue_running"`
	Pending []json.RawMessage `json:"queue_pending"`
}

// SystemStats mirrors the optional /system_stats response.
type SystemStats struct {
	System  *SystemInfo    `json:"system,omitempty"`
	Devices []SystemDevice `json:"devices,omitempty"`
}

type SystemInfo struct {
	PythonVersion string `json:"python_version,omitempty"`
	TorchVersion  string `json:"torch_version,omitempty"`
}

type SystemDevice struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	VRAMTotal int64  `json:"vram_total,omitempty"`
	VRAMFree  int64  `json:"vram_free,omitempty"`
}

// promptResponse is the backend's acknowledgment of a submitted workflow. The
// handle field has drifted across backend versions, so all known spellings are
// accepted.
type promptResponse struct {
	PromptID  string `json:"prompt_id"`
	PromptID2 string `json:"promptId"`
	NodeID    string `json:"node_id"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

func (r promptResponse) handle() string {
	if r.PromptID != "" {
		return r.PromptID
	}
	if r.PromptID2 != "" {
		return r.PromptID2
	}
	return r.NodeID
}

// historyEntry is one job's record in the backend's /history response.
type historyEntry struct {
	Status struct {
		StatusStr string            `json:"status_str"`
		Completed bool              `json:"completed"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs map[string]nodeOutput `json:"outputs"`
}

// nodeOutput carries the media references a single graph node produced.
// Different node types report under different keys.
type nodeOutput struct {
	Images []outputFile `json:"images"`
	Gifs   []outputFile `json:"gifs"`
	Videos []outputFile `json:"videos"`
}

type outputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}
