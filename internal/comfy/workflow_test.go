package comfy

import (
	"errors"
	"testing"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

func TestRegistryUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("does-not-exist", nil)
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestBuildMultiTalk(t *testing.T) {
	r := NewRegistry()
	graph, err := r.Build(model.KindMultiTalk, map[string]any{
		"image":  "face.png",
		"audio":  "voice.wav",
		"width":  float64(768),
		"height": float64(512),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	gen, ok := graph["3"].(map[string]any)
	if !ok {
		t.Fatalf("graph missing generate node: %v", graph)
	}
	inputs := gen["inputs"].(map[string]any)
	if inputs["width"] != 768 || inputs["height"] != 512 {
		t.Errorf("dimensions not mapped: %v", inputs)
	}
}

func TestBuildMultiTalkRequiresMedia(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Build(model.KindMultiTalk, map[string]any{"image": "face.png"}); err == nil {
		t.Error("expected error when audio is missing")
	}
	if _, err := r.Build(model.KindMultiTalk, map[string]any{"audio": "voice.wav"}); err == nil {
		t.Error("expected error when image is missing")
	}
}

func TestBuildImageToImageDefaults(t *testing.T) {
	r := NewRegistry()
	graph, err := r.Build(model.KindImageToImage, map[string]any{
		"image":  "in.png",
		"prompt": "a watercolor fox",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sampler := graph["3"].(map[string]any)["inputs"].(map[string]any)
	if sampler["steps"] != 20 {
		t.Errorf("steps = %v, want default 20", sampler["steps"])
	}
}

func TestRegisterOverridesTemplate(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", func(params map[string]any) (map[string]any, error) {
		return map[string]any{"only": "node"}, nil
	})
	graph, err := r.Build("custom", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if graph["only"] != "node" {
		t.Errorf("graph = %v", graph)
	}
}
