package comfy

import (
	"errors"
	"fmt"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

// ErrUnknownKind is returned when no workflow template is registered for a
// job kind.
var ErrUnknownKind = errors.New("unknown job kind")

// Builder maps a generic parameter record onto the node graph a job kind
// expects. The mapping is a pure, backend-specific concern; the engine only
// sees the finished graph.
type Builder interface {
	Build(kind string, params map[string]any) (map[string]any, error)
}

// BuildFunc produces one kind's graph from its parameters.
type BuildFunc func(params map[string]any) (map[string]any, error)

// Registry is a Builder backed by per-kind template functions.
type Registry struct {
	templates map[string]BuildFunc
}

// NewRegistry creates a registry preloaded with the built-in workflow
// templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]BuildFunc)}
	r.Register(model.KindMultiTalk, buildMultiTalk)
	r.Register(model.KindImageToImage, buildImageToImage)
	r.Register(model.KindStyleTransfer, buildStyleTransfer)
	return r
}

// Register adds or replaces the template for a kind.
func (r *Registry) Register(kind string, fn BuildFunc) {
	r.templates[kind] = fn
}

// Build implements Builder.
func (r *Registry) Build(kind string, params map[string]any) (map[string]any, error) {
	fn, ok := r.templates[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return fn(params)
}

// stringParam reads a required string parameter.
func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("parameter %q is required", key)
	}
	return v, nil
}

// intParam reads an integer parameter with a default. JSON decoding delivers
// numbers as float64.
func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func buildMultiTalk(params map[string]any) (map[string]any, error) {
	image, err := stringParam(params, "image")
	if err != nil {
		return nil, err
	}
	audio, err := stringParam(params, "audio")
	if err != nil {
		return nil, err
	}

	width := intParam(params, "width", 640)
	height := intParam(params, "height", 640)

	return map[string]any{
		"1": node("LoadImage", map[string]any{"image": image}),
		"2": node("LoadAudio", map[string]any{"audio": audio}),
		"3": node("MultiTalkGenerate", map[string]any{
			"image":         link("1", 0),
			"audio":         link("2", 0),
			"width":         width,
			"height":        height,
			"trim_to_audio": boolParam(params, "trim_to_audio", true),
		}),
		"4": node("VHS_VideoCombine", map[string]any{
			"images":          link("3", 0),
			"audio":           link("2", 0),
			"filename_prefix": "multitalk",
		}),
	}, nil
}

func buildImageToImage(params map[string]any) (map[string]any, error) {
	image, err := stringParam(params, "image")
	if err != nil {
		return nil, err
	}
	prompt, err := stringParam(params, "prompt")
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"1": node("LoadImage", map[string]any{"image": image}),
		"2": node("CLIPTextEncode", map[string]any{"text": prompt}),
		"3": node("KSampler", map[string]any{
			"image":    link("1", 0),
			"positive": link("2", 0),
			"steps":    intParam(params, "steps", 20),
			"denoise":  params["denoise"],
		}),
		"4": node("SaveImage", map[string]any{
			"images":          link("3", 0),
			"filename_prefix": "img2img",
		}),
	}, nil
}

func buildStyleTransfer(params map[string]any) (map[string]any, error) {
	content, err := stringParam(params, "image")
	if err != nil {
		return nil, err
	}
	style, err := stringParam(params, "style_image")
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"1": node("LoadImage", map[string]any{"image": content}),
		"2": node("LoadImage", map[string]any{"image": style}),
		"3": node("StyleModelApply", map[string]any{
			"image":    link("1", 0),
			"style":    link("2", 0),
			"strength": params["strength"],
		}),
		"4": node("SaveImage", map[string]any{
			"images":          link("3", 0),
			"filename_prefix": "style_transfer",
		}),
	}, nil
}

func boolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

func node(classType string, inputs map[string]any) map[string]any {
	return map[string]any{
		"class_type": classType,
		"inputs":     inputs,
	}
}

// link references another node's output slot in graph input position.
func link(nodeID string, slot int) []any {
	return []any{nodeID, slot}
}
