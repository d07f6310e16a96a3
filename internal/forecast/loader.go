package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// WindowSize is the model input length.
	WindowSize = 30

	parametersPrefix = "parameters."
	fcPrefix         = "fc."
)

// ErrModelNotLoaded is recorded by a handle that was created without a model.
var ErrModelNotLoaded = errors.New("model not loaded")

// Mode reports which paths a handle allows.
type Mode string

const (
	// ModeModel means inference is attempted on every request.
	ModeModel Mode = "model"
	// ModeFallbackOnly means loading failed and every forecast uses the fallback.
	ModeFallbackOnly Mode = "fallback-only"
)

// ModelHandle is the immutable result of the one-time model load.
// A handle with a load error stays in fallback-only mode for the life of the
// process; nothing reloads it.
type ModelHandle struct {
	model    Model
	source   string
	err      error
	loadedAt time.Time
}

// NewModelHandle wraps an already constructed model.
func NewModelHandle(model Model, source string) *ModelHandle {
	if model == nil {
		return UnavailableModel(ErrModelNotLoaded)
	}
	return &ModelHandle{model: model, source: source, loadedAt: time.Now()}
}

// UnavailableModel returns a fallback-only handle recording why no model is available.
func UnavailableModel(err error) *ModelHandle {
	if err == nil {
		err = ErrModelNotLoaded
	}
	return &ModelHandle{err: err, loadedAt: time.Now()}
}

// LoadModel reads a JSON model artifact. It never fails: a load error is
// recorded in the returned handle, which then only serves the fallback.
func LoadModel(path string) *ModelHandle {
	data, err := os.ReadFile(path)
	if err != nil {
		return UnavailableModel(fmt.Errorf("read model %s: %w", path, err))
	}

	layers, err := ParseArtifact(data)
	if err != nil {
		return UnavailableModel(fmt.Errorf("parse model %s: %w", path, err))
	}

	mlp, err := NewMLP(layers)
	if err != nil {
		return UnavailableModel(fmt.Errorf("build model %s: %w", path, err))
	}
	if mlp.InputSize() != WindowSize || mlp.OutputSize() != 1 {
		return UnavailableModel(fmt.Errorf("%w: %s maps %d inputs to %d outputs, want %d to 1",
			ErrInvalidModel, path, mlp.InputSize(), mlp.OutputSize(), WindowSize))
	}

	return NewModelHandle(mlp, path)
}

// Model returns the loaded model, or false in fallback-only mode.
func (h *ModelHandle) Model() (Model, bool) {
	if h == nil || h.model == nil {
		return nil, false
	}
	return h.model, true
}

// Err returns the recorded load error, if any.
func (h *ModelHandle) Err() error {
	if h == nil {
		return ErrModelNotLoaded
	}
	return h.err
}

// Mode returns the handle's mode.
func (h *ModelHandle) Mode() Mode {
	if _, ok := h.Model(); ok {
		return ModeModel
	}
	return ModeFallbackOnly
}

// Source returns where the model was loaded from.
func (h *ModelHandle) Source() string {
	if h == nil {
		return ""
	}
	return h.source
}

// LoadedAt returns when the handle was created.
func (h *ModelHandle) LoadedAt() time.Time {
	if h == nil {
		return time.Time{}
	}
	return h.loadedAt
}

// ParseArtifact decodes model parameters from JSON. Two layouts are accepted:
//
//	{"layers": [{"weights": [[...]], "bias": [...]}, ...]}
//
// or a flat exported state dict, either indexed tensors alternating weight and
// bias ("parameters.0", "parameters.1", ...) or named sequential layers
// ("fc.0.weight", "fc.0.bias", "fc.2.weight", ...).
func ParseArtifact(data []byte) ([]Layer, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}

	if layersJSON, ok := raw["layers"]; ok {
		var layers []struct {
			Weights [][]float64 `json:"weights"`
			Bias    []float64   `json:"bias"`
		}
		if err := json.Unmarshal(layersJSON, &layers); err != nil {
			return nil, fmt.Errorf("decode layers: %w", err)
		}
		out := make([]Layer, len(layers))
		for i, l := range layers {
			out[i] = Layer{Weights: l.Weights, Bias: l.Bias}
		}
		return out, nil
	}

	if hasPrefix(raw, parametersPrefix) {
		return parseIndexedParameters(raw)
	}
	if hasPrefix(raw, fcPrefix) {
		return parseSequentialParameters(raw)
	}

	return nil, fmt.Errorf("%w: unrecognized artifact layout", ErrInvalidModel)
}

func hasPrefix(raw map[string]json.RawMessage, prefix string) bool {
	for k := range raw {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func parseIndexedParameters(raw map[string]json.RawMessage) ([]Layer, error) {
	type tensor struct {
		index int
		data  json.RawMessage
	}

	var tensors []tensor
	for k, v := range raw {
		if !strings.HasPrefix(k, parametersPrefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(k, parametersPrefix))
		if err != nil {
			return nil, fmt.Errorf("%w: bad parameter key %q", ErrInvalidModel, k)
		}
		tensors = append(tensors, tensor{index: idx, data: v})
	}
	sort.Slice(tensors, func(i, j int) bool { return tensors[i].index < tensors[j].index })

	if len(tensors)%2 != 0 {
		return nil, fmt.Errorf("%w: %d parameter tensors cannot pair into weight and bias",
			ErrInvalidModel, len(tensors))
	}

	layers := make([]Layer, 0, len(tensors)/2)
	for i := 0; i < len(tensors); i += 2 {
		l, err := decodeLayer(tensors[i].data, tensors[i+1].data)
		if err != nil {
			return nil, fmt.Errorf("parameters.%d: %w", tensors[i].index, err)
		}
		layers = append(layers, l)
	}
	return layers, nil
}

func parseSequentialParameters(raw map[string]json.RawMessage) ([]Layer, error) {
	type pair struct {
		weight json.RawMessage
		bias   json.RawMessage
	}

	byIndex := make(map[int]*pair)
	for k, v := range raw {
		if !strings.HasPrefix(k, fcPrefix) {
			continue
		}
		parts := strings.Split(strings.TrimPrefix(k, fcPrefix), ".")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: bad parameter key %q", ErrInvalidModel, k)
		}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%w: bad parameter key %q", ErrInvalidModel, k)
		}
		p, ok := byIndex[idx]
		if !ok {
			p = &pair{}
			byIndex[idx] = p
		}
		switch parts[1] {
		case "weight":
			p.weight = v
		case "bias":
			p.bias = v
		default:
			return nil, fmt.Errorf("%w: bad parameter key %q", ErrInvalidModel, k)
		}
	}

	indexes := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	layers := make([]Layer, 0, len(indexes))
	for _, idx := range indexes {
		p := byIndex[idx]
		if p.weight == nil || p.bias == nil {
			return nil, fmt.Errorf("%w: fc.%d needs both weight and bias", ErrInvalidModel, idx)
		}
		l, err := decodeLayer(p.weight, p.bias)
		if err != nil {
			return nil, fmt.Errorf("fc.%d: %w", idx, err)
		}
		layers = append(layers, l)
	}
	return layers, nil
}

func decodeLayer(weight, bias json.RawMessage) (Layer, error) {
	var l Layer
	if err := json.Unmarshal(weight, &l.Weights); err != nil {
		return Layer{}, fmt.Errorf("decode weight: %w", err)
	}
	if err := json.Unmarshal(bias, &l.Bias); err != nil {
		return Layer{}, fmt.Errorf("decode bias: %w", err)
	}
	return l, nil
}
