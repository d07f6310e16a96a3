// Package forecast produces next-day AQI forecasts from a trained model, with
// a weighted moving average fallback when the model cannot answer.
package forecast

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrModelInference is returned when a model fails to produce a usable value.
// The engine never surfaces it to callers.
var ErrModelInference = errors.New("model inference failed")

// ErrInvalidModel is returned when model parameters have inconsistent shapes.
var ErrInvalidModel = errors.New("invalid model")

// Model maps a fixed-length normalized window to one normalized scalar.
// Implementations must not mutate their state during Infer so a single Model
// can serve concurrent requests.
type Model interface {
	Infer(window []float64) (float64, error)
}

// Layer holds the parameters of one dense layer. Weights has one row per
// output unit and one column per input, so the layer computes W·x + b.
type Layer struct {
	Weights [][]float64
	Bias    []float64
}

type denseLayer struct {
	weights *mat.Dense
	bias    *mat.VecDense
}

// MLP is a feed-forward network of dense layers with ReLU between them and a
// linear output layer.
type MLP struct {
	layers []denseLayer
	input  int
	output int
}

// NewMLP builds an MLP from layer parameters, validating that the shapes chain.
func NewMLP(layers []Layer) (*MLP, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrInvalidModel)
	}

	m := &MLP{layers: make([]denseLayer, 0, len(layers))}
	prevOut := 0

	for i, l := range layers {
		rows := len(l.Weights)
		if rows == 0 {
			return nil, fmt.Errorf("%w: layer %d has no weights", ErrInvalidModel, i)
		}
		cols := len(l.Weights[0])
		if cols == 0 {
			return nil, fmt.Errorf("%w: layer %d has empty weight rows", ErrInvalidModel, i)
		}
		if i > 0 && cols != prevOut {
			return nil, fmt.Errorf("%w: layer %d expects %d inputs, previous layer produces %d",
				ErrInvalidModel, i, cols, prevOut)
		}
		if len(l.Bias) != rows {
			return nil, fmt.Errorf("%w: layer %d has %d outputs but %d biases",
				ErrInvalidModel, i, rows, len(l.Bias))
		}

		data := make([]float64, 0, rows*cols)
		for r, row := range l.Weights {
			if len(row) != cols {
				return nil, fmt.Errorf("%w: layer %d row %d has %d columns, want %d",
					ErrInvalidModel, i, r, len(row), cols)
			}
			data = append(data, row...)
		}
		bias := make([]float64, rows)
		copy(bias, l.Bias)

		m.layers = append(m.layers, denseLayer{
			weights: mat.NewDense(rows, cols, data),
			bias:    mat.NewVecDense(rows, bias),
		})
		if i == 0 {
			m.input = cols
		}
		prevOut = rows
	}
	m.output = prevOut

	return m, nil
}

// InputSize returns the expected window length.
func (m *MLP) InputSize() int { return m.input }

// OutputSize returns the number of output units.
func (m *MLP) OutputSize() int { return m.output }

// Infer runs a forward pass and returns the first output unit.
func (m *MLP) Infer(window []float64) (out float64, err error) {
	if len(window) != m.input {
		return 0, fmt.Errorf("%w: window has %d values, model expects %d",
			ErrModelInference, len(window), m.input)
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = 0, fmt.Errorf("%w: %v", ErrModelInference, r)
		}
	}()

	x := mat.NewVecDense(len(window), append([]float64(nil), window...))
	for i, l := range m.layers {
		rows, _ := l.weights.Dims()
		y := mat.NewVecDense(rows, nil)
		y.MulVec(l.weights, x)
		y.AddVec(y, l.bias)
		if i < len(m.layers)-1 {
			for j := 0; j < rows; j++ {
				if y.AtVec(j) < 0 {
					y.SetVec(j, 0)
				}
			}
		}
		x = y
	}

	out = x.AtVec(0)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, fmt.Errorf("%w: non-finite output %v", ErrModelInference, out)
	}
	return out, nil
}

// Ensure MLP implements Model interface.
var _ Model = (*MLP)(nil)
