package series

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultWindowSize is the model input length in days.
	DefaultWindowSize = 30

	// DefaultMinHistory is the fewest raw days a forecast will be attempted on.
	DefaultMinHistory = 7

	// DefaultStdFloor replaces a degenerate standard deviation.
	DefaultStdFloor = 1.0

	// StdEpsilon is the threshold below which a standard deviation is degenerate.
	StdEpsilon = 1e-8
)

// ErrInsufficientHistory is returned when a location has fewer raw days than
// the minimum history.
var ErrInsufficientHistory = errors.New("insufficient history")

// PreprocessorConfig holds configuration for the preprocessor.
type PreprocessorConfig struct {
	// Store supplies raw histories.
	Store Store

	// WindowSize is the fixed window length (default: 30).
	WindowSize int

	// MinHistory is the minimum raw history length (default: 7).
	MinHistory int

	// StdFloor replaces a standard deviation below StdEpsilon (default: 1.0).
	StdFloor float64
}

// Preprocessor builds fixed-length model input windows from stored histories.
type Preprocessor struct {
	store      Store
	windowSize int
	minHistory int
	stdFloor   float64
}

// NewPreprocessor creates a new Preprocessor.
func NewPreprocessor(cfg PreprocessorConfig) *Preprocessor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = DefaultMinHistory
	}
	if cfg.StdFloor <= 0 {
		cfg.StdFloor = DefaultStdFloor
	}
	return &Preprocessor{
		store:      cfg.Store,
		windowSize: cfg.WindowSize,
		minHistory: cfg.MinHistory,
		stdFloor:   cfg.StdFloor,
	}
}

// WindowSize returns the configured window length.
func (p *Preprocessor) WindowSize() int {
	return p.windowSize
}

// Window is a fixed-length history slice ready for normalization.
type Window struct {
	// Location the history belongs to.
	Location string

	// Values has exactly WindowSize entries, oldest first.
	Values []float64

	// History is the raw history the window was built from, oldest first.
	History []Sample

	// Padded is how many leading entries are mean padding.
	Padded int
}

// BuildWindow fetches a location's history and turns it into a Window.
func (p *Preprocessor) BuildWindow(ctx context.Context, location string) (*Window, error) {
	history, err := p.store.History(ctx, location, p.windowSize)
	if err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", location, err)
	}

	values, padded, err := p.Pad(Values(history))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}

	return &Window{
		Location: location,
		Values:   values,
		History:  history,
		Padded:   padded,
	}, nil
}

// Pad truncates raw to the most recent WindowSize values and left-pads a
// shorter series with the mean of its values. It returns the window and the
// number of padding entries.
func (p *Preprocessor) Pad(raw []float64) ([]float64, int, error) {
	if len(raw) < p.minHistory {
		return nil, 0, fmt.Errorf("%w: need at least %d days, have %d",
			ErrInsufficientHistory, p.minHistory, len(raw))
	}

	if len(raw) >= p.windowSize {
		out := make([]float64, p.windowSize)
		copy(out, raw[len(raw)-p.windowSize:])
		return out, 0, nil
	}

	mean := stat.Mean(raw, nil)
	padded := p.windowSize - len(raw)

	out := make([]float64, p.windowSize)
	for i := 0; i < padded; i++ {
		out[i] = mean
	}
	copy(out[padded:], raw)
	return out, padded, nil
}

// Normalized is a z-scored window together with the statistics that produced it.
// The same Mean and Std must be used to invert model outputs.
type Normalized struct {
	Values []float64
	Mean   float64
	Std    float64

	// Floored is true when the raw standard deviation was degenerate and
	// Std holds the floor value instead.
	Floored bool
}

// Normalize z-scores window values with their population mean and standard
// deviation, substituting the floor for a degenerate deviation.
func (p *Preprocessor) Normalize(values []float64) Normalized {
	mean, std := stat.PopMeanStdDev(values, nil)

	floored := false
	if !(std >= StdEpsilon) {
		std = p.stdFloor
		floored = true
	}

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - mean) / std
	}

	return Normalized{
		Values:  out,
		Mean:    mean,
		Std:     std,
		Floored: floored,
	}
}

// Denormalize maps a value in normalized space back to AQI units.
func (n Normalized) Denormalize(v float64) float64 {
	return v*n.Std + n.Mean
}
