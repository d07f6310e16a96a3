package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"

	"github.com/aqicast/aqicast/internal/series"
)

const (
	// MinAQI and MaxAQI bound model outputs.
	MinAQI = 0
	MaxAQI = 500

	// DefaultFallbackSpan is the number of most recent days the fallback averages.
	DefaultFallbackSpan = 7

	instrumentationName = "github.com/aqicast/aqicast/internal/forecast"
)

// ErrInsufficientHistory is returned when a location has fewer than the
// minimum number of stored days.
var ErrInsufficientHistory = series.ErrInsufficientHistory

// Method tags which path produced a forecast.
type Method string

const (
	MethodModel    Method = "model"
	MethodFallback Method = "fallback"
)

// Forecast is a next-day estimate for one location.
type Forecast struct {
	Location string
	AQI      int
	Method   Method

	// History is the stored history the forecast was computed from, oldest first.
	History []series.Sample
}

// Category returns the forecast's severity band.
func (f Forecast) Category() Category {
	return CategoryFor(f.AQI)
}

// EngineConfig holds configuration for the forecast engine.
type EngineConfig struct {
	// Model is the result of the startup load. Nil means fallback only.
	Model *ModelHandle

	// Preprocessor builds input windows from stored history.
	Preprocessor *series.Preprocessor

	// Logger for engine operations.
	Logger zerolog.Logger

	// FallbackSpan is how many recent days the fallback averages (default: 7).
	FallbackSpan int

	// Tracer and Meter default to the global OpenTelemetry providers.
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Engine chooses between the model and the fallback for every call.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	model        *ModelHandle
	preprocessor *series.Preprocessor
	logger       zerolog.Logger
	fallbackSpan int

	tracer    trace.Tracer
	forecasts metric.Int64Counter
	faults    metric.Int64Counter
}

// NewEngine creates a new forecast engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Preprocessor == nil {
		return nil, errors.New("forecast: preprocessor is required")
	}
	if cfg.Model == nil {
		cfg.Model = UnavailableModel(ErrModelNotLoaded)
	}
	if cfg.FallbackSpan <= 0 {
		cfg.FallbackSpan = DefaultFallbackSpan
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(instrumentationName)
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter(instrumentationName)
	}

	forecasts, err := cfg.Meter.Int64Counter(
		"aqi.forecasts",
		metric.WithDescription("Forecasts produced, by method"),
	)
	if err != nil {
		return nil, fmt.Errorf("create forecast counter: %w", err)
	}
	faults, err := cfg.Meter.Int64Counter(
		"aqi.model.faults",
		metric.WithDescription("Model inference failures absorbed by the fallback"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fault counter: %w", err)
	}

	return &Engine{
		model:        cfg.Model,
		preprocessor: cfg.Preprocessor,
		logger:       cfg.Logger,
		fallbackSpan: cfg.FallbackSpan,
		tracer:       cfg.Tracer,
		forecasts:    forecasts,
		faults:       faults,
	}, nil
}

// Mode returns whether the engine will attempt the model.
func (e *Engine) Mode() Mode {
	return e.model.Mode()
}

// Predict forecasts the next day's AQI for a location.
// It fails only with ErrInsufficientHistory or a store error; model faults
// fall through to the weighted moving average.
func (e *Engine) Predict(ctx context.Context, location string) (Forecast, error) {
	ctx, span := e.tracer.Start(ctx, "forecast.Predict",
		trace.WithAttributes(attribute.String("aqi.location", location)))
	defer span.End()

	window, err := e.preprocessor.BuildWindow(ctx, location)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Forecast{}, err
	}

	fc := Forecast{Location: location, History: window.History}

	if model, ok := e.model.Model(); ok {
		value, err := e.modelPath(model, window.Values)
		if err == nil {
			fc.AQI = value
			fc.Method = MethodModel
			e.record(ctx, span, fc)
			return fc, nil
		}

		e.faults.Add(ctx, 1)
		span.RecordError(err)
		e.logger.Warn().
			Err(err).
			Str("location", location).
			Msg("model inference failed, using fallback")
	}

	fc.AQI = FallbackEstimate(series.Values(window.History), e.fallbackSpan)
	fc.Method = MethodFallback
	e.record(ctx, span, fc)
	return fc, nil
}

func (e *Engine) modelPath(model Model, values []float64) (int, error) {
	norm := e.preprocessor.Normalize(values)

	out, err := safeInfer(model, norm.Values)
	if err != nil {
		return 0, err
	}

	raw := norm.Denormalize(out)
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, fmt.Errorf("%w: denormalized output %v", ErrModelInference, raw)
	}

	e.logger.Debug().
		Float64("mean", norm.Mean).
		Float64("std", norm.Std).
		Bool("std_floored", norm.Floored).
		Float64("raw", raw).
		Msg("model inference")

	return ClampAQI(raw), nil
}

func (e *Engine) record(ctx context.Context, span trace.Span, fc Forecast) {
	span.SetAttributes(
		attribute.String("aqi.method", string(fc.Method)),
		attribute.Int("aqi.value", fc.AQI),
	)
	e.forecasts.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(fc.Method))))
}

// safeInfer runs inference, converting errors and panics into ErrModelInference.
func safeInfer(model Model, window []float64) (out float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = 0, fmt.Errorf("%w: panic: %v", ErrModelInference, r)
		}
	}()

	out, err = model.Infer(window)
	if err != nil {
		if errors.Is(err, ErrModelInference) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrModelInference, err)
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, fmt.Errorf("%w: non-finite output %v", ErrModelInference, out)
	}
	return out, nil
}

// ClampAQI rounds v to the nearest integer within [MinAQI, MaxAQI].
func ClampAQI(v float64) int {
	return int(math.Round(math.Max(MinAQI, math.Min(MaxAQI, v))))
}

// FallbackWeights returns exp(linspace(-1, 0, k)) normalized to sum to 1.
// The last weight is the largest.
func FallbackWeights(k int) []float64 {
	if k <= 0 {
		return nil
	}
	w := make([]float64, k)
	if k == 1 {
		w[0] = 1
		return w
	}
	floats.Span(w, -1, 0)
	for i := range w {
		w[i] = math.Exp(w[i])
	}
	floats.Scale(1/floats.Sum(w), w)
	return w
}

// FallbackEstimate is the exponentially weighted average of the most recent
// min(span, len(values)) values, rounded to the nearest integer.
func FallbackEstimate(values []float64, span int) int {
	k := span
	if len(values) < k {
		k = len(values)
	}
	if k == 0 {
		return 0
	}
	recent := values[len(values)-k:]
	return int(math.Round(floats.Dot(FallbackWeights(k), recent)))
}
