package model

import (
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Brownie44l1/asl-api/internal/metrics"
	"github.com/Brownie44l1/asl-api/internal/preprocess"
)

// DefaultTopK is the number of ranked letters returned per image.
const DefaultTopK = 3

// Engine runs preprocess → inference → ranking against one classifier.
type Engine struct {
	classifier Classifier
	meta       Metadata
	labels     []string
	pre        *preprocess.Preprocessor
	topK       int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// Backends reuse pre-allocated input and output tensors.
	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithTopK sets how many predictions are returned.
func WithTopK(k int) Option {
	return func(e *Engine) { e.topK = k }
}

// WithLabels replaces the A..Z label set.
func WithLabels(labels []string) Option {
	return func(e *Engine) { e.labels = append([]string(nil), labels...) }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records inference metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine validates c against meta and the label set and returns an Engine
// ready to serve predictions.
func NewEngine(c Classifier, meta Metadata, opts ...Option) (*Engine, error) {
	if c == nil {
		return nil, errors.New("classifier is required")
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifact, err)
	}

	norm, err := preprocess.ParseNormalization(meta.Normalization)
	if err != nil {
		return nil, err
	}
	pre, err := preprocess.New(meta.ImageSize, norm)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		classifier: c,
		meta:       meta,
		labels:     Letters(),
		pre:        pre,
		topK:       DefaultTopK,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	want := pre.Shape()
	if got := c.InputShape(); !equalShape(got, want[:]) {
		return nil, fmt.Errorf("%w: classifier expects input %v, preprocessor produces %v", ErrShapeMismatch, got, want)
	}
	if err := ValidateLabels(e.labels, c.OutputSize(), meta.Classes); err != nil {
		return nil, err
	}
	if e.topK < 1 || e.topK > len(e.labels) {
		return nil, fmt.Errorf("%w: top-k %d outside 1..%d", ErrShapeMismatch, e.topK, len(e.labels))
	}

	return e, nil
}

// Labels returns a copy of the label set in output order.
func (e *Engine) Labels() []string { return append([]string(nil), e.labels...) }

// TopK returns the number of predictions returned per call.
func (e *Engine) TopK() int { return e.topK }

// Preprocessor returns the preprocessor matching the classifier input.
func (e *Engine) Preprocessor() *preprocess.Preprocessor { return e.pre }

// TensorLen returns the flattened input length the classifier expects.
func (e *Engine) TensorLen() int {
	t := preprocess.Tensor{Shape: e.pre.Shape()}
	return t.Len()
}

// Scores runs the classifier on t and returns one probability per label.
func (e *Engine) Scores(t *preprocess.Tensor) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if t.Shape != e.pre.Shape() || len(t.Data) != t.Len() {
		return nil, fmt.Errorf("%w: got shape %v with %d values, want %v", ErrShapeMismatch, t.Shape, len(t.Data), e.pre.Shape())
	}

	e.mu.Lock()
	start := time.Now()
	out, err := e.classifier.Run(t.Data)
	elapsed := time.Since(start)
	e.mu.Unlock()

	e.metrics.RecordInference(elapsed)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	if len(out) != len(e.labels) {
		return nil, fmt.Errorf("%w: classifier returned %d scores for %d labels", ErrShapeMismatch, len(out), len(e.labels))
	}

	probs := make([]float32, len(out))
	copy(probs, out)
	if e.meta.OutputActivation == ActivationLogits {
		Softmax(probs)
	}
	return probs, nil
}

// Predict ranks the classifier output for t.
func (e *Engine) Predict(t *preprocess.Tensor) ([]Prediction, error) {
	probs, err := e.Scores(t)
	if err == nil {
		var top []Prediction
		top, err = Rank(probs, e.labels, e.topK)
		if err == nil {
			e.metrics.RecordPrediction(top[0].Label)
			return top, nil
		}
	}

	kind := ErrorKind(err)
	e.metrics.RecordPredictionError(kind)
	if errors.Is(err, ErrShapeMismatch) {
		e.logger.Error("classifier contract violated", "error", err)
	}
	return nil, err
}

// PredictRaw wraps a flattened NHWC tensor and predicts on it.
func (e *Engine) PredictRaw(data []float32) ([]Prediction, error) {
	return e.Predict(&preprocess.Tensor{Shape: e.pre.Shape(), Data: data})
}

// Classify preprocesses img and predicts on it.
func (e *Engine) Classify(img image.Image) ([]Prediction, error) {
	t, err := e.pre.Tensor(img)
	if err != nil {
		e.metrics.RecordDecodeError()
		return nil, err
	}
	return e.Predict(t)
}

// ClassifyReader decodes a JPEG or PNG image from r and classifies it.
// Undecodable input returns ErrDecode and runs no inference.
func (e *Engine) ClassifyReader(r io.Reader) ([]Prediction, error) {
	img, format, err := preprocess.Decode(r)
	if err != nil {
		e.metrics.RecordDecodeError()
		return nil, err
	}
	e.logger.Debug("image decoded",
		"format", format,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy())
	return e.Classify(img)
}
