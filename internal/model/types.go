package model

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Brownie44l1/asl-api/internal/preprocess"
)

// Metadata describes the tensor contract of a model artifact. It is read from
// the JSON sidecar shipped next to the model.
type Metadata struct {
	InputShape       []int64  `json:"input_shape"`
	OutputShape      []int64  `json:"output_shape"`
	Classes          []string `json:"classes"`
	ImageSize        int      `json:"image_size"`
	InputName        string   `json:"input_name,omitempty"`
	OutputName       string   `json:"output_name,omitempty"`
	Normalization    string   `json:"normalization,omitempty"`
	OutputActivation string   `json:"output_activation,omitempty"`
}

// Output activations.
const (
	ActivationSoftmax = "softmax" // scores are already probabilities
	ActivationLogits  = "logits"  // engine applies softmax
)

// DefaultMetadata describes the MobileNet ASL alphabet model.
func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:       []int64{1, 128, 128, 3},
		OutputShape:      []int64{1, int64(len(letters))},
		Classes:          Letters(),
		ImageSize:        128,
		InputName:        "input",
		OutputName:       "output",
		Normalization:    string(preprocess.Mobilenet),
		OutputActivation: ActivationSoftmax,
	}
}

// LoadMetadata reads a metadata sidecar. Fields left empty in the file keep
// the values of DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: failed to read metadata: %v", ErrArtifact, err)
	}

	meta := DefaultMetadata()
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: failed to parse metadata: %v", ErrArtifact, err)
	}
	if err := meta.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	return meta, nil
}

// Validate checks the metadata is internally consistent.
func (m Metadata) Validate() error {
	if m.ImageSize <= 0 {
		return fmt.Errorf("image_size must be positive, got %d", m.ImageSize)
	}
	want := []int64{1, int64(m.ImageSize), int64(m.ImageSize), preprocess.Channels}
	if !equalShape(m.InputShape, want) {
		return fmt.Errorf("input_shape %v does not match image_size %d (want %v)", m.InputShape, m.ImageSize, want)
	}
	if len(m.OutputShape) == 0 {
		return fmt.Errorf("output_shape is empty")
	}
	if _, err := preprocess.ParseNormalization(m.Normalization); err != nil {
		return err
	}
	switch m.OutputActivation {
	case "", ActivationSoftmax, ActivationLogits:
	default:
		return fmt.Errorf("unknown output_activation %q", m.OutputActivation)
	}
	return nil
}

// OutputSize returns the class count declared by OutputShape.
func (m Metadata) OutputSize() int {
	if len(m.OutputShape) == 0 {
		return 0
	}
	return int(m.OutputShape[len(m.OutputShape)-1])
}

// Prediction is one ranked label with its confidence as a percentage.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// PredictionRequest carries a raw NHWC tensor for the tensor endpoint.
type PredictionRequest struct {
	Image []float32 `json:"image"`
}

// PredictionResponse is the wire form of a ranked prediction.
type PredictionResponse struct {
	Class      string       `json:"class"`
	Confidence float64      `json:"confidence"`
	Top        []Prediction `json:"top"`
}

// NewPredictionResponse wraps ranked predictions; the first entry is the
// headline class.
func NewPredictionResponse(top []Prediction) *PredictionResponse {
	resp := &PredictionResponse{Top: top}
	if len(top) > 0 {
		resp.Class = top[0].Label
		resp.Confidence = top[0].Confidence
	}
	return resp
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
