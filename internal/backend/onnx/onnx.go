// Package onnx runs classifiers through ONNX Runtime.
package onnx

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/asl-api/internal/model"
)

var (
	envOnce sync.Once
	envErr  error
)

// Init loads the ONNX Runtime shared library and creates the environment.
// Only the first call has any effect.
func Init(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return envErr
}

// Shutdown destroys the ONNX Runtime environment.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// Classifier is an ONNX session with pre-allocated input and output
// tensors. Run is not safe for concurrent use.
type Classifier struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputShape   []int64
	outputSize   int
}

// NewLoader returns a model.Loader that initializes ONNX Runtime from
// libraryPath on first use.
func NewLoader(libraryPath string) model.Loader {
	return func(path string, meta model.Metadata) (model.Classifier, error) {
		if err := Init(libraryPath); err != nil {
			return nil, err
		}
		return New(path, meta)
	}
}

// New creates a session for the model at path using the tensor contract in
// meta. Init must have succeeded.
func New(path string, meta model.Metadata) (*Classifier, error) {
	inputName, outputName := meta.InputName, meta.OutputName
	if inputName == "" {
		inputName = "input"
	}
	if outputName == "" {
		outputName = "output"
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Classifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputShape:   append([]int64(nil), meta.InputShape...),
		outputSize:   meta.OutputSize(),
	}, nil
}

// Run copies input into the session tensor, runs the graph and returns a copy
// of the output scores.
func (c *Classifier) Run(input []float32) ([]float32, error) {
	dst := c.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("%w: got %d values, session expects %d", model.ErrShapeMismatch, len(input), len(dst))
	}
	copy(dst, input)

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := c.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

// InputShape implements model.Classifier.
func (c *Classifier) InputShape() []int64 { return c.inputShape }

// OutputSize implements model.Classifier.
func (c *Classifier) OutputSize() int { return c.outputSize }

// Close destroys the session and its tensors.
func (c *Classifier) Close() error {
	var errs []error
	if c.session != nil {
		errs = append(errs, c.session.Destroy())
		c.session = nil
	}
	if c.inputTensor != nil {
		errs = append(errs, c.inputTensor.Destroy())
		c.inputTensor = nil
	}
	if c.outputTensor != nil {
		errs = append(errs, c.outputTensor.Destroy())
		c.outputTensor = nil
	}
	return errors.Join(errs...)
}
