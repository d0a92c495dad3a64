// Package tflite runs classifiers through the TensorFlow Lite C API.
package tflite

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	tflite "github.com/tphakala/go-tflite"

	"github.com/Brownie44l1/asl-api/internal/model"
)

// Classifier wraps an allocated interpreter. Run is not safe for concurrent
// use.
type Classifier struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputShape  []int64
	outputSize  int
}

// NewLoader returns a model.Loader using threads interpreter threads; 0 uses
// every CPU.
func NewLoader(threads int, logger *slog.Logger) model.Loader {
	return func(path string, _ model.Metadata) (model.Classifier, error) {
		return New(path, threads, logger)
	}
}

// New loads the model at path and allocates its tensors.
func New(path string, threads int, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	m := tflite.NewModel(data)
	if m == nil {
		return nil, fmt.Errorf("cannot load TensorFlow Lite model from %s", path)
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, _ any) {
		logger.Error("TFLite error", "message", msg)
	}, nil)

	c := &Classifier{model: m, options: options}

	c.interpreter = tflite.NewInterpreter(m, options)
	if c.interpreter == nil {
		c.Close()
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := c.interpreter.AllocateTensors(); status != tflite.OK {
		c.Close()
		return nil, fmt.Errorf("tensor allocation failed: %v", status)
	}

	in := c.interpreter.GetInputTensor(0)
	out := c.interpreter.GetOutputTensor(0)
	if in == nil || out == nil {
		c.Close()
		return nil, fmt.Errorf("model has no input or output tensor")
	}
	if in.Float32s() == nil || out.Float32s() == nil {
		c.Close()
		return nil, fmt.Errorf("model tensors are not float32")
	}

	inputShape, outputSize, err := tensorContract(in, out)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.inputShape, c.outputSize = inputShape, outputSize

	logger.Info("TFLite interpreter ready",
		"input_shape", c.inputShape,
		"classes", c.outputSize,
		"threads", threads)
	return c, nil
}

// dimensioned is the part of *tflite.Tensor that describes its shape.
type dimensioned interface {
	NumDims() int
	Dim(i int) int
}

// tensorContract returns the input shape and the class count, the size of
// the output's last dimension.
func tensorContract(in, out dimensioned) ([]int64, int, error) {
	if in.NumDims() == 0 || out.NumDims() == 0 {
		return nil, 0, fmt.Errorf("model input or output tensor has no dimensions")
	}

	shape := make([]int64, in.NumDims())
	for i := range shape {
		shape[i] = int64(in.Dim(i))
	}
	return shape, out.Dim(out.NumDims() - 1), nil
}

// Run implements model.Classifier.
func (c *Classifier) Run(input []float32) ([]float32, error) {
	dst := c.interpreter.GetInputTensor(0).Float32s()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("%w: got %d values, interpreter expects %d", model.ErrShapeMismatch, len(input), len(dst))
	}
	copy(dst, input)

	if status := c.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := c.interpreter.GetOutputTensor(0).Float32s()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

// InputShape implements model.Classifier.
func (c *Classifier) InputShape() []int64 { return c.inputShape }

// OutputSize implements model.Classifier.
func (c *Classifier) OutputSize() int { return c.outputSize }

// Close drops the interpreter, its options and the model. go-tflite frees
// the native memory once they become unreachable. Run must not be called
// after Close.
func (c *Classifier) Close() error {
	c.interpreter, c.options, c.model = nil, nil, nil
	return nil
}
