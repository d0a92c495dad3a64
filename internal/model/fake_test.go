package model

import (
	"errors"
	"hash/fnv"
	"os"
	"sync"
)

// fakeClassifier returns fixed scores, or scores computed by fn.
type fakeClassifier struct {
	shape  []int64
	size   int
	scores []float32
	fn     func(in []float32) []float32
	err    error

	mu     sync.Mutex
	runs   int
	closed bool
}

func newFakeClassifier(scores []float32) *fakeClassifier {
	return &fakeClassifier{
		shape:  []int64{1, 128, 128, 3},
		size:   len(scores),
		scores: scores,
	}
}

func (f *fakeClassifier) Run(in []float32) ([]float32, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.fn != nil {
		return f.fn(in), nil
	}
	return append([]float32(nil), f.scores...), nil
}

func (f *fakeClassifier) InputShape() []int64 { return f.shape }
func (f *fakeClassifier) OutputSize() int     { return f.size }

func (f *fakeClassifier) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed twice")
	}
	f.closed = true
	return nil
}

// weightsClassifier derives deterministic weights from the bytes of the
// model file it was loaded from, so two files with equal content predict the
// same thing.
type weightsClassifier struct {
	weights []float32
}

func loadWeightsClassifier(path string, meta Metadata) (Classifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 8 {
		return nil, errors.New("model file too short")
	}
	h := fnv.New32a()
	weights := make([]float32, meta.OutputSize())
	for i := range weights {
		h.Write(raw)
		h.Write([]byte{byte(i)})
		weights[i] = float32(h.Sum32()%1000) / 1000
	}
	return &weightsClassifier{weights: weights}, nil
}

func (w *weightsClassifier) Run(in []float32) ([]float32, error) {
	var mean float32
	for _, v := range in {
		mean += v
	}
	mean /= float32(len(in))

	out := make([]float32, len(w.weights))
	for i, wt := range w.weights {
		out[i] = wt * (mean + 2)
	}
	Softmax(out)
	return out, nil
}

func (w *weightsClassifier) InputShape() []int64 { return []int64{1, 128, 128, 3} }
func (w *weightsClassifier) OutputSize() int     { return len(w.weights) }
func (w *weightsClassifier) Close() error        { return nil }

func uniformScores(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 1 / float32(n)
	}
	return s
}
