package model

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Brownie44l1/asl-api/internal/metrics"
)

// Classifier is a loaded model. Run takes a flattened input tensor of
// InputShape and returns OutputSize scores.
type Classifier interface {
	Run(input []float32) ([]float32, error)
	InputShape() []int64
	OutputSize() int
	Close() error
}

// Loader builds a Classifier from an uncompressed model file.
type Loader func(path string, meta Metadata) (Classifier, error)

// DefaultMaxDecompressedBytes caps the size of a decompressed artifact.
const DefaultMaxDecompressedBytes int64 = 1 << 30

var gzipMagic = []byte{0x1f, 0x8b}

// Provisioner resolves a model artifact into a Classifier once and hands out
// the same instance afterwards.
type Provisioner struct {
	ModelPath            string
	Metadata             Metadata
	Load                 Loader
	TempDir              string // "" uses os.TempDir
	MaxDecompressedBytes int64  // 0 uses DefaultMaxDecompressedBytes
	Logger               *slog.Logger
	Metrics              *metrics.Metrics

	mu         sync.Mutex
	done       bool
	classifier Classifier
	err        error
}

// Classifier loads the model on first use. Later calls return the cached
// classifier, or the cached error if the first load failed: the artifact does
// not change while the process runs, so a failed load is not retried.
func (p *Provisioner) Classifier() (Classifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return p.classifier, p.err
	}
	p.done = true

	start := time.Now()
	c, compressed, err := p.provision()
	p.Metrics.RecordModelLoad(compressed, time.Since(start), err)
	if err != nil {
		p.err = err
		p.log().Error("model load failed",
			"path", p.ModelPath,
			"compressed", compressed,
			"error", err)
		return nil, err
	}

	p.classifier = c
	p.log().Info("model loaded",
		"path", p.ModelPath,
		"compressed", compressed,
		"input_shape", c.InputShape(),
		"classes", c.OutputSize(),
		"duration", time.Since(start))
	return c, nil
}

// Close releases the cached classifier. The provisioner does not load again
// after Close.
func (p *Provisioner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = true
	if p.classifier == nil {
		return nil
	}
	err := p.classifier.Close()
	p.classifier = nil
	p.err = fmt.Errorf("%w: classifier closed", ErrArtifact)
	p.Metrics.RecordModelUnloaded()
	return err
}

func (p *Provisioner) provision() (Classifier, bool, error) {
	if p.Load == nil {
		return nil, false, fmt.Errorf("%w: no loader configured", ErrArtifact)
	}

	compressed, err := IsCompressed(p.ModelPath)
	if err != nil {
		return nil, false, err
	}
	if !compressed {
		c, err := p.load(p.ModelPath)
		return c, false, err
	}

	c, err := p.loadCompressed()
	return c, true, err
}

func (p *Provisioner) load(path string) (Classifier, error) {
	c, err := p.Load(path, p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load %s: %v", ErrArtifact, p.ModelPath, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: loader returned no classifier for %s", ErrArtifact, p.ModelPath)
	}
	return c, nil
}

// loadCompressed inflates the artifact into a temp file, loads it and removes
// the temp file whatever the outcome.
func (p *Provisioner) loadCompressed() (Classifier, error) {
	src, err := os.Open(p.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	defer src.Close()

	zr, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid gzip header in %s: %v", ErrArtifact, p.ModelPath, err)
	}
	defer zr.Close()

	tmp, err := os.CreateTemp(p.TempDir, tempPattern(p.ModelPath))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp file: %v", ErrArtifact, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.log().Warn("failed to remove decompressed model", "path", tmpPath, "error", err)
		}
	}()

	limit := p.MaxDecompressedBytes
	if limit <= 0 {
		limit = DefaultMaxDecompressedBytes
	}

	n, copyErr := io.Copy(tmp, io.LimitReader(zr, limit+1))
	closeErr := tmp.Close()
	switch {
	case copyErr != nil:
		return nil, fmt.Errorf("%w: failed to decompress %s: %v", ErrArtifact, p.ModelPath, copyErr)
	case n > limit:
		return nil, fmt.Errorf("%w: decompressed model exceeds %d bytes", ErrArtifact, limit)
	case closeErr != nil:
		return nil, fmt.Errorf("%w: failed to write decompressed model: %v", ErrArtifact, closeErr)
	}

	p.log().Debug("model decompressed", "path", p.ModelPath, "temp", tmpPath, "bytes", n)
	return p.load(tmpPath)
}

func (p *Provisioner) log() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// IsCompressed reports whether path starts with the gzip magic bytes.
func IsCompressed(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	defer f.Close()

	head := make([]byte, len(gzipMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrArtifact, err)
	}
	return head[0] == gzipMagic[0] && head[1] == gzipMagic[1], nil
}

// tempPattern keeps the inner extension so extension-based backend
// selection still works: model.onnx.gz -> asl-model-*.onnx.
func tempPattern(path string) string {
	base := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(base), ".gz") {
		base = base[:len(base)-len(".gz")]
	}
	return "asl-model-*" + filepath.Ext(base)
}
