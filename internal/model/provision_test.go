package model

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/asl-api/internal/metrics"
	"github.com/Brownie44l1/asl-api/internal/preprocess"
)

var modelBytes = []byte("serialized-asl-mobilenet-weights-v1\x00\x01\x02\x03")

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files left behind")
}

// recordingLoader wraps a loader and records every path it was handed.
type recordingLoader struct {
	mu    sync.Mutex
	paths []string
	next  Loader
}

func (r *recordingLoader) load(path string, meta Metadata) (Classifier, error) {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	return r.next(path, meta)
}

func TestProvisioner_PlainArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "model.onnx", modelBytes)
	rec := &recordingLoader{next: loadWeightsClassifier}

	p := &Provisioner{ModelPath: path, Metadata: DefaultMetadata(), Load: rec.load}

	first, err := p.Classifier()
	require.NoError(t, err)
	second, err := p.Classifier()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []string{path}, rec.paths, "loader must run once")
}

func TestProvisioner_CompressedArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tmpDir := t.TempDir()
	path := writeFile(t, dir, "model.onnx.gz", gzipBytes(t, modelBytes))

	var seen []byte
	rec := &recordingLoader{next: func(p string, meta Metadata) (Classifier, error) {
		var err error
		seen, err = os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		return loadWeightsClassifier(p, meta)
	}}

	p := &Provisioner{ModelPath: path, Metadata: DefaultMetadata(), Load: rec.load, TempDir: tmpDir}
	c, err := p.Classifier()
	require.NoError(t, err)
	require.NotNil(t, c)

	require.Len(t, rec.paths, 1)
	assert.Equal(t, tmpDir, filepath.Dir(rec.paths[0]))
	assert.Equal(t, ".onnx", filepath.Ext(rec.paths[0]))
	assert.Equal(t, modelBytes, seen)
	assertDirEmpty(t, tmpDir)
}

func TestProvisioner_CompressedMatchesPlain(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	plain := &Provisioner{
		ModelPath: writeFile(t, dir, "model.onnx", modelBytes),
		Metadata:  DefaultMetadata(),
		Load:      loadWeightsClassifier,
	}
	packed := &Provisioner{
		ModelPath: writeFile(t, dir, "model.onnx.gz", gzipBytes(t, modelBytes)),
		Metadata:  DefaultMetadata(),
		Load:      loadWeightsClassifier,
		TempDir:   t.TempDir(),
	}

	pre, err := preprocess.New(128, preprocess.Mobilenet)
	require.NoError(t, err)
	tensor, err := pre.Tensor(noiseImage(200, 150, 3))
	require.NoError(t, err)

	predict := func(p *Provisioner) []Prediction {
		c, err := p.Classifier()
		require.NoError(t, err)
		e, err := NewEngine(c, DefaultMetadata())
		require.NoError(t, err)
		top, err := e.Predict(tensor)
		require.NoError(t, err)
		return top
	}

	assert.Equal(t, predict(plain), predict(packed))
}

func TestProvisioner_TempFileRemovedWhenLoadFails(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	path := writeFile(t, t.TempDir(), "model.tflite.gz", gzipBytes(t, modelBytes))

	loadErr := errors.New("unsupported opset")
	var loadedFrom string
	p := &Provisioner{
		ModelPath: path,
		Metadata:  DefaultMetadata(),
		TempDir:   tmpDir,
		Load: func(path string, _ Metadata) (Classifier, error) {
			loadedFrom = path
			_, err := os.Stat(path)
			require.NoError(t, err, "temp file must exist while loading")
			return nil, loadErr
		},
	}

	_, err := p.Classifier()
	require.ErrorIs(t, err, ErrArtifact)
	assert.Contains(t, err.Error(), "unsupported opset")
	assert.Equal(t, ".tflite", filepath.Ext(loadedFrom))
	assertDirEmpty(t, tmpDir)
}

func TestProvisioner_FailureIsCached(t *testing.T) {
	t.Parallel()

	calls := 0
	p := &Provisioner{
		ModelPath: writeFile(t, t.TempDir(), "model.onnx", modelBytes),
		Metadata:  DefaultMetadata(),
		Load: func(string, Metadata) (Classifier, error) {
			calls++
			return nil, errors.New("bad model")
		},
	}

	_, err1 := p.Classifier()
	_, err2 := p.Classifier()
	assert.ErrorIs(t, err1, ErrArtifact)
	assert.Equal(t, err1, err2)
	assert.Equal(t, 1, calls)
}

func TestProvisioner_ArtifactErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	corrupt := append([]byte{0x1f, 0x8b}, []byte("not really gzip at all")...)
	truncated := gzipBytes(t, bytes.Repeat(modelBytes, 100))
	truncated = truncated[:len(truncated)/2]

	tests := []struct {
		name     string
		path     string
		maxBytes int64
		load     Loader
	}{
		{"missing file", filepath.Join(dir, "absent.onnx"), 0, loadWeightsClassifier},
		{"corrupt gzip header", writeFile(t, dir, "corrupt.onnx.gz", corrupt), 0, loadWeightsClassifier},
		{"truncated gzip stream", writeFile(t, dir, "truncated.onnx.gz", truncated), 0, loadWeightsClassifier},
		{"decompressed too large", writeFile(t, dir, "big.onnx.gz", gzipBytes(t, modelBytes)), 8, loadWeightsClassifier},
		{"no loader", writeFile(t, dir, "noloader.onnx", modelBytes), 0, nil},
		{"loader returns nil", writeFile(t, dir, "nil.onnx", modelBytes), 0, func(string, Metadata) (Classifier, error) { return nil, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tmpDir := t.TempDir()
			p := &Provisioner{
				ModelPath:            tt.path,
				Metadata:             DefaultMetadata(),
				Load:                 tt.load,
				TempDir:              tmpDir,
				MaxDecompressedBytes: tt.maxBytes,
			}
			c, err := p.Classifier()
			assert.Nil(t, c)
			assert.ErrorIs(t, err, ErrArtifact)
			assertDirEmpty(t, tmpDir)
		})
	}
}

func TestProvisioner_Close(t *testing.T) {
	t.Parallel()

	fake := newFakeClassifier(uniformScores(26))
	p := &Provisioner{
		ModelPath: writeFile(t, t.TempDir(), "model.onnx", modelBytes),
		Metadata:  DefaultMetadata(),
		Load:      func(string, Metadata) (Classifier, error) { return fake, nil },
	}

	_, err := p.Classifier()
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, fake.closed)

	_, err = p.Classifier()
	assert.ErrorIs(t, err, ErrArtifact)
	assert.NoError(t, p.Close(), "second close is a no-op")
}

func TestProvisioner_RecordsMetrics(t *testing.T) {
	t.Parallel()

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	p := &Provisioner{
		ModelPath: writeFile(t, t.TempDir(), "model.onnx.gz", gzipBytes(t, modelBytes)),
		Metadata:  DefaultMetadata(),
		Load:      loadWeightsClassifier,
		TempDir:   t.TempDir(),
		Metrics:   m,
	}
	_, err = p.Classifier()
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.ModelLoadTotal.WithLabelValues("success", "true")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ModelLoadedGauge), 0)
}

func TestIsCompressed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	ok, err := IsCompressed(writeFile(t, dir, "a.gz", gzipBytes(t, modelBytes)))
	require.NoError(t, err)
	assert.True(t, ok)

	// Detection is by content, not name.
	ok, err = IsCompressed(writeFile(t, dir, "b.gz", modelBytes))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = IsCompressed(writeFile(t, dir, "tiny", []byte{0x1f}))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = IsCompressed(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrArtifact)
}

func TestTempPattern(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"models/asl.onnx.gz", "asl-model-*.onnx"},
		{"asl.tflite.GZ", "asl-model-*.tflite"},
		{"/srv/asl.onnx", "asl-model-*.onnx"},
		{"asl_mobilenet_model", "asl-model-*"},
		{"asl_mobilenet.h5.gz", "asl-model-*.h5"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tempPattern(tt.in), tt.in)
	}
}
