package onnx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/asl-api/internal/model"
)

// TestReferenceFixture is a model-quality check. It needs a real model, the
// ONNX Runtime library and a reference photo of the letter A:
//
//	ASL_TEST_MODEL=models/asl_mobilenet.onnx.gz \
//	ASL_TEST_FIXTURE_A=testdata/a.jpg \
//	ASL_ONNX_LIBRARY=/usr/lib/libonnxruntime.so go test ./internal/backend/onnx
func TestReferenceFixture(t *testing.T) {
	modelPath := os.Getenv("ASL_TEST_MODEL")
	fixture := os.Getenv("ASL_TEST_FIXTURE_A")
	if modelPath == "" || fixture == "" {
		t.Skip("ASL_TEST_MODEL and ASL_TEST_FIXTURE_A not set")
	}

	meta := model.DefaultMetadata()
	if p := os.Getenv("ASL_TEST_METADATA"); p != "" {
		var err error
		meta, err = model.LoadMetadata(p)
		require.NoError(t, err)
	}

	prov := &model.Provisioner{
		ModelPath: modelPath,
		Metadata:  meta,
		Load:      NewLoader(os.Getenv("ASL_ONNX_LIBRARY")),
		TempDir:   t.TempDir(),
	}
	t.Cleanup(func() { _ = prov.Close() })

	c, err := prov.Classifier()
	require.NoError(t, err)
	engine, err := model.NewEngine(c, meta)
	require.NoError(t, err)

	f, err := os.Open(fixture)
	require.NoError(t, err)
	defer f.Close()

	top, err := engine.ClassifyReader(f)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "A", top[0].Label)
	assert.Greater(t, top[0].Confidence, 50.0)
}
