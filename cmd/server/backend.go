package main

import (
	"fmt"
	"log/slog"

	"github.com/Brownie44l1/asl-api/internal/backend/onnx"
	"github.com/Brownie44l1/asl-api/internal/backend/tflite"
	"github.com/Brownie44l1/asl-api/internal/config"
	"github.com/Brownie44l1/asl-api/internal/metrics"
	"github.com/Brownie44l1/asl-api/internal/model"
)

// newLoader picks the inference backend for the configured model.
func newLoader(s config.ModelSettings, log *slog.Logger) (model.Loader, string, error) {
	name, err := config.ResolveBackend(s.Backend, s.Path)
	if err != nil {
		return nil, "", err
	}

	switch name {
	case config.BackendTFLite:
		return tflite.NewLoader(s.Threads, log), name, nil
	case config.BackendONNX:
		return onnx.NewLoader(s.ONNXLibrary), name, nil
	default:
		return nil, "", fmt.Errorf("unsupported backend %q", name)
	}
}

// loadMetadata returns the configured sidecar, or the built-in MobileNet
// metadata when none is set.
func loadMetadata(path string) (model.Metadata, error) {
	if path == "" {
		return model.DefaultMetadata(), nil
	}
	return model.LoadMetadata(path)
}

// newEngine provisions the classifier and wraps it in an engine. The caller
// must release the returned provisioner.
func (a *app) newEngine(m *metrics.Metrics) (*model.Engine, *model.Provisioner, error) {
	s := a.settings

	meta, err := loadMetadata(s.Model.Metadata)
	if err != nil {
		return nil, nil, err
	}

	load, backend, err := a.loaderFor(s.Model, a.logger.With("module", "backend"))
	if err != nil {
		return nil, nil, err
	}

	prov := &model.Provisioner{
		ModelPath:            s.Model.Path,
		Metadata:             meta,
		Load:                 load,
		TempDir:              s.Model.TempDir,
		MaxDecompressedBytes: s.Model.MaxDecompressedBytes,
		Logger:               a.logger.With("module", "model"),
		Metrics:              m,
	}

	a.logger.Info("loading model",
		"path", s.Model.Path,
		"backend", backend,
		"normalization", meta.Normalization)

	c, err := prov.Classifier()
	if err != nil {
		a.release(prov)
		return nil, nil, err
	}

	engine, err := model.NewEngine(c, meta,
		model.WithTopK(s.Inference.TopK),
		model.WithLogger(a.logger.With("module", "engine")),
		model.WithMetrics(m))
	if err != nil {
		a.release(prov)
		return nil, nil, err
	}
	return engine, prov, nil
}

// release closes the classifier and the ONNX Runtime environment.
func (a *app) release(prov *model.Provisioner) {
	if err := prov.Close(); err != nil {
		a.logger.Warn("failed to close classifier", "error", err)
	}
	if err := onnx.Shutdown(); err != nil {
		a.logger.Warn("failed to shut down ONNX Runtime", "error", err)
	}
}
