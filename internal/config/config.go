// Package config loads service settings from defaults, an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendAuto   = "auto"
	BackendONNX   = "onnx"
	BackendTFLite = "tflite"
)

// Settings is the full service configuration.
type Settings struct {
	Debug     bool
	Log       LogSettings
	Model     ModelSettings
	Server    ServerSettings
	Inference InferenceSettings
}

// LogSettings controls the slog handler.
type LogSettings struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// ModelSettings locates the model artifact and configures its backend.
type ModelSettings struct {
	Path                 string // plain or gzip-compressed model file
	Metadata             string // JSON sidecar; empty uses built-in metadata
	Backend              string // auto, onnx or tflite
	TempDir              string // where compressed artifacts are inflated
	MaxDecompressedBytes int64
	ONNXLibrary          string // path to libonnxruntime, empty uses the loader default
	Threads              int    // TFLite interpreter threads, 0 = all CPUs
}

// ServerSettings configures the HTTP server.
type ServerSettings struct {
	Port            string
	MaxUploadBytes  int64
	CacheTTL        time.Duration // 0 disables the result cache
	ShutdownTimeout time.Duration
}

// InferenceSettings controls ranking.
type InferenceSettings struct {
	TopK int
}

// New returns a viper instance with defaults and environment bindings set.
// Environment variables use the ASL_ prefix (ASL_MODEL_PATH, ASL_SERVER_PORT);
// PORT is honoured for the listen port.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ASL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "ASL_SERVER_PORT", "PORT")

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("model.path", filepath.Join("models", "asl_mobilenet_model.onnx.gz"))
	v.SetDefault("model.metadata", "")
	v.SetDefault("model.backend", BackendAuto)
	v.SetDefault("model.tempdir", "")
	v.SetDefault("model.maxdecompressedbytes", int64(1<<30))
	v.SetDefault("model.onnxlibrary", "")
	v.SetDefault("model.threads", 0)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.maxuploadbytes", int64(10<<20))
	v.SetDefault("server.cachettl", 10*time.Minute)
	v.SetDefault("server.shutdowntimeout", 10*time.Second)

	v.SetDefault("inference.topk", 3)
}

// Load reads configFile, or config.yaml from the working directory or
// $HOME/.config/asl-api when configFile is empty, and returns validated
// settings. A missing default config file is not an error.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "asl-api"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if settings.Debug {
		settings.Log.Level = "debug"
	}

	if err := Validate(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// Validate checks settings for values the service cannot run with.
func Validate(s *Settings) error {
	var errs []error

	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", s.Log.Level))
	}
	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be text or json, got %q", s.Log.Format))
	}

	if strings.TrimSpace(s.Model.Path) == "" {
		errs = append(errs, errors.New("model.path: required"))
	}
	if _, err := ResolveBackend(s.Model.Backend, s.Model.Path); err != nil {
		errs = append(errs, fmt.Errorf("model.backend: %w", err))
	}
	if s.Model.MaxDecompressedBytes < 0 {
		errs = append(errs, errors.New("model.maxdecompressedbytes: must not be negative"))
	}
	if s.Model.Threads < 0 {
		errs = append(errs, errors.New("model.threads: must not be negative"))
	}

	if port, err := strconv.Atoi(s.Server.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: invalid port %q", s.Server.Port))
	}
	if s.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.maxuploadbytes: must be positive"))
	}
	if s.Server.CacheTTL < 0 {
		errs = append(errs, errors.New("server.cachettl: must not be negative"))
	}

	if s.Inference.TopK < 1 {
		errs = append(errs, fmt.Errorf("inference.topk: must be at least 1, got %d", s.Inference.TopK))
	}

	return errors.Join(errs...)
}

// ResolveBackend returns the concrete backend for a model path. auto picks
// tflite for .tflite files (ignoring a trailing .gz) and onnx otherwise.
func ResolveBackend(name, path string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case BackendONNX:
		return BackendONNX, nil
	case BackendTFLite:
		return BackendTFLite, nil
	case BackendAuto, "":
		base := strings.ToLower(filepath.Base(path))
		base = strings.TrimSuffix(base, ".gz")
		if filepath.Ext(base) == ".tflite" {
			return BackendTFLite, nil
		}
		return BackendONNX, nil
	default:
		return "", fmt.Errorf("unknown backend %q", name)
	}
}
