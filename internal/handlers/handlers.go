// Package handlers exposes the classification engine over HTTP.
package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Brownie44l1/asl-api/internal/metrics"
	"github.com/Brownie44l1/asl-api/internal/model"
)

// FormField is the multipart field carrying the uploaded image.
const FormField = "image"

type Handler struct {
	engine  *model.Engine
	cache   *gocache.Cache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithCache keeps image results for ttl, keyed by the upload's SHA-256.
// A ttl of zero disables caching.
func WithCache(ttl time.Duration) Option {
	return func(h *Handler) {
		if ttl > 0 {
			h.cache = gocache.New(ttl, 2*ttl)
		}
	}
}

// WithMetrics records cache hits and serves /metrics from m's registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the logger used for failed requests.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(engine *model.Engine, opts ...Option) *Handler {
	h := &Handler{engine: engine}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("module", "http")
	return h
}

// Register mounts the API routes on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.POST("/predict", h.Predict)
	e.POST("/predict/image", h.PredictFromImage)
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{})))
	}
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"classes": len(h.engine.Labels()),
	})
}

// Predict classifies a raw NHWC tensor posted as {"image": [...]}.
func (h *Handler) Predict(c echo.Context) error {
	var req model.PredictionRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON")
	}

	if want := h.engine.TensorLen(); len(req.Image) != want {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("Expected %d values, got %d", want, len(req.Image)))
	}

	top, err := h.engine.PredictRaw(req.Image)
	if err != nil {
		return h.predictionError(c, err)
	}
	return c.JSON(http.StatusOK, model.NewPredictionResponse(top))
}

// PredictFromImage classifies a JPEG or PNG uploaded in the "image" field.
func (h *Handler) PredictFromImage(c echo.Context) error {
	header, err := c.FormFile(FormField)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest,
			"No image file provided. Use 'image' as the form field name")
	}

	file, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read upload")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read upload")
	}

	key := digest(data)
	if h.cache != nil {
		if cached, ok := h.cache.Get(key); ok {
			h.metrics.RecordCacheHit()
			return c.JSON(http.StatusOK, cached)
		}
	}

	h.logger.Debug("image received",
		"filename", header.Filename,
		"bytes", len(data),
		"request_id", requestID(c))

	top, err := h.engine.ClassifyReader(bytes.NewReader(data))
	if err != nil {
		return h.predictionError(c, err)
	}

	resp := model.NewPredictionResponse(top)
	if h.cache != nil {
		h.cache.SetDefault(key, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// predictionError maps engine errors to HTTP errors. Only bad uploads are
// the client's fault.
func (h *Handler) predictionError(c echo.Context, err error) error {
	if errors.Is(err, model.ErrDecode) {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid image format. Supported: JPEG, PNG")
	}

	h.logger.Error("prediction failed",
		"error", err,
		"kind", model.ErrorKind(err),
		"request_id", requestID(c))
	return echo.NewHTTPError(http.StatusInternalServerError, "Prediction failed")
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
