package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/harliandi/go-fitsize/internal/converter"
	"github.com/harliandi/go-fitsize/internal/logger"
	"github.com/harliandi/go-fitsize/internal/middleware"
	"github.com/harliandi/go-fitsize/pkg/quality"
)

const (
	maxMemory  = 32 << 20 // 32MB max in-memory for multipart parsing
	maxRetries = 3        // pool submissions before answering 503
)

// Response headers describing the search
const (
	HeaderReason       = "X-Compression-Reason"
	HeaderAttempts     = "X-Compression-Attempts"
	HeaderQuality      = "X-Compression-Quality"
	HeaderScale        = "X-Compression-Scale"
	HeaderOriginalSize = "X-Original-Size"
)

// Submitter runs a compression. *converter.WorkerPool implements it.
type Submitter interface {
	SubmitWithRetry(ctx context.Context, data []byte, opts converter.Options, maxRetries int) (*converter.Result, error)
}

// Handler handles HTTP requests for size-targeted compression
type Handler struct {
	pool        Submitter
	defaults    converter.Options
	maxUploadMB int
	log         logrus.FieldLogger
}

// New creates a new Handler. defaults fill any option a request leaves
// unset.
func New(pool Submitter, defaults converter.Options, maxUploadMB int, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		pool:        pool,
		defaults:    defaults,
		maxUploadMB: maxUploadMB,
		log:         log,
	}
}

// Routes registers the handler's endpoints on r
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/compress", h.Compress).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

// Compress handles POST /compress
func (h *Handler) Compress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	log := logger.WithRequest(h.log, middleware.RequestIDFromContext(r.Context()))

	opts, err := h.parseOptions(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	maxBytes := int64(h.maxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+maxMemory)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
		default:
			writeError(w, http.StatusBadRequest, "Content-Type must be multipart/form-data")
		}
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	if int64(len(data)) > maxBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	log = log.WithFields(logrus.Fields{
		"filename": header.Filename,
		"size":     humanize.Bytes(uint64(len(data))),
		"target":   humanize.Bytes(uint64(opts.TargetBytes)),
	})

	res, err := h.pool.SubmitWithRetry(r.Context(), data, opts, maxRetries)
	if err != nil {
		status, msg := statusFor(err)
		if status == 0 {
			log.WithError(err).Debug("client went away")
			return
		}
		if status >= http.StatusInternalServerError {
			log.WithError(err).Error("compression failed")
		} else {
			log.WithError(err).Info("compression rejected")
		}
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, status, msg)
		return
	}

	if wantsJSON(r) {
		h.sendJSONResponse(w, res)
		return
	}
	h.sendBinaryResponse(w, r, res)
}

// Health handles the /health endpoint for readiness/liveness probes
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// parseOptions reads the search knobs from the query string. Unset
// parameters keep the handler defaults.
func (h *Handler) parseOptions(q url.Values) (converter.Options, error) {
	opts := h.defaults
	var err error

	if v := q.Get("target_kb"); v != "" {
		kb, perr := strconv.Atoi(v)
		if perr != nil || kb <= 0 {
			return opts, fmt.Errorf("target_kb must be a positive integer")
		}
		opts.TargetBytes = int64(kb) * 1024
	}
	if v := q.Get("target"); v != "" {
		n, perr := humanize.ParseBytes(v)
		if perr != nil || n == 0 {
			return opts, fmt.Errorf("target must be a size such as 500KB")
		}
		opts.TargetBytes = int64(n)
	}
	// zero options fall back to defaults, so explicit zeros are rejected here
	if opts.Tolerance, err = positiveParam(q, "tolerance", opts.Tolerance); err != nil {
		return opts, err
	}
	if opts.MinQuality, err = positiveParam(q, "min_quality", opts.MinQuality); err != nil {
		return opts, err
	}
	if opts.MaxQuality, err = positiveParam(q, "max_quality", opts.MaxQuality); err != nil {
		return opts, err
	}
	if v := q.Get("max_attempts"); v != "" {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return opts, fmt.Errorf("max_attempts must be an integer")
		}
		if n < 1 {
			return opts, &quality.ValidationError{Field: "max_attempts", Msg: "must be at least 1"}
		}
		opts.MaxAttempts = n
	}
	if v := q.Get("rescale"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return opts, fmt.Errorf("rescale must be true or false")
		}
		opts.AllowRescale = b
	}
	if v := q.Get("format"); v != "" {
		enc, perr := converter.NewEncoder(strings.ToLower(v))
		if perr != nil {
			return opts, perr
		}
		opts.Format = enc.Format()
	}
	return opts, nil
}

func positiveParam(q url.Values, key string, def float64) (float64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s must be a number", key)
	}
	if !(f > 0) {
		return def, &quality.ValidationError{Field: key, Msg: "must be greater than 0"}
	}
	return f, nil
}

// statusFor maps a compression error to an HTTP status. A zero status
// means the client is gone and nothing should be written.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, quality.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, converter.ErrFileTooLarge), errors.Is(err, converter.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, converter.ErrUnsupportedFormat),
		errors.Is(err, converter.ErrInvalidImage),
		errors.Is(err, converter.ErrInvalidImageDimensions):
		return http.StatusUnsupportedMediaType, err.Error()
	case errors.Is(err, converter.ErrInfeasible):
		return http.StatusUnprocessableEntity, "Image could not be encoded"
	case errors.Is(err, converter.ErrPoolBusy), errors.Is(err, converter.ErrPoolStopped):
		return http.StatusServiceUnavailable, "Service busy, please try again"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Compression timed out"
	case errors.Is(err, context.Canceled):
		return 0, ""
	}
	return http.StatusInternalServerError, "Compression failed"
}

func wantsJSON(r *http.Request) bool {
	return r.URL.Query().Get("response") == "json" ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

func contentType(format string) string {
	if format == converter.FormatHEIF {
		return "image/heif"
	}
	return "image/" + format
}

func etag(data []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(data), 16) + `"`
}

func setResultHeaders(w http.ResponseWriter, res *converter.Result) {
	h := w.Header()
	h.Set(HeaderReason, res.Reason.String())
	h.Set(HeaderAttempts, strconv.Itoa(res.Attempts))
	h.Set(HeaderQuality, strconv.Itoa(converter.QualityPercent(res.Quality)))
	h.Set(HeaderScale, strconv.FormatFloat(res.Scale, 'f', 4, 64))
	h.Set(HeaderOriginalSize, strconv.FormatInt(res.OriginalSize, 10))
	h.Set("ETag", etag(res.Data))
}

// sendBinaryResponse writes the encoded image as the response body
func (h *Handler) sendBinaryResponse(w http.ResponseWriter, r *http.Request, res *converter.Result) {
	setResultHeaders(w, res)
	if match := r.Header.Get("If-None-Match"); match != "" && match == w.Header().Get("ETag") {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType(res.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

type jsonResponse struct {
	Data         string  `json:"data"`
	Format       string  `json:"format"`
	Reason       string  `json:"reason"`
	Attempts     int     `json:"attempts"`
	Quality      float64 `json:"quality"`
	Scale        float64 `json:"scale"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Size         int     `json:"size"`
	OriginalSize int64   `json:"original_size"`
}

// sendJSONResponse writes the image as a base64 data URL plus search details
func (h *Handler) sendJSONResponse(w http.ResponseWriter, res *converter.Result) {
	setResultHeaders(w, res)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(jsonResponse{
		Data:         "data:" + contentType(res.Format) + ";base64," + base64.StdEncoding.EncodeToString(res.Data),
		Format:       res.Format,
		Reason:       res.Reason.String(),
		Attempts:     res.Attempts,
		Quality:      res.Quality,
		Scale:        res.Scale,
		Width:        res.Width,
		Height:       res.Height,
		Size:         len(res.Data),
		OriginalSize: res.OriginalSize,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
