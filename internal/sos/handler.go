// Package sos serves the emergency endpoint cameras and phones hit when a
// user raises an alarm. It authenticates the caller with the shared SOS
// secret, validates the reported location and acknowledges receipt. Nothing
// is stored.
package sos

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fast-security-fast/Fast-security-server/internal/auth"
	"github.com/fast-security-fast/Fast-security-server/internal/httpserver"
	"github.com/fast-security-fast/Fast-security-server/internal/metrics"
)

const (
	// SecretHeader carries the shared secret.
	SecretHeader = "X-SOS-Secret"

	maxBodyBytes   = 16 * 1024
	maxMessageLen  = 1024
	errCodeConfig  = "server_misconfigured"
	errCodeAuth    = "unauthorized"
	errCodeInvalid = "invalid_location"
)

var errInvalidLocation = errors.New("invalid location")

// Report is an SOS payload. Lat and Lon are required.
type Report struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Message   string   `json:"message,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

type Handler struct {
	gate    auth.HeaderGate
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHandler(secret string, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		gate:    auth.HeaderGate{Secret: auth.SharedSecret{Expected: secret}, Header: SecretHeader},
		log:     logger,
		metrics: m,
		now:     time.Now,
	}
}

// RegisterRoutes mounts GET and POST /sos.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /sos", h)
	mux.Handle("POST /sos", h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Check(r); err != nil {
		h.metrics.Inc(metrics.SOSRejected)
		if errors.Is(err, auth.ErrNotConfigured) {
			h.log.Error("sos rejected: secret not configured")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": errCodeConfig})
			return
		}
		h.log.Warn("sos rejected", "reason", err.Error(), "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": errCodeAuth})
		return
	}

	report, err := parseReport(r)
	if err != nil {
		h.metrics.Inc(metrics.SOSRejected)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": errCodeInvalid, "message": err.Error()})
		return
	}

	receivedAt := h.now().UTC()
	h.metrics.Inc(metrics.SOSReceived)
	attrs := []any{
		"lat", report.Lat,
		"lon", report.Lon,
		"remote_addr", r.RemoteAddr,
		"request_id", r.Header.Get("X-Request-ID"),
	}
	if report.Accuracy != nil {
		attrs = append(attrs, "accuracy", *report.Accuracy)
	}
	if report.Message != "" {
		attrs = append(attrs, "message", report.Message)
	}
	h.log.Info("sos received", attrs...)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"received":   report,
		"receivedAt": receivedAt.Format(time.RFC3339),
	})
}

func parseReport(r *http.Request) (Report, error) {
	var rep Report
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			return Report{}, err
		}
		if len(body) > maxBodyBytes {
			return Report{}, errors.New("body too large")
		}
		var raw struct {
			Lat       *float64 `json:"lat"`
			Lon       *float64 `json:"lon"`
			Accuracy  *float64 `json:"accuracy"`
			Message   string   `json:"message"`
			Timestamp string   `json:"timestamp"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return Report{}, errors.New("body must be a JSON object")
		}
		if raw.Lat == nil || raw.Lon == nil {
			return Report{}, errors.New("lat and lon are required")
		}
		rep = Report{Lat: *raw.Lat, Lon: *raw.Lon, Accuracy: raw.Accuracy, Message: raw.Message, Timestamp: raw.Timestamp}
	} else {
		q := r.URL.Query()
		lat, err := parseCoord(q.Get("lat"))
		if err != nil {
			return Report{}, err
		}
		lon, err := parseCoord(q.Get("lon"))
		if err != nil {
			return Report{}, err
		}
		rep = Report{Lat: lat, Lon: lon, Message: q.Get("message"), Timestamp: q.Get("timestamp")}
		if raw := q.Get("accuracy"); raw != "" {
			acc, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return Report{}, errors.New("accuracy must be a number")
			}
			rep.Accuracy = &acc
		}
	}
	return rep, validate(rep)
}

func parseCoord(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("lat and lon are required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("lat and lon must be numbers")
	}
	return v, nil
}

func validate(rep Report) error {
	switch {
	case math.IsNaN(rep.Lat) || rep.Lat < -90 || rep.Lat > 90:
		return errInvalidLocation
	case math.IsNaN(rep.Lon) || rep.Lon < -180 || rep.Lon > 180:
		return errInvalidLocation
	case rep.Accuracy != nil && (math.IsNaN(*rep.Accuracy) || *rep.Accuracy < 0):
		return errors.New("accuracy must be >= 0")
	case len(rep.Message) > maxMessageLen:
		return errors.New("message too long")
	}
	if rep.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339, rep.Timestamp); err != nil {
			return errors.New("timestamp must be RFC3339")
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	httpserver.WriteJSON(w, status, v)
}
