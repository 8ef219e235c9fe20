package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/muurk/greehp/internal/logging"
	"github.com/muurk/greehp/internal/version"
	"go.uber.org/zap"
)

// commandTimeout bounds one API request. A command can spend three 5 s
// receive timeouts plus backoff before giving up.
const commandTimeout = 60 * time.Second

type ctxKey int

const deviceKey ctxKey = iota

// powerRequest.On is nil when the body has no "on" value
type powerRequest struct {
	On *bool `json:"on"`
}

// modeRequest accepts the mode as a number or a display name
type modeRequest struct {
	Mode json.RawMessage `json:"mode"`
}

type temperatureRequest struct {
	Value json.Number `json:"value"`
}

type commandResponse struct {
	OK      bool   `json:"ok"`
	Device  string `json:"device"`
	Command string `json:"command"`
	Value   string `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// routes builds the HTTP API. Device routes are mounted twice: under /api
// for the default device and under /api/devices/{device} for any device.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.hub.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(commandTimeout))

		r.Get("/version", s.handleVersion)
		r.Get("/devices", s.handleDevices)

		r.Group(func(r chi.Router) {
			r.Use(s.defaultDevice)
			deviceRoutes(s, r)
		})
		r.Route("/devices/{device}", func(r chi.Router) {
			r.Use(s.namedDevice)
			deviceRoutes(s, r)
		})
	})

	return r
}

func deviceRoutes(s *Server, r chi.Router) {
	r.Get("/status", s.handleStatus)
	r.Post("/power", s.handlePower)
	r.Post("/mode", s.handleMode)
	r.Post("/temperature/{kind}", s.handleTemperature)
}

// requestLogger logs every request through the shared zap logger
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, ww.Status(), time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) defaultDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.order) == 0 {
			respondError(w, http.StatusNotFound, "no devices configured")
			return
		}
		c := s.devices[s.order[0]]
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey, c)))
	})
}

func (s *Server) namedDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "device")
		c, ok := s.devices[name]
		if !ok {
			respondError(w, http.StatusNotFound, "unknown device "+strconv.Quote(name))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey, c)))
	})
}

func deviceFrom(r *http.Request) Controller {
	c, _ := r.Context().Value(deviceKey).(Controller)
	return c
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	devices := make(map[string]bool, len(s.order))
	for _, name := range s.order {
		snap, ok := s.devices[name].Latest()
		devices[name] = ok && snap.Available
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": devices,
		"clients": s.hub.Clients(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, version.Get())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	states := make([]State, 0, len(s.order))
	for _, name := range s.order {
		if snap, ok := s.devices[name].Latest(); ok {
			states = append(states, NewState(snap))
		} else {
			states = append(states, State{Device: name})
		}
	}
	respondJSON(w, http.StatusOK, states)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	c := deviceFrom(r)
	snap, ok := c.Latest()
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "no status polled yet")
		return
	}
	respondJSON(w, http.StatusOK, NewState(snap))
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.On == nil {
		respondError(w, http.StatusBadRequest, `invalid request body, expected {"on": true|false}`)
		return
	}
	s.dispatch(w, r, "power", strconv.FormatBool(*req.On))
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Mode) == 0 {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	value := string(req.Mode)
	var name string
	if err := json.Unmarshal(req.Mode, &name); err == nil {
		value = name
	}
	s.dispatch(w, r, "mode", value)
}

func (s *Server) handleTemperature(w http.ResponseWriter, r *http.Request) {
	var req temperatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.dispatch(w, r, chi.URLParam(r, "kind"), req.Value.String())
}

// dispatch runs one validated write and maps the outcome to a status code:
// 400 for bad input, 502 when the device never acknowledged.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, what, value string) {
	c := deviceFrom(r)
	ok, err := apply(r.Context(), c, what, value)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		logging.Warn("Heat pump did not acknowledge command",
			zap.String("device", c.Name()),
			zap.String("command", what),
			zap.String("value", value),
		)
		respondError(w, http.StatusBadGateway, "heat pump did not acknowledge the command")
		return
	}
	respondJSON(w, http.StatusOK, commandResponse{OK: true, Device: c.Name(), Command: what, Value: value})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
