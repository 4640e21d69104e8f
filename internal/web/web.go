package web

import (
	"bytes"
	"context"
	"crypto/subtle"
	"embed"
	"image"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"boxdisplay/internal/config"
	appLog "boxdisplay/internal/log"
	"boxdisplay/internal/model"
	"boxdisplay/internal/refresh"
	"boxdisplay/internal/render"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Display is the part of the display session the HTTP API needs.
type Display interface {
	Snapshot() model.Snapshot
	Version() uint64
	Count() int
	Threshold() int
	DriverName() string
	LastFrame() (*image.Gray, refresh.Result, time.Time)
	EncodePreview(w io.Writer) error
	Notify(ctx context.Context, id model.SlotID) error
	Refresh(ctx context.Context, forceFull bool)
}

// Server provides the status page and a small JSON API over the display
// session.
type Server struct {
	cfg     *config.Config
	display Display
	mux     *http.ServeMux
	started time.Time
}

// embeddedStatic holds the status page served at /.
//
//go:embed all:static
var embeddedStatic embed.FS

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, d Display) *Server {
	s := &Server{
		cfg:     cfg,
		display: d,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// HTTPServer wraps Handler in an http.Server bound to cfg.Listen. The caller
// owns ListenAndServe and Shutdown.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Either field empty means auth is off.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="boxdisplay", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/boxes", s.handleBoxes)
	s.mux.HandleFunc("POST /api/boxes/{n}/notify", s.handleNotify)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)

	// Everything else falls back to the embedded status page.
	s.mux.Handle("/", s.staticFileServer())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// boxDTO is the JSON view of one slot.
type boxDTO struct {
	Box       int    `json:"box"`
	Kind      string `json:"kind"`
	Name      string `json:"name,omitempty"`
	Type      string `json:"type,omitempty"`
	Size      uint64 `json:"size"`
	SizeHuman string `json:"size_human"`
	Error     string `json:"error,omitempty"`
}

type refreshDTO struct {
	Count     int        `json:"count"`
	Threshold int        `json:"threshold"`
	LastMode  string     `json:"last_mode,omitempty"`
	FellBack  bool       `json:"fell_back,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	LastAt    *time.Time `json:"last_at,omitempty"`
}

// boxesResponse is the JSON response shape for /api/boxes.
type boxesResponse struct {
	Boxes   []boxDTO   `json:"boxes"`
	Version uint64     `json:"version"`
	Driver  string     `json:"driver"`
	Refresh refreshDTO `json:"refresh"`
	Uptime  string     `json:"uptime"`
}

func toBoxDTO(id model.SlotID, rec model.Record) boxDTO {
	dto := boxDTO{Box: int(id), Kind: rec.Kind().String()}
	switch rec.Kind() {
	case model.KindErrored:
		dto.Error = rec.Error
	case model.KindOccupied:
		dto.Name = rec.Name
		dto.Type = rec.TypeLabel
		dto.Size = rec.SizeBytes
	}
	dto.SizeHuman = render.FormatSize(dto.Size)
	return dto
}

// handleBoxes returns the current snapshot and refresh state.
func (s *Server) handleBoxes(w http.ResponseWriter, _ *http.Request) {
	snap := s.display.Snapshot()
	resp := boxesResponse{
		Boxes:   make([]boxDTO, 0, len(model.Slots)),
		Version: s.display.Version(),
		Driver:  s.display.DriverName(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	for _, id := range model.Slots {
		resp.Boxes = append(resp.Boxes, toBoxDTO(id, snap.Get(id)))
	}

	resp.Refresh = refreshDTO{Count: s.display.Count(), Threshold: s.display.Threshold()}
	if img, res, at := s.display.LastFrame(); img != nil {
		resp.Refresh.LastMode = res.Mode.String()
		resp.Refresh.FellBack = res.FellBack
		resp.Refresh.LastAt = &at
		if res.Err != nil {
			resp.Refresh.LastError = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleNotify re-fetches one box, as if a notification had arrived.
//
// POST /api/boxes/{n}/notify
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseSlotID(r.PathValue("n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.display.Notify(r.Context(), id); err != nil {
		appLog.Error("manual notify failed", err, "box", id)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, toBoxDTO(id, s.display.Snapshot().Get(id)))
}

// handleRefresh re-fetches every box and forces a full refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.display.Refresh(r.Context(), true)
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "version": s.display.Version()})
}

// handlePreview serves the last presented frame as PNG.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := s.display.EncodePreview(&buf); err != nil {
		writeError(w, http.StatusNotFound, "no frame rendered yet")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// staticFileServer serves the embedded files under internal/web/static.
func (s *Server) staticFileServer() http.Handler {
	sub, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		appLog.Error("failed to initialize embedded static filesystem", err)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "static UI not available", http.StatusServiceUnavailable)
		})
	}

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Unknown /api/* paths must 404 as API errors, never HTML.
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
