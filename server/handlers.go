package main

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/mhbvr/gallery"
	gerrors "github.com/mhbvr/gallery/errors"
	"github.com/mhbvr/gallery/media"
	"github.com/mhbvr/gallery/widget"
)

const maxUploadBytes = 64 << 20

type httpMetrics struct {
	requestDuration  *prometheus.HistogramVec
	requestsTotal    *prometheus.CounterVec
	requestsInFlight prometheus.Gauge
	bytesServed      prometheus.Counter
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	f := promauto.With(reg)
	return &httpMetrics{
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gallery_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "handler"}),
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gallery_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "handler", "code"}),
		requestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "gallery_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		}),
		bytesServed: f.NewCounter(prometheus.CounterOpts{
			Name: "gallery_image_bytes_served_total",
			Help: "Total encoded image bytes served",
		}),
	}
}

func (m *httpMetrics) instrument(name string, h http.HandlerFunc) http.Handler {
	return promhttp.InstrumentHandlerDuration(
		m.requestDuration.MustCurryWith(prometheus.Labels{"handler": name}),
		promhttp.InstrumentHandlerCounter(
			m.requestsTotal.MustCurryWith(prometheus.Labels{"handler": name}),
			promhttp.InstrumentHandlerInFlight(m.requestsInFlight, h),
		),
	)
}

// Server serves the gallery HTTP API.
type Server struct {
	app     *App
	tracer  oteltrace.Tracer
	metrics *httpMetrics
}

// responseWriterWithStatus wraps http.ResponseWriter to capture status code
type responseWriterWithStatus struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriterWithStatus) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriterWithStatus) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// loggingMiddleware logs each HTTP request with details
func loggingMiddleware(logger *log.Entry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriterWithStatus{ResponseWriter: w, statusCode: http.StatusOK}

		// Get client IP (handle potential proxy headers)
		clientIP := r.RemoteAddr
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			clientIP = strings.Split(xff, ",")[0]
		} else if xri := r.Header.Get("X-Real-IP"); xri != "" {
			clientIP = xri
		}

		next.ServeHTTP(rw, r)

		logger.WithFields(log.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    rw.statusCode,
			"bytes":     rw.bytesWritten,
			"duration":  time.Since(start).String(),
			"client":    clientIP,
			"userAgent": r.UserAgent(),
		}).Info("HTTP request")
	})
}

// SetupServer creates the HTTP handler with all middleware and routes
// configured. tracez may be nil.
func SetupServer(app *App, reg prometheus.Registerer, gatherer prometheus.Gatherer, tracez http.Handler) http.Handler {
	s := &Server{
		app:     app,
		tracer:  otel.Tracer("gallery"),
		metrics: newHTTPMetrics(reg),
	}

	mux := http.NewServeMux()
	routes := []struct {
		pattern string
		name    string
		handler http.HandlerFunc
	}{
		{"GET /albums", "albums", s.handleAlbums},
		{"GET /albums/{album}/items", "items", s.handleItems},
		{"POST /albums/{album}/items/{item}", "upload", s.handleUpload},
		{"GET /items/{album}/{item}/image", "image", s.handleImage},
		{"GET /items/{album}/{item}/region", "region", s.handleRegion},
		{"GET /widgets", "widgets", s.handleListWidgets},
		{"POST /widgets", "create_widget", s.handleCreateWidget},
		{"GET /widgets/{id}", "widget", s.handleGetWidget},
		{"GET /widgets/{id}/views/{pos}", "view", s.handleView},
		{"DELETE /widgets/{id}", "delete_widget", s.handleDeleteWidget},
		{"PUT /config/sizes", "sizes", s.handleSetSizes},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, s.metrics.instrument(rt.name, rt.handler))
	}

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if tracez != nil {
		mux.Handle("GET /tracez", tracez)
	}

	// Logging outermost, then OpenTelemetry
	return loggingMiddleware(app.logger, otelhttp.NewHandler(mux, "request"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, span oteltrace.Span, err error) {
	span.RecordError(err)
	http.Error(w, err.Error(), gerrors.StatusCode(err))
}

func (s *Server) writeJPEG(w http.ResponseWriter, span oteltrace.Span, img image.Image) {
	data, err := media.EncodeJPEG(img, gallery.CachedImageQuality)
	if err != nil {
		writeError(w, span, err)
		return
	}
	w.Header().Set("Content-Type", gallery.MimeTypeJPEG)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	n, _ := w.Write(data)
	s.metrics.bytesServed.Add(float64(n))
	span.SetAttributes(attribute.Int("bytes.served", n))
}

func pathUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, gerrors.NewBadInput(fmt.Sprintf("invalid %s %q", name, r.PathValue(name)))
	}
	return v, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, gerrors.NewBadInput(fmt.Sprintf("invalid %s %q", name, s))
	}
	return v, nil
}

func (s *Server) itemFromPath(r *http.Request) (*media.LocalImage, error) {
	albumID, err := pathUint(r, "album")
	if err != nil {
		return nil, err
	}
	itemID, err := pathUint(r, "item")
	if err != nil {
		return nil, err
	}
	return s.app.media.Load(albumID, itemID)
}

func (s *Server) handleAlbums(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "list_albums")
	defer span.End()

	ids, err := s.app.db.GetAllAlbumIDs()
	if err != nil {
		writeError(w, span, err)
		return
	}
	span.SetAttributes(attribute.Int("albums.count", len(ids)))
	writeJSON(w, http.StatusOK, map[string]interface{}{"albums": ids})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "list_items")
	defer span.End()

	albumID, err := pathUint(r, "album")
	if err != nil {
		writeError(w, span, err)
		return
	}
	ids, err := s.app.db.GetItemIDs(albumID)
	if err != nil {
		writeError(w, span, err)
		return
	}

	items := make([]*gallery.MediaRecord, 0, len(ids))
	for _, itemID := range ids {
		rec, err := s.app.db.GetItemRecord(albumID, itemID)
		if err != nil {
			writeError(w, span, err)
			return
		}
		items = append(items, rec)
	}
	span.SetAttributes(attribute.Int("items.count", len(items)))
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "upload_item")
	defer span.End()

	albumID, err := pathUint(r, "album")
	if err != nil {
		writeError(w, span, err)
		return
	}
	itemID, err := pathUint(r, "item")
	if err != nil {
		writeError(w, span, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, span, gerrors.NewBadInput("cannot read body").WithCause(err))
		return
	}

	rec, err := recordFromUpload(albumID, itemID, data, r.URL.Query())
	if err != nil {
		writeError(w, span, err)
		return
	}
	if err := s.app.writer.AddItem(*rec, data); err != nil {
		writeError(w, span, err)
		return
	}

	stored, err := s.app.db.GetItemRecord(albumID, itemID)
	if err != nil {
		writeError(w, span, err)
		return
	}
	span.SetAttributes(attribute.Int64("item.version", int64(stored.Version)))
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "get_image")
	defer span.End()
	start := time.Now()
	defer func() { s.app.load.RecordRequest(time.Since(start)) }()

	kind := gallery.Thumbnail
	if q := r.URL.Query().Get("kind"); q != "" {
		var err error
		if kind, err = gallery.ParseRequestKind(q); err != nil {
			writeError(w, span, gerrors.NewBadInput(err.Error()))
			return
		}
	}
	span.SetAttributes(attribute.String("image.kind", kind.String()))

	item, err := s.itemFromPath(r)
	if err != nil {
		writeError(w, span, err)
		return
	}

	h := item.RequestImage(kind)
	img, err := h.Await(ctx)
	if err != nil {
		// The client went away, nobody needs the result
		h.Cancel()
		writeError(w, span, err)
		return
	}
	s.writeJPEG(w, span, img)
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "get_region")
	defer span.End()
	start := time.Now()
	defer func() { s.app.load.RecordRequest(time.Since(start)) }()

	var vals [5]int
	for i, name := range []string{"x", "y", "w", "h", "sample"} {
		def := 0
		if name == "sample" {
			def = 1
		}
		v, err := queryInt(r, name, def)
		if err != nil {
			writeError(w, span, err)
			return
		}
		vals[i] = v
	}
	rect := image.Rect(vals[0], vals[1], vals[0]+vals[2], vals[1]+vals[3])

	item, err := s.itemFromPath(r)
	if err != nil {
		writeError(w, span, err)
		return
	}

	h := item.RequestLargeImage()
	dec, err := h.Await(ctx)
	if err != nil {
		h.Cancel()
		writeError(w, span, err)
		return
	}
	if rect.Empty() {
		rect = image.Rect(0, 0, dec.Width(), dec.Height())
	}

	img, err := dec.DecodeRegion(ctx, rect, vals[4])
	if err != nil {
		writeError(w, span, err)
		return
	}
	s.writeJPEG(w, span, img)
}

type widgetStatus struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	AlbumID       uint64 `json:"album_id,omitempty"`
	Count         int    `json:"count"`
	Version       uint64 `json:"version"`
	ViewTypeCount int    `json:"view_type_count"`
	LastError     string `json:"last_error,omitempty"`
}

func (s *Server) status(f *widget.Factory) widgetStatus {
	cfg := f.Config()
	version, err := s.app.notifier.status(cfg.ID)
	st := widgetStatus{
		ID:            cfg.ID,
		Type:          cfg.Type.String(),
		AlbumID:       cfg.AlbumID,
		Count:         f.Count(),
		Version:       version,
		ViewTypeCount: f.ViewTypeCount(),
	}
	if err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (s *Server) handleListWidgets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"widgets": s.app.widgets.IDs()})
}

func (s *Server) handleCreateWidget(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "create_widget")
	defer span.End()

	typ, err := widget.ParseType(r.FormValue("type"))
	if err != nil {
		writeError(w, span, gerrors.NewBadInput(err.Error()))
		return
	}
	cfg := widget.Config{ID: uuid.NewString(), Type: typ}
	if typ == widget.Album {
		if cfg.AlbumID, err = strconv.ParseUint(r.FormValue("album"), 10, 64); err != nil {
			writeError(w, span, gerrors.NewBadInput(fmt.Sprintf("invalid album %q", r.FormValue("album"))))
			return
		}
	}
	if maxItems := r.FormValue("max"); maxItems != "" {
		if cfg.LibraryMax, err = strconv.Atoi(maxItems); err != nil {
			writeError(w, span, gerrors.NewBadInput(fmt.Sprintf("invalid max %q", maxItems)))
			return
		}
	}

	f, err := s.app.NewWidget(cfg)
	if err != nil {
		writeError(w, span, err)
		return
	}
	// The host answers the creation notification by asking for the data
	if err := f.OnDataSetChanged(); err != nil {
		s.app.notifier.NotifyReloadFailed(cfg.ID, err)
	}

	span.SetAttributes(attribute.String("widget.id", cfg.ID))
	writeJSON(w, http.StatusCreated, s.status(f))
}

func (s *Server) widgetFromPath(r *http.Request) (*widget.Factory, error) {
	f, ok := s.app.widgets.Get(r.PathValue("id"))
	if !ok {
		return nil, gerrors.NewNotFound(fmt.Sprintf("widget %s not found", r.PathValue("id")))
	}
	return f, nil
}

func (s *Server) handleGetWidget(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "get_widget")
	defer span.End()

	f, err := s.widgetFromPath(r)
	if err != nil {
		writeError(w, span, err)
		return
	}
	writeJSON(w, http.StatusOK, s.status(f))
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "get_view")
	defer span.End()

	f, err := s.widgetFromPath(r)
	if err != nil {
		writeError(w, span, err)
		return
	}
	pos, err := strconv.Atoi(r.PathValue("pos"))
	if err != nil || pos < 0 || pos >= f.Count() {
		writeError(w, span, gerrors.NewNotFound(fmt.Sprintf("no view at position %q", r.PathValue("pos"))))
		return
	}

	view := f.ViewAt(pos)
	span.SetAttributes(attribute.String("view.kind", view.Kind.String()))
	if view.Kind != widget.Photo {
		writeJSON(w, http.StatusAccepted, map[string]string{"kind": view.Kind.String()})
		return
	}
	w.Header().Set("X-Content-URI", view.ContentURI)
	s.writeJPEG(w, span, view.Bitmap)
}

func (s *Server) handleDeleteWidget(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "delete_widget")
	defer span.End()

	if !s.app.RemoveWidget(r.PathValue("id")) {
		writeError(w, span, gerrors.NewNotFound(fmt.Sprintf("widget %s not found", r.PathValue("id"))))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sizesRequest struct {
	Thumbnail int `json:"thumbnail"`
	Micro     int `json:"micro"`
}

func (s *Server) handleSetSizes(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), "set_sizes")
	defer span.End()

	var req sizesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, span, gerrors.NewBadInput("invalid sizes").WithCause(err))
		return
	}
	if req.Thumbnail <= 0 || req.Micro <= 0 {
		writeError(w, span, gerrors.NewBadInput(fmt.Sprintf("sizes must be positive, got %d/%d", req.Thumbnail, req.Micro)))
		return
	}
	s.app.policy.SetSizes(req.Thumbnail, req.Micro)

	thumb, micro := s.app.policy.Sizes()
	writeJSON(w, http.StatusOK, sizesRequest{Thumbnail: thumb, Micro: micro})
}
