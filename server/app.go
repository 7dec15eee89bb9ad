package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/bufpool"
	"github.com/mhbvr/gallery/db/bolt"
	"github.com/mhbvr/gallery/db/filetree"
	"github.com/mhbvr/gallery/db/pebble"
	"github.com/mhbvr/gallery/imagecache"
	"github.com/mhbvr/gallery/job"
	"github.com/mhbvr/gallery/logging"
	"github.com/mhbvr/gallery/media"
	"github.com/mhbvr/gallery/reload"
	"github.com/mhbvr/gallery/sizepolicy"
	"github.com/mhbvr/gallery/widget"
)

// healthService is the gRPC health service name reporting widget reloads.
const healthService = "gallery.Widgets"

func openDB(dbType, dbPath string) (gallery.DB, error) {
	switch dbType {
	case "filetree":
		return filetree.New(dbPath)
	case "bolt":
		return bolt.New(dbPath)
	case "pebble":
		return pebble.New(dbPath)
	default:
		return nil, fmt.Errorf("unknown database type: %s (must be 'filetree', 'bolt', or 'pebble')", dbType)
	}
}

func openCache(cfg *Config) (imagecache.Cache, error) {
	switch cfg.Cache.Type {
	case "bolt":
		return imagecache.NewBolt(cfg.Cache.Path)
	case "memory":
		return imagecache.NewMemory(cfg.Cache.Entries), nil
	default:
		return nil, nil
	}
}

// hostNotifier is the widget host: it counts view changes per widget so
// clients can poll for them, and reports failed reloads through the gRPC
// health service.
type hostNotifier struct {
	health *health.Server
	events *prometheus.CounterVec
	logger *log.Entry

	mu       sync.Mutex
	versions map[string]uint64
	failures map[string]error
}

func newHostNotifier(hs *health.Server, reg prometheus.Registerer, logger *log.Entry) *hostNotifier {
	return &hostNotifier{
		health: hs,
		events: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gallery_widget_notifications_total",
			Help: "Widget host notifications by kind",
		}, []string{"kind"}),
		logger:   logger,
		versions: make(map[string]uint64),
		failures: make(map[string]error),
	}
}

func (n *hostNotifier) NotifyViewDataChanged(widgetID, viewID string) {
	n.mu.Lock()
	n.versions[widgetID]++
	delete(n.failures, widgetID)
	healthy := len(n.failures) == 0
	n.mu.Unlock()

	n.events.WithLabelValues("changed").Inc()
	if healthy {
		n.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	}
	n.logger.WithField(logging.FieldWidgetID, widgetID).WithField("viewId", viewID).Debug("View data changed")
}

func (n *hostNotifier) NotifyReloadFailed(widgetID string, err error) {
	n.mu.Lock()
	n.failures[widgetID] = err
	n.mu.Unlock()

	n.events.WithLabelValues("failed").Inc()
	n.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	n.logger.WithError(err).WithField(logging.FieldWidgetID, widgetID).Warn("Widget reload failed")
}

// status returns the view version of the widget and its last reload error.
func (n *hostNotifier) status(widgetID string) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.versions[widgetID], n.failures[widgetID]
}

func (n *hostNotifier) forget(widgetID string) {
	n.mu.Lock()
	delete(n.versions, widgetID)
	_, failed := n.failures[widgetID]
	delete(n.failures, widgetID)
	healthy := len(n.failures) == 0
	n.mu.Unlock()

	if failed && healthy {
		n.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	}
}

// App wires the store, the image pipeline and the widgets together.
type App struct {
	cfg      *Config
	db       gallery.DB
	feed     *gallery.ChangeFeed
	writer   *gallery.NotifyingWriter
	exec     *job.Executor
	pool     *bufpool.Pool
	policy   *sizepolicy.Policy
	cache    imagecache.Cache
	media    *media.Factory
	widgets  *widget.Registry
	notifier *hostNotifier
	health   *health.Server
	load     *LoadReporter
	logger   *log.Entry
}

// NewApp builds every component of the server. Metrics are registered
// with reg.
func NewApp(ctx context.Context, cfg *Config, reg prometheus.Registerer, logger *log.Entry) (*App, error) {
	db, err := openDB(cfg.DB.Type, cfg.DB.Path)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:     cfg,
		db:      db,
		feed:    gallery.NewChangeFeed(),
		policy:  sizepolicy.New(),
		widgets: widget.NewRegistry(),
		health:  health.NewServer(),
		load:    NewLoadReporter(cfg.LoadReport.Threshold),
		logger:  logger,
	}
	app.writer = gallery.NewNotifyingWriter(db, app.feed)
	app.policy.SetSizes(cfg.Sizes.Thumbnail, cfg.Sizes.Micro)
	app.policy.OnMicroThumbnailSizeChange(func(oldSize, newSize int) {
		logger.WithField("old", oldSize).WithField("new", newSize).Info("Micro thumbnail size changed")
	})

	policy, err := bufpool.ParsePolicy(cfg.Pool.Policy)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.pool, err = bufpool.New(cfg.Pool.Capacity, cfg.Pool.BufferSize, bufpool.WithPolicy(policy))
	if err != nil {
		app.Close()
		return nil, err
	}
	reg.MustRegister(app.pool)

	app.exec, err = job.NewExecutor(ctx,
		job.WithMaxInFlight(cfg.Jobs.MaxInFlight),
		job.WithLogger(logger),
		job.WithMetrics(job.NewMetrics(reg)))
	if err != nil {
		app.Close()
		return nil, err
	}

	cache, err := openCache(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	opts := []media.Option{media.WithLogger(logger)}
	if cache != nil {
		app.cache = imagecache.Instrument(cache, reg)
		opts = append(opts, media.WithCache(app.cache))
	}

	app.media, err = media.NewFactory(app.exec, app.pool, app.policy, db, opts...)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.notifier = newHostNotifier(app.health, reg, logger)
	app.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	return app, nil
}

// NewWidget creates and registers a widget.
func (a *App) NewWidget(cfg widget.Config) (*widget.Factory, error) {
	w, err := widget.NewFactory(cfg, a.db, a.media, a.feed, a.notifier,
		widget.WithLogger(a.logger),
		widget.WithReloadOptions(reload.WithDelay(a.cfg.Reload.Delay), reload.WithLogger(a.logger)))
	if err != nil {
		return nil, err
	}
	if !a.widgets.Add(w) {
		return nil, fmt.Errorf("widget %s already exists", cfg.ID)
	}
	return w, nil
}

// RemoveWidget destroys the widget.
func (a *App) RemoveWidget(id string) bool {
	if !a.widgets.Remove(id) {
		return false
	}
	a.notifier.forget(id)
	return true
}

// Close releases everything in reverse order of creation.
func (a *App) Close() error {
	a.widgets.Close()
	a.health.Shutdown()
	if a.exec != nil {
		a.exec.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	return a.db.Close()
}
