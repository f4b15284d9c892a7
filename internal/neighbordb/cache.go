package neighbordb

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HerbHall/ztpserver/pkg/models"
)

var reloadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ztp_neighbordb_reloads_total",
		Help: "Total neighbordb reloads by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(reloadsTotal)
}

// debounceWindow collapses the burst of events editors emit on save.
const debounceWindow = 200 * time.Millisecond

// Cache holds the last successfully compiled neighbordb and reloads it when
// the file changes on disk. A failed reload keeps the previous version.
type Cache struct {
	loader *Loader
	logger *zap.Logger

	mu sync.RWMutex
	db *Neighbordb
}

// NewCache returns an empty cache; the first MatchNode loads neighbordb.
func NewCache(loader *Loader, logger *zap.Logger) *Cache {
	return &Cache{loader: loader, logger: logger}
}

// Reload reads neighbordb and swaps it in on success.
func (c *Cache) Reload(ctx context.Context) error {
	db, err := c.loader.Load(ctx)
	if err != nil {
		reloadsTotal.WithLabelValues("error").Inc()
		return err
	}
	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
	reloadsTotal.WithLabelValues("ok").Inc()
	c.logger.Info("neighbordb loaded",
		zap.String("path", c.loader.Path()),
		zap.Int("patterns", len(db.Patterns())),
	)
	return nil
}

// MatchNode matches node against the cached neighbordb, loading it first
// if nothing has been cached yet.
func (c *Cache) MatchNode(ctx context.Context, node *models.Node) ([]*Pattern, error) {
	c.mu.RLock()
	db := c.db
	c.mu.RUnlock()

	if db == nil {
		if err := c.Reload(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		db = c.db
		c.mu.RUnlock()
	}
	return db.MatchNode(node), nil
}

// Watch reloads the cache whenever diskPath changes, until ctx is done.
// The parent directory is watched so atomic rename-on-save is seen, and is
// created if missing so a neighbordb added later is still picked up. Watching
// is best effort: a watcher that cannot start is logged and Watch returns nil.
func (c *Cache) Watch(ctx context.Context, diskPath string) error {
	dir := filepath.Dir(diskPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.logger.Warn("neighbordb watch disabled", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("neighbordb watch disabled", zap.Error(err))
		return nil
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		c.logger.Warn("neighbordb watch disabled", zap.String("dir", dir), zap.Error(err))
		return nil
	}
	target := filepath.Clean(diskPath)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			if err := c.Reload(ctx); err != nil {
				c.logger.Warn("neighbordb reload failed, keeping previous version",
					zap.String("path", diskPath),
					zap.Error(err),
				)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("neighbordb watcher error", zap.Error(err))
		}
	}
}
