package ingestion

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultSettleDelay = 2 * time.Second

// Scanner runs one directory scan.
type Scanner interface {
	Execute(ctx context.Context, filesPath string) (models.ScanSummary, error)
}

type AgentConfig struct {
	Dir      string
	Interval time.Duration
	// Watch also triggers a scan when files are created or written in Dir.
	Watch bool
	// SettleDelay is the quiet period after the last filesystem event before
	// a scan starts, so files still being written are not picked up early.
	SettleDelay time.Duration
}

// Agent runs scans on a timer and on filesystem events. Scans never overlap.
type Agent struct {
	scanner Scanner
	config  AgentConfig
	logger  *zap.Logger

	mu      sync.Mutex
	trigger chan struct{}
}

func NewAgent(scanner Scanner, cfg AgentConfig, logger *zap.Logger) *Agent {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	return &Agent{
		scanner: scanner,
		config:  cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// Run scans once immediately, then on every tick or trigger until ctx is
// done. A scan in progress is allowed to finish its current file.
func (a *Agent) Run(ctx context.Context) error {
	if a.config.Watch {
		if err := a.startWatcher(ctx); err != nil {
			a.logger.Warn("filesystem watcher unavailable, relying on interval only", zap.Error(err))
		}
	}

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	a.logger.Info("agent started", zap.String("dir", a.config.Dir), zap.Duration("interval", a.config.Interval), zap.Bool("watch", a.config.Watch))
	a.ScanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopping")
			return nil
		case <-ticker.C:
			a.ScanOnce(ctx)
		case <-a.trigger:
			a.ScanOnce(ctx)
		}
	}
}

// Trigger requests a scan. Requests made while one is pending collapse into
// a single scan.
func (a *Agent) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

// ScanOnce runs a scan, waiting for any scan already in progress.
func (a *Agent) ScanOnce(ctx context.Context) (models.ScanSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ctx.Err() != nil {
		return models.ScanSummary{}, ctx.Err()
	}

	summary, err := a.scanner.Execute(ctx, a.config.Dir)
	if err != nil {
		a.logger.Error("scan failed", zap.Error(err))
	}
	return summary, err
}

func (a *Agent) startWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(a.config.Dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var settle *time.Timer
		defer func() {
			if settle != nil {
				settle.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 || !IsCandidate(filepath.Base(evt.Name)) {
					continue
				}
				a.logger.Debug("landing event", zap.String("file", evt.Name), zap.String("op", evt.Op.String()))
				if settle == nil {
					settle = time.AfterFunc(a.config.SettleDelay, a.Trigger)
				} else {
					settle.Reset(a.config.SettleDelay)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				a.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
