package livestream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hls-supervisor/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

// DefaultKillTimeout bounds how long a kill waits for the process to exit.
const DefaultKillTimeout = 2 * time.Second

// ControllerConfig holds the immutable settings of a Controller.
type ControllerConfig struct {
	OutputRoot  string
	KillTimeout time.Duration
	Transcode   TranscodeOptions
}

// Controller starts, replaces and stops transcoder sessions. The latest start
// for a key wins; there is no automatic restart of a crashed transcoder.
type Controller struct {
	keys     *KeyRegistry
	table    *ProcessTable
	launcher Launcher
	cfg      ControllerConfig
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewController wires a Controller. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewController(keys *KeyRegistry, table *ProcessTable, launcher Launcher, cfg ControllerConfig, log *slog.Logger, m *metrics.Metrics) *Controller {
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	cfg.Transcode = cfg.Transcode.withDefaults()
	return &Controller{
		keys:     keys,
		table:    table,
		launcher: launcher,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// StartSession authorizes key, supersedes any running session for it and
// spawns a new transcoder. Errors wrap ErrUnauthorized, ErrIO or ErrSpawn.
func (c *Controller) StartSession(key StreamKey) (SessionInfo, error) {
	if !c.keys.IsAuthorized(key) {
		c.log.Info("publish rejected", slog.String("stream_key", string(key)))
		if c.metrics != nil {
			c.metrics.IncPublishRejected()
		}
		return SessionInfo{}, ErrUnauthorized
	}

	if prev := c.table.Remove(key); prev != nil {
		c.log.Info("replacing running session",
			slog.String("stream_key", string(key)),
			slog.String("session_id", prev.ID),
			slog.Int("pid", prev.PID()))
		c.terminate(context.Background(), prev)
	}

	outDir := filepath.Join(c.cfg.OutputRoot, string(key))
	if err := c.prepareOutput(outDir); err != nil {
		c.log.Error("cannot create output directory",
			slog.String("stream_key", string(key)),
			slog.String("dir", outDir),
			slog.String("error", err.Error()))
		c.countStartFailure("io")
		return SessionInfo{}, fmt.Errorf("%w: %v", ErrIO, err)
	}

	inv := c.cfg.Transcode.Invocation(key, outDir)
	proc, err := c.launcher.Launch(inv)
	if err != nil {
		if !errors.Is(err, ErrIO) && !errors.Is(err, ErrSpawn) {
			err = fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		c.log.Error("failed to start transcoder",
			slog.String("stream_key", string(key)),
			slog.String("command", inv.String()),
			slog.String("error", err.Error()))
		if errors.Is(err, ErrIO) {
			c.countStartFailure("io")
		} else {
			c.countStartFailure("spawn")
		}
		return SessionInfo{}, err
	}

	sess := newSession(key, outDir, proc, c.now())
	go c.watch(sess)

	if displaced := c.table.Put(key, sess); displaced != nil {
		// A concurrent start registered first; this one supersedes it.
		c.log.Warn("concurrent start displaced session",
			slog.String("stream_key", string(key)),
			slog.String("session_id", displaced.ID),
			slog.Int("pid", displaced.PID()))
		c.terminate(context.Background(), displaced)
	}

	c.log.Info("transcoder started",
		slog.String("stream_key", string(key)),
		slog.String("session_id", sess.ID),
		slog.Int("pid", sess.PID()),
		slog.String("command", inv.String()))
	if c.metrics != nil {
		c.metrics.IncSessionsStarted()
	}
	return sess.Info(), nil
}

// StopSession removes and kills the session for key. It reports whether a
// session existed; stopping an unknown key is a no-op.
func (c *Controller) StopSession(key StreamKey) bool {
	sess := c.table.Remove(key)
	if sess == nil {
		c.log.Info("no transcoder running for stream key", slog.String("stream_key", string(key)))
		return false
	}
	c.terminate(context.Background(), sess)
	c.log.Info("transcoder stopped",
		slog.String("stream_key", string(key)),
		slog.String("session_id", sess.ID))
	return true
}

// StopAll removes and kills every registered session concurrently. Used at
// shutdown. Every process is signalled even when ctx is already done; ctx only
// cuts the wait for exits short, and its error is returned in that case.
func (c *Controller) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, key := range c.table.Keys() {
		key := key
		g.Go(func() error {
			sess := c.table.Remove(key)
			if sess == nil {
				return nil
			}
			c.terminate(ctx, sess)
			c.log.Info("transcoder stopped",
				slog.String("stream_key", string(key)),
				slog.String("session_id", sess.ID))
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// Sessions lists the registered sessions.
func (c *Controller) Sessions() []SessionInfo {
	return c.table.Snapshot()
}

// ActiveSessions returns the number of registered sessions.
func (c *Controller) ActiveSessions() int {
	return c.table.Len()
}

func (c *Controller) prepareOutput(outDir string) error {
	if err := os.MkdirAll(filepath.Join(outDir, logsDirName), 0o755); err != nil {
		return err
	}
	for _, r := range c.cfg.Transcode.Renditions {
		if err := os.MkdirAll(filepath.Join(outDir, string(r.Name)), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// terminate kills the session's process and waits at most KillTimeout, or
// until ctx is done, for it to be reaped. A process that outlives the wait is
// logged as orphaned.
func (c *Controller) terminate(ctx context.Context, sess *Session) {
	sess.stopping.Store(true)
	if err := sess.proc.Kill(); err != nil {
		c.log.Warn("kill transcoder failed",
			slog.String("stream_key", string(sess.Key)),
			slog.Int("pid", sess.PID()),
			slog.String("error", err.Error()))
	}

	timer := time.NewTimer(c.cfg.KillTimeout)
	defer timer.Stop()

	orphaned := ""
	select {
	case <-sess.proc.Done():
	default:
		select {
		case <-sess.proc.Done():
		case <-timer.C:
			orphaned = "kill timeout"
		case <-ctx.Done():
			orphaned = "shutdown deadline"
		}
	}
	if orphaned != "" {
		c.log.Warn("transcoder did not exit after kill, leaving it orphaned",
			slog.String("stream_key", string(sess.Key)),
			slog.Int("pid", sess.PID()),
			slog.String("reason", orphaned),
			slog.Duration("timeout", c.cfg.KillTimeout))
		if c.metrics != nil {
			c.metrics.IncOrphaned()
		}
	}
	if c.metrics != nil {
		c.metrics.IncSessionsStopped()
	}
}

// watch logs a transcoder that exits on its own. The session stays registered
// until the next stop or start for its key.
func (c *Controller) watch(sess *Session) {
	<-sess.proc.Done()
	if sess.stopping.Load() {
		return
	}
	attrs := []any{
		slog.String("stream_key", string(sess.Key)),
		slog.String("session_id", sess.ID),
		slog.Int("pid", sess.PID()),
	}
	if err := sess.proc.Err(); err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	c.log.Warn("transcoder exited unexpectedly", attrs...)
	if c.metrics != nil {
		c.metrics.IncTranscoderExits()
	}
}

func (c *Controller) countStartFailure(reason string) {
	if c.metrics != nil {
		c.metrics.IncStartFailures(reason)
	}
}
