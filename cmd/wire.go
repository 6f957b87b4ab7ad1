package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zhubert/plural-chat/claude"
	"github.com/zhubert/plural-chat/config"
	"github.com/zhubert/plural-chat/hooks"
	"github.com/zhubert/plural-chat/logger"
	"github.com/zhubert/plural-chat/manager"
	"github.com/zhubert/plural-chat/paths"
	"github.com/zhubert/plural-chat/process"
	"github.com/zhubert/plural-chat/session"
)

// app is the state every subcommand starts from: the loaded config, the
// open log and the workspace's session store.
type app struct {
	cfg      *config.Config
	sessions *session.Store
	log      *slog.Logger
	debug    bool
}

func wireApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.workspace != "" {
		if err := cfg.SetWorkspace(opts.workspace); err != nil {
			return nil, fmt.Errorf("set workspace: %w", err)
		}
	}

	logPath, err := logger.DefaultLogPath()
	if err != nil {
		return nil, fmt.Errorf("resolve log path: %w", err)
	}
	logger.SetDebug(cfg.Debug || opts.debug)
	if err := logger.Init(logPath); err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	log := logger.Get()

	store, err := session.Open(paths.SessionsFilePath(cfg.Workspace), cfg.Session.Namespace, logger.WithComponent("session"))
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	log.Info("plural-chat starting", "version", Version, "workspace", cfg.Workspace, "config", cfg.Path())
	return &app{cfg: cfg, sessions: store, log: log, debug: opts.debug}, nil
}

func (a *app) close() {
	logger.Close()
}

// runnerConfig maps the claude section of the config onto the runner.
func (a *app) runnerConfig() claude.RunnerConfig {
	c := a.cfg.Claude
	return claude.RunnerConfig{
		Options: claude.Options{
			Executable:           c.Path,
			WorkingDir:           a.cfg.Workspace,
			Model:                c.Model,
			PermissionMode:       c.PermissionMode,
			SystemPrompt:         c.SystemPrompt,
			AllowedTools:         c.AllowedTools,
			DisallowedTools:      c.DisallowedTools,
			AddDirs:              c.AddDirs,
			MCPConfigPaths:       c.MCPConfig,
			StrictMCPConfig:      c.StrictMCPConfig,
			SettingSources:       c.SettingSources,
			DisableSlashCommands: c.DisableSlashCommands,
		},
		Timeout:   c.Timeout,
		KillGrace: c.KillGrace,
		StreamLog: c.StreamLog,
	}
}

// loadPipeline builds the hook pipeline: the allowlist first, then the
// shell hooks from the hooks file in file order.
func (a *app) loadPipeline() (*hooks.Pipeline, *hooks.Allowlist, error) {
	file, err := hooks.LoadFile(a.cfg.HooksFile)
	if err != nil {
		return nil, nil, err
	}
	allowlist := hooks.NewAllowlist(a.cfg.AllowedUsers)
	pipeline := hooks.NewPipeline(logger.WithComponent("hooks"), allowlist)
	pipeline.Add(file.Build(nil, logger.WithComponent("hooks"))...)
	return pipeline, allowlist, nil
}

// bridge is a running dispatcher together with the resources it owns.
type bridge struct {
	app        *app
	tracker    *process.Tracker
	allowlist  *hooks.Allowlist
	pipeline   *hooks.Pipeline
	dispatcher *manager.Dispatcher
}

// startBridge wires the runner, hooks and dispatcher for delivery. Callers
// must call shutdown once no more turns will be submitted.
func (a *app) startBridge(ctx context.Context, delivery manager.Delivery) (*bridge, error) {
	pipeline, allowlist, err := a.loadPipeline()
	if err != nil {
		return nil, err
	}
	if err := pipeline.Init(ctx); err != nil {
		return nil, fmt.Errorf("init hooks: %w", err)
	}

	tracker := process.NewTracker(logger.WithComponent("process"))
	runner := claude.NewRunner(a.runnerConfig(), a.sessions, tracker, logger.WithComponent("claude"))

	d := manager.NewDispatcher(manager.Options{
		Start:          manager.ClaudeStarter(runner),
		Sessions:       a.sessions,
		Delivery:       delivery,
		Hooks:          pipeline,
		Workspace:      a.cfg.Workspace,
		StatusInterval: a.cfg.Status.Interval,
		Log:            logger.WithComponent("manager"),
	})

	a.log.Info("bridge ready", "hooks", pipeline.Names())
	return &bridge{
		app:        a,
		tracker:    tracker,
		allowlist:  allowlist,
		pipeline:   pipeline,
		dispatcher: d,
	}, nil
}

// cleanupStale kills CLI processes left behind by a previous run for one of
// this workspace's sessions.
func (b *bridge) cleanupStale(ctx context.Context) {
	finder := process.NewFinder(nil, b.app.cfg.Claude.Path, logger.WithComponent("process"))
	killed, err := finder.CleanupStale(ctx, b.app.sessions.SessionIDs(), b.tracker.IsTracked)
	if err != nil {
		b.app.log.Warn("stale process cleanup failed", "error", err)
		return
	}
	if killed > 0 {
		b.app.log.Info("killed stale CLI processes", "count", killed)
	}
}

// applyConfig picks up the settings that can change without a restart.
func (b *bridge) applyConfig(cfg *config.Config) {
	b.allowlist.Set(cfg.AllowedUsers)
	logger.SetDebug(cfg.Debug || b.app.debug)
	b.app.log.Info("config reloaded", "allowedUsers", len(cfg.AllowedUsers), "debug", cfg.Debug)
}

// shutdown terminates any CLI process still running and disposes hooks.
func (b *bridge) shutdown() {
	if n := b.tracker.TerminateAll(b.app.cfg.Claude.KillGrace); n > 0 {
		b.app.log.Warn("force-killed CLI processes on shutdown", "count", n)
	}
	if err := b.pipeline.Dispose(); err != nil {
		b.app.log.Warn("dispose hooks", "error", err)
	}
	b.app.log.Info("bridge stopped")
}
