package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"kappa-stage/pkg/axis"
	"kappa-stage/pkg/config"
	"kappa-stage/pkg/confirm"
	"kappa-stage/pkg/journal"
	"kappa-stage/pkg/kinematics"
	"kappa-stage/pkg/log"
	"kappa-stage/pkg/metrics"
	"kappa-stage/pkg/positioner"
	"kappa-stage/pkg/safety"
)

const shutdownTimeout = 5 * time.Second

// app is one running stage with its optional services.
type app struct {
	cfg     *config.StageConfig
	logger  *log.Logger
	stage   *positioner.Kappa
	metrics *metrics.StageMetrics
	journal *journal.Store

	logFile    *log.FileWriter
	remote     *confirm.Remote
	remoteSrv  *http.Server
	metricsSrv *metrics.Server
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.confirm != "" {
		cfg.Confirm.Mode = opts.confirm
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	root := log.New("")
	root.SetFormat(log.ParseFormat(cfg.Log.Format))
	root.SetLevel(log.ParseLevel(cfg.Log.Level))
	if opts.verbose {
		root.SetLevel(log.DEBUG)
	}
	var logFile *log.FileWriter
	if cfg.Log.File != "" {
		logFile, err = log.OpenFile(log.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   cfg.Log.Compress,
		})
		if err != nil {
			return nil, err
		}
		root.SetWriter(logFile)
	}
	log.SetDefaultLogger(root)

	a := &app{
		cfg:     cfg,
		logger:  root.WithPrefix("kappa-sim"),
		metrics: metrics.NewStageMetrics(cfg.Name),
		logFile: logFile,
	}
	if err := a.start(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) start(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		a.journal = store
	}

	provider, err := a.provider()
	if err != nil {
		return err
	}

	initial := cfg.InitialPosition()
	if rp, ok := a.resumePosition(ctx); ok {
		initial = rp
	}
	drivers := make([]*axis.SimAxis, 0, 3)
	for _, d := range []struct {
		name string
		pos  float64
	}{{"eta", initial.Eta}, {"kappa", initial.Kappa}, {"phi", initial.Phi}} {
		sim := axis.NewSimAxis(d.name, d.pos)
		sim.SetSpeed(cfg.Sim.Speed)
		drivers = append(drivers, sim)
	}

	opts := positioner.Options{
		Name:     cfg.Name,
		Geometry: cfg.Geometry(),
		Limits:   &cfg.StepLimits,
		Provider: confirm.WithTimeout(provider, cfg.Confirm.Timeout),
		Logger:   log.GetLogger(cfg.Name),
		Metrics:  a.metrics,
	}
	if a.journal != nil {
		opts.Journal = a.journal
	}
	stage, err := positioner.New(drivers[0], drivers[1], drivers[2], opts)
	if err != nil {
		return err
	}
	a.stage = stage

	if cfg.Metrics.Listen != "" {
		a.metricsSrv = metrics.NewServer(a.metrics, cfg.Metrics.Listen)
		errCh := a.metricsSrv.StartAsync()
		go func() {
			if err := <-errCh; err != nil {
				a.logger.WithError(err).Error("metrics server stopped")
			}
		}()
		a.logger.Info("metrics on %s", cfg.Metrics.Listen)
	}
	return nil
}

// provider builds the confirmation provider for the configured mode.
func (a *app) provider() (safety.ConfirmationProvider, error) {
	title := fmt.Sprintf("%s: confirm move", a.cfg.Name)
	switch a.cfg.Confirm.Mode {
	case config.ConfirmTerminal:
		return confirm.NewTerminal(title), nil
	case config.ConfirmYes:
		return confirm.Always(true), nil
	case config.ConfirmNo:
		return confirm.Always(false), nil
	case config.ConfirmRemote:
		a.remote = confirm.NewRemote(title)
		mux := http.NewServeMux()
		mux.Handle("/confirm", a.remote)
		a.remoteSrv = &http.Server{
			Addr:              a.cfg.Confirm.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := a.remoteSrv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				a.logger.WithError(err).Error("confirmation server stopped")
			}
		}()
		a.logger.Info("confirmation clients on ws://%s/confirm", a.cfg.Confirm.Listen)
		return a.remote, nil
	default:
		return nil, config.ErrInvalidChoice("confirm", "mode", a.cfg.Confirm.Mode, nil)
	}
}

// resumePosition returns the setpoint of the last successful move in the
// journal, so consecutive invocations continue where the stage stopped.
func (a *app) resumePosition(ctx context.Context) (kinematics.RealPosition, bool) {
	if a.journal == nil {
		return kinematics.RealPosition{}, false
	}
	entries, err := a.journal.Recent(ctx, a.cfg.Name, 100)
	if err != nil {
		a.logger.WithError(err).Warn("cannot read journal, starting from initial position")
		return kinematics.RealPosition{}, false
	}
	for _, e := range entries {
		if e.Outcome == journal.OutcomeSuccess && e.Setpoint != nil {
			return *e.Setpoint, true
		}
	}
	return kinematics.RealPosition{}, false
}

// Close stops every service the app started.
func (a *app) Close() {
	if a.stage != nil {
		a.stage.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if a.remoteSrv != nil {
		_ = a.remoteSrv.Shutdown(ctx)
	}
	if a.remote != nil {
		a.remote.Close()
	}
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(ctx)
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.WithError(err).Warn("closing journal")
		}
	}
	_ = a.logger.Sync()
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
