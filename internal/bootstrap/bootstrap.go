package bootstrap

import (
	"errors"
	"fmt"
	"io"

	hclog "github.com/hashicorp/go-hclog"

	attachinadapter "attacher/internal/modules/attach/adapter/in"
	attachoutadapter "attacher/internal/modules/attach/adapter/out"
	attachout "attacher/internal/modules/attach/port/out"
	attachservice "attacher/internal/modules/attach/service"
	attachusecase "attacher/internal/modules/attach/usecase"
	"attacher/internal/platform/clock"
	"attacher/internal/platform/config"
	"attacher/internal/platform/id"
	"attacher/internal/platform/logging"
)

// Built-in controller names. The second is the JDK attach API type a
// launcher passes when it drives a HotSpot target.
const (
	ControllerHotSpot        = "hotspot"
	ControllerVirtualMachine = "com.sun.tools.attach.VirtualMachine"
)

type App struct {
	AttachCLI attachinadapter.CLIHandler
	Logger    hclog.Logger
	// Degraded lists optional parts that failed to start. The app runs
	// without them.
	Degraded []error

	closers []io.Closer
}

// New wires the attach module. Only a broken controller registry is fatal;
// an unusable log file or journal is recorded in Degraded instead, so that
// the attach outcome alone decides the exit status.
func New(name string, cfg config.Config) (*App, error) {
	app := &App{}
	logger, logCloser, err := logging.New(name, cfg)
	if err != nil {
		app.Degraded = append(app.Degraded, err)
		logger = hclog.NewNullLogger()
	} else {
		app.closers = append(app.closers, logCloser)
	}
	app.Logger = logger

	hotspot := attachoutadapter.HotSpotConfig{
		AttachTimeout: cfg.HotSpot.AttachTimeout,
		TmpDir:        cfg.HotSpot.TmpDir,
	}
	host := attachoutadapter.NewGRPCHost(logger)
	opts := []attachoutadapter.RegistryOption{
		attachoutadapter.WithController(ControllerHotSpot, "HotSpot dynamic attach socket", attachoutadapter.HotSpotFactory(hotspot, logger)),
		attachoutadapter.WithController(ControllerVirtualMachine, "alias of "+ControllerHotSpot, attachoutadapter.HotSpotFactory(hotspot, logger)),
	}
	var store attachout.ManifestStore
	if cfg.ManifestPath != "" {
		store = attachoutadapter.NewFileManifestStore(cfg.HomePath, cfg.ManifestPath)
		opts = append(opts, attachoutadapter.WithPlugins(store, host))
	}
	registry, err := attachoutadapter.NewRegistry(opts...)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("new controller registry: %w", err)
	}

	var journal attachout.Journal
	if cfg.Journal {
		sqliteJournal, err := attachoutadapter.NewSQLiteJournal(cfg.JournalPath)
		if err != nil {
			err = fmt.Errorf("open run journal: %w", err)
			logger.Warn("run journal disabled", "path", cfg.JournalPath, "error", err)
			app.Degraded = append(app.Degraded, err)
		} else {
			journal = sqliteJournal
			app.closers = append(app.closers, sqliteJournal)
		}
	}

	attachUC := attachusecase.NewInteractor(attachservice.NewAttachService(
		clock.UTC{},
		id.RunID{},
		logger,
		registry,
		store,
		host,
		journal,
	))
	app.AttachCLI = attachinadapter.NewCLIHandler(attachUC)
	return app, nil
}

// Close releases the journal and log file, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
