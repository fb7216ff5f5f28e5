package service

import (
	"context"
	"fmt"

	hclog "github.com/hashicorp/go-hclog"

	"attacher/internal/modules/attach/domain"
	attachout "attacher/internal/modules/attach/port/out"
	"attacher/internal/platform/clock"
	"attacher/internal/platform/id"
)

type AttachService struct {
	clock    clock.Clock
	idGen    id.Generator
	logger   hclog.Logger
	registry attachout.Registry
	store    attachout.ManifestStore
	host     attachout.Host
	journal  attachout.Journal
}

// NewAttachService wires the attach flow. store, host and journal may be nil.
func NewAttachService(clock clock.Clock, idGen id.Generator, logger hclog.Logger, registry attachout.Registry, store attachout.ManifestStore, host attachout.Host, journal attachout.Journal) *AttachService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &AttachService{
		clock:    clock,
		idGen:    idGen,
		logger:   logger.Named("attach"),
		registry: registry,
		store:    store,
		host:     host,
		journal:  journal,
	}
}

// Run resolves the named controller and drives attach, load and detach.
// Detach runs exactly once whenever attach succeeded. A load failure wins
// over a detach failure.
func (s *AttachService) Run(ctx context.Context, req domain.AttachRequest) error {
	record := domain.RunRecord{
		ID:             s.idGen.New(),
		ControllerType: req.ControllerType,
		ProcessID:      req.ProcessID,
		ExtensionPath:  req.ExtensionPath,
		Mode:           req.Mode(),
		HasArgument:    req.HasArgument(),
		State:          domain.StateUnattached,
		StartedAt:      s.clock.Now(),
	}
	err := s.run(ctx, req, &record)

	record.Failure = domain.Classify(err)
	if err != nil {
		record.Error = err.Error()
	}
	record.FinishedAt = s.clock.Now()
	s.record(ctx, record)
	return err
}

func (s *AttachService) run(ctx context.Context, req domain.AttachRequest, record *domain.RunRecord) (err error) {
	logger := s.logger.With("controller", req.ControllerType, "pid", req.ProcessID)

	controller, err := s.registry.Resolve(ctx, req.ControllerType)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", domain.ErrResolutionFailed, req.ControllerType, err)
	}
	defer func() {
		if closeErr := controller.Close(); closeErr != nil {
			logger.Warn("close controller", "error", closeErr)
		}
	}()

	session, err := controller.Attach(ctx, req.ProcessID)
	if err != nil {
		return fmt.Errorf("%w: process %s: %w", domain.ErrAttachFailed, req.ProcessID, err)
	}
	s.transition(logger, record, domain.StateAttached)
	logger.Debug("attached")

	defer func() {
		detachErr := detach(ctx, session)
		s.transition(logger, record, domain.StateDetached)
		if detachErr == nil {
			logger.Debug("detached")
			return
		}
		if err != nil {
			logger.Warn("detach after failed load", "error", detachErr)
			return
		}
		err = fmt.Errorf("%w: process %s: %w", domain.ErrDetachFailed, req.ProcessID, detachErr)
	}()

	s.transition(logger, record, domain.StateLoadAttempted)
	if err := s.load(ctx, session, req); err != nil {
		logger.Error("load agent", "mode", req.Mode(), "path", req.ExtensionPath, "error", err)
		return err
	}
	logger.Info("agent loaded", "mode", req.Mode(), "path", req.ExtensionPath)
	return nil
}

// load captures both returned errors and panics so the deferred detach in
// run still decides the outcome.
func (s *AttachService) load(ctx context.Context, session attachout.Session, req domain.AttachRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s agent %s: panic: %v", domain.ErrLoadFailed, req.Mode(), req.ExtensionPath, r)
		}
	}()

	argument := copyArgument(req.Argument)
	var loadErr error
	if req.Native {
		loadErr = session.LoadNative(ctx, req.ExtensionPath, argument)
	} else {
		loadErr = session.LoadManaged(ctx, req.ExtensionPath, argument)
	}
	if loadErr != nil {
		return fmt.Errorf("%w: %s agent %s: %w", domain.ErrLoadFailed, req.Mode(), req.ExtensionPath, loadErr)
	}
	return nil
}

func detach(ctx context.Context, session attachout.Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return session.Detach(ctx)
}

func (s *AttachService) transition(logger hclog.Logger, record *domain.RunRecord, next domain.SessionState) {
	state, err := record.State.Advance(next)
	if err != nil {
		logger.Warn("session state", "error", err)
		return
	}
	record.State = state
}

func (s *AttachService) record(ctx context.Context, record domain.RunRecord) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, record); err != nil {
		s.logger.Warn("record run", "run", record.ID, "error", err)
	}
}

func copyArgument(argument *string) *string {
	if argument == nil {
		return nil
	}
	value := *argument
	return &value
}
