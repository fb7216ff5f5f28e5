package usecase

import (
	"context"
	"fmt"

	"attacher/internal/modules/attach/domain"
	"attacher/internal/modules/attach/dto"
	attachin "attacher/internal/modules/attach/port/in"
	"attacher/internal/modules/attach/service"
)

type Interactor struct {
	svc *service.AttachService
}

func NewInteractor(svc *service.AttachService) attachin.Usecase {
	return &Interactor{svc: svc}
}

func (i *Interactor) Run(ctx context.Context, args []string) error {
	req, err := domain.DecodeArgs(args)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	return i.svc.Run(ctx, req)
}

func (i *Interactor) Decode(_ context.Context, args []string) (dto.DecodedRequest, error) {
	req, err := domain.DecodeArgs(args)
	if err != nil {
		return dto.DecodedRequest{}, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	return dto.DecodedRequest{
		ControllerType: req.ControllerType,
		ProcessID:      req.ProcessID,
		ExtensionPath:  req.ExtensionPath,
		Native:         req.Native,
		HasArgument:    req.HasArgument(),
		Argument:       req.ArgumentValue(),
	}, nil
}

func (i *Interactor) ListControllers(ctx context.Context) ([]dto.ControllerInfo, error) {
	return i.svc.ListControllers(ctx)
}

func (i *Interactor) Doctor(ctx context.Context) ([]dto.DoctorResult, error) {
	return i.svc.Doctor(ctx)
}

func (i *Interactor) History(ctx context.Context, limit int) ([]dto.RunInfo, error) {
	return i.svc.History(ctx, limit)
}
