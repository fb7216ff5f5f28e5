package in

import (
	"context"

	"attacher/internal/modules/attach/dto"
)

type Usecase interface {
	Run(ctx context.Context, args []string) error
	Decode(ctx context.Context, args []string) (dto.DecodedRequest, error)
	ListControllers(ctx context.Context) ([]dto.ControllerInfo, error)
	Doctor(ctx context.Context) ([]dto.DoctorResult, error)
	History(ctx context.Context, limit int) ([]dto.RunInfo, error)
}
