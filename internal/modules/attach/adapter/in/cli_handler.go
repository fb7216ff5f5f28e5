package in

import (
	"context"

	"attacher/internal/modules/attach/dto"
	attachin "attacher/internal/modules/attach/port/in"
)

const (
	ExitSuccess = 0
	ExitFailure = 1
)

type CLIHandler struct {
	usecase attachin.Usecase
}

func NewCLIHandler(usecase attachin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

// Run executes one attach run and reports only an exit status. Errors and
// panics from any stage collapse to ExitFailure.
func (h CLIHandler) Run(ctx context.Context, args []string) (code int) {
	defer func() {
		if recover() != nil {
			code = ExitFailure
		}
	}()
	return ExitCode(h.usecase.Run(ctx, args))
}

func ExitCode(err error) int {
	if err != nil {
		return ExitFailure
	}
	return ExitSuccess
}

func (h CLIHandler) Decode(ctx context.Context, args []string) (dto.DecodedRequest, error) {
	return h.usecase.Decode(ctx, args)
}

func (h CLIHandler) ListControllers(ctx context.Context) ([]dto.ControllerInfo, error) {
	return h.usecase.ListControllers(ctx)
}

func (h CLIHandler) Doctor(ctx context.Context) ([]dto.DoctorResult, error) {
	return h.usecase.Doctor(ctx)
}

func (h CLIHandler) History(ctx context.Context, limit int) ([]dto.RunInfo, error) {
	return h.usecase.History(ctx, limit)
}

// Attach runs like Run but returns the error for operator diagnostics.
func (h CLIHandler) Attach(ctx context.Context, args []string) error {
	return h.usecase.Run(ctx, args)
}
