package out

import (
	"context"

	"attacher/internal/modules/attach/domain"
)

// Session is bound to one attach of one target process.
type Session interface {
	LoadManaged(ctx context.Context, path string, argument *string) error
	LoadNative(ctx context.Context, path string, argument *string) error
	Detach(ctx context.Context) error
}

type Controller interface {
	Attach(ctx context.Context, processID string) (Session, error)
	// Close releases whatever resolution acquired. It runs after Detach.
	Close() error
}

type Factory func(ctx context.Context) (Controller, error)

type Registry interface {
	Resolve(ctx context.Context, name string) (Controller, error)
	List(ctx context.Context) ([]domain.ControllerInfo, error)
}

type ManifestStore interface {
	Load(ctx context.Context) ([]domain.Manifest, error)
}

type Host interface {
	CheckLifecycle(ctx context.Context, manifest domain.Manifest) error
	GetMetadata(ctx context.Context, manifest domain.Manifest) (domain.Metadata, error)
}

type Journal interface {
	Record(ctx context.Context, record domain.RunRecord) error
	Recent(ctx context.Context, limit int) ([]domain.RunRecord, error)
}
