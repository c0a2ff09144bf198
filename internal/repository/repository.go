package repository

import (
	"context"

	"github.com/sakif/live-playground/internal/model"
)

type ListOptions struct {
	Limit     int
	Offset    int
	Framework string
}

type RunRepository interface {
	Create(ctx context.Context, run *model.Run) error
	GetByID(ctx context.Context, id string) (*model.Run, error)
	List(ctx context.Context, opts ListOptions) ([]model.Run, error)
	Update(ctx context.Context, run *model.Run) error
	// FailRunning marks every run still in the running state as failed, for
	// runs orphaned by a restart.
	FailRunning(ctx context.Context, reason string) (int64, error)
}
