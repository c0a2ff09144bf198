package frontend

import (
	"context"

	"github.com/sakif/live-playground/internal/executor"
)

// Vanilla runs plain JavaScript against the #root element with no dependencies.
type Vanilla struct{}

func NewVanilla() *Vanilla { return &Vanilla{} }

var _ executor.Frontend = (*Vanilla)(nil)

func (Vanilla) Execute(ctx context.Context, code string, req executor.Request) (string, error) {
	return pipeline{
		scriptType: "module",
		body: func(code string) string {
			return `const root = document.getElementById("` + MountID + `");
` + guard(code)
		},
	}.execute(ctx, code, req)
}
