package session

import (
	"context"

	"go.uber.org/zap"

	"agentloop/internal/logging"
)

// DryRunner logs each request instead of starting a provider and reports
// it as Completed with no commits.
type DryRunner struct {
	Logger *logging.Logger
}

var _ Runner = (*DryRunner)(nil)

// Run implements Runner.
func (d *DryRunner) Run(ctx context.Context, req Request) Result {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger.Info(ctx, "dry run: would start session",
		zap.String("kind", string(req.Kind)),
		zap.String("provider", req.Options.Provider),
		zap.String("model", req.Options.Model),
		zap.String("thinking", req.Options.Thinking),
		zap.Duration("timeout", req.Options.Timeout),
		zap.String("prompt", req.Prompt),
	)
	return Result{Status: Completed}
}
