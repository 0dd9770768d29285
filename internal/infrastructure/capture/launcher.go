package capture

import (
	"context"
	"log/slog"
	"time"

	"consolerelay.dev/cli/internal/core/ports"
)

// Launcher starts builds as captured child processes
type Launcher struct {
	Logger    *slog.Logger
	KillGrace time.Duration
}

// Launch starts build and returns its running capture
func (l Launcher) Launch(ctx context.Context, build ports.Build, queueCapacity int) (ports.BuildProcess, error) {
	p := NewProcessCapture(ProcessOptions{
		Options: Options{
			QueueCapacity: queueCapacity,
			Stdout:        build.Stdout,
			Stderr:        build.Stderr,
			Logger:        l.Logger,
		},
		WorkingDir: build.WorkingDir,
		Env:        build.Env,
		Stdin:      build.Stdin,
		KillGrace:  l.KillGrace,
	})
	if err := p.Start(ctx, build.Command, build.Args); err != nil {
		return nil, err
	}
	return p, nil
}
