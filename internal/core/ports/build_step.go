package ports

import (
	"context"
	"io"

	"consolerelay.dev/cli/internal/core/domain"
)

// ProjectKind names the kind of job a build step is attached to
type ProjectKind string

const (
	ProjectFreestyle ProjectKind = "freestyle"
	ProjectPipeline  ProjectKind = "pipeline"
	ProjectMatrix    ProjectKind = "matrix"
)

// Descriptor describes a build step to the host
type Descriptor struct {
	ID          string
	DisplayName string
	Applicable  func(kind ProjectKind) bool
}

// IsApplicable reports whether the step can be attached to the project kind
func (d Descriptor) IsApplicable(kind ProjectKind) bool {
	if d.Applicable == nil {
		return true
	}
	return d.Applicable(kind)
}

// Build is one invocation of a wrapped build command
type Build struct {
	Command     string
	Args        []string
	ProjectKind ProjectKind
	WorkingDir  string
	Env         map[string]string

	// NoRelay disables relaying for this build only
	NoRelay bool

	// Stdin is passed to the build. Stdout and Stderr receive its output
	// as it is captured.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// BuildStep is the capability a host registers to wrap builds
type BuildStep interface {
	Descriptor() Descriptor
	Configure(ctx context.Context, form domain.ConfigForm) error
	Run(ctx context.Context, build Build) (domain.Report, error)
	Test(ctx context.Context, form domain.ConfigForm) error
}

// BuildProcess is a started build whose console is being captured
type BuildProcess interface {
	LogCapture

	// Wait blocks until the build has exited and its output is drained
	Wait()

	// ExitCode is the build's exit status, or -1 if it was killed
	ExitCode() int
}

// ProcessLauncher starts build commands with their output captured
type ProcessLauncher interface {
	Launch(ctx context.Context, build Build, queueCapacity int) (BuildProcess, error)
}
