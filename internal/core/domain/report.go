package domain

import "time"

// Report summarises one wrapped build and what was relayed from it
type Report struct {
	BuildID  string        `json:"build_id"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`

	// Relayed is false when the relay was disabled for the build
	Relayed bool `json:"relayed"`

	ChunksCaptured  int `json:"chunks_captured"`
	ChunksDelivered int `json:"chunks_delivered"`
	ChunksFailed    int `json:"chunks_failed"`
	ChunksAbandoned int `json:"chunks_abandoned"`

	Deliveries []DeliveryResult `json:"deliveries,omitempty"`

	// Warnings hold relay problems. They never change the build outcome.
	Warnings []string `json:"warnings,omitempty"`
}

// AddWarning records a relay problem
func (r *Report) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Succeeded reports whether the wrapped build exited with status zero
func (r *Report) Succeeded() bool {
	return r.ExitCode == 0
}
