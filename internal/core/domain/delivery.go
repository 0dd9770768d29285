package domain

import "fmt"

// DeliveryResult describes one delivery of a batch, including its retries
type DeliveryResult struct {
	Success     bool   `json:"success"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
	Attempts    int    `json:"attempts"`
	Chunks      int    `json:"chunks"`

	// Buffered is set when the chunk was accepted but nothing was transmitted
	Buffered bool `json:"buffered,omitempty"`
}

// HasStatus reports whether an HTTP response was received
func (r DeliveryResult) HasStatus() bool {
	return r.HTTPStatus != 0
}

func (r DeliveryResult) String() string {
	if r.Buffered {
		return "buffered"
	}
	if r.Success {
		return fmt.Sprintf("delivered %d chunks (status %d, %d attempts)", r.Chunks, r.HTTPStatus, r.Attempts)
	}
	return fmt.Sprintf("failed to deliver %d chunks after %d attempts: %s", r.Chunks, r.Attempts, r.ErrorDetail)
}
