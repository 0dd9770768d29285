package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionError_KindAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	err := fmt.Errorf("testing connection: %w", &ConnectionError{Kind: ConnectionUnreachable, Err: cause})

	assert.Equal(t, ConnectionUnreachable, ConnectionErrorKindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestConnectionError_Messages(t *testing.T) {
	tests := []struct {
		err  *ConnectionError
		want string
	}{
		{err: &ConnectionError{Kind: ConnectionAuthRejected, Status: 401}, want: "credentials rejected by endpoint (status 401)"},
		{err: &ConnectionError{Kind: ConnectionUnexpectedStatus, Status: 502}, want: "endpoint returned unexpected status 502"},
		{err: &ConnectionError{Kind: ConnectionTimeout, Err: errors.New("deadline")}, want: "connection test timed out: deadline"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestConnectionErrorKindOf_NonConnectionError(t *testing.T) {
	assert.Equal(t, ConnectionErrorKind(0), ConnectionErrorKindOf(errors.New("boom")))
	assert.Equal(t, ConnectionErrorKind(0), ConnectionErrorKindOf(nil))
}
