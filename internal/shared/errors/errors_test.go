package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "boot failure",
			err:  BootFailure("effect", "mount", fmt.Errorf("disk full")),
			want: `BootFailure (mount) in workspace "effect": disk full`,
		},
		{
			name: "write failure",
			err:  WriteFailure("effect", "package.json", ErrUnavailable),
			want: `WriteFailure (write package.json) in workspace "effect": workspace unavailable`,
		},
		{
			name: "attach failure",
			err:  AttachFailure("", ErrInvalidTarget),
			want: "AttachFailure (attach): invalid render target",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := fmt.Errorf("install exited 1")
	err := fmt.Errorf("acquire: %w", BootFailure("effect", "install", cause))

	assert.True(t, Is(err, cause))
	assert.Equal(t, KindBoot, KindOf(err))

	var e *Error
	assert.True(t, As(err, &e))
	assert.Equal(t, "install", e.Op)
}

func TestUnavailable(t *testing.T) {
	cause := BootFailure("effect", "mount", fmt.Errorf("boom"))
	err := Unavailable(cause)

	assert.True(t, Is(err, ErrUnavailable))
	assert.Equal(t, KindBoot, KindOf(err))
	assert.Equal(t, ErrUnavailable, Unavailable(nil))
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{fmt.Errorf("plain"), ExitGeneralError},
		{BootFailure("w", "create", nil), ExitBootFailed},
		{WriteFailure("w", "p", nil), ExitWriteFailed},
		{AttachFailure("w", nil), ExitAttachFailed},
		{NotFound("w"), ExitNotFound},
		{Validation("bad"), ExitValidation},
		{ConfigError("load", nil), ExitConfigError},
		{fmt.Errorf("wrapped: %w", NotFound("w")), ExitNotFound},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, GetExitCode(tt.err), "%v", tt.err)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{WriteFailure("w", "p", ErrUnavailable), http.StatusServiceUnavailable},
		{WriteFailure("w", "p", fmt.Errorf("io")), http.StatusInternalServerError},
		{BootFailure("w", "mount", fmt.Errorf("io")), http.StatusServiceUnavailable},
		{NotFound("w"), http.StatusNotFound},
		{Validation("bad"), http.StatusBadRequest},
		{AttachFailure("w", ErrInvalidTarget), http.StatusBadRequest},
		{Unavailable(nil), http.StatusServiceUnavailable},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, GetHTTPStatus(tt.err), "%v", tt.err)
	}
}
