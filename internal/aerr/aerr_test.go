package aerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiviktnm/aurforge/internal/aerr"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *aerr.Error
		want string
	}{
		{
			name: "without cause",
			err:  aerr.New(aerr.KindNotFound, "package not found"),
			want: "not_found: package not found",
		},
		{
			name: "with cause",
			err:  aerr.Wrap(errors.New("boom"), aerr.KindCommand, "chroot build failed"),
			want: "command: chroot build failed (caused by: boom)",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	err := aerr.Wrap(cause, aerr.KindRPC, "request failed")

	require.ErrorIs(t, err, cause)
}

func TestErrorIsMatchesByKind(t *testing.T) {
	t.Parallel()

	a := aerr.New(aerr.KindCycle, "x depends on y depends on x")
	b := aerr.New(aerr.KindCycle, "different message, same kind")
	c := aerr.New(aerr.KindAborted, "user declined")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestIsHelper(t *testing.T) {
	t.Parallel()

	err := aerr.New(aerr.KindAmbiguous, "multiple build artifacts matched")

	assert.True(t, aerr.Is(err, aerr.KindAmbiguous))
	assert.False(t, aerr.Is(err, aerr.KindNotFound))
	assert.False(t, aerr.Is(errors.New("plain error"), aerr.KindAmbiguous))
}

func TestWithContextAndOperation(t *testing.T) {
	t.Parallel()

	err := aerr.New(aerr.KindParse, "missing pkgbase/pkgver").
		WithOperation("parse_srcinfo").
		WithContext("pkgname", "foo")

	assert.Equal(t, "parse_srcinfo", err.Operation)
	assert.Equal(t, "foo", err.Context["pkgname"])
}
