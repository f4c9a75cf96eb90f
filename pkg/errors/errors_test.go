package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorMessageFormatting(t *testing.T) {
	base := New("TEST", "something failed", http.StatusBadRequest)
	require.Equal(t, "something failed", base.Error())

	inner := stderrors.New("disk full")
	wrapped := base.WithInternal(inner)
	require.Equal(t, "something failed: disk full", wrapped.Error())
	require.ErrorIs(t, wrapped, inner)
}

func TestWithInternalDoesNotMutateOriginal(t *testing.T) {
	inner := stderrors.New("boom")
	wrapped := ErrUnauthenticated.WithInternal(inner)

	require.Nil(t, ErrUnauthenticated.Internal)
	require.Equal(t, ErrUnauthenticated.Code, wrapped.Code)
	require.ErrorIs(t, wrapped, inner)
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	app := FromError(ErrNotFound)
	require.Equal(t, ErrNotFound.Code, app.Code)

	generic := FromError(stderrors.New("oops"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.EqualError(t, generic.Internal, "oops")
}

func TestWrapKeepsInternal(t *testing.T) {
	inner := stderrors.New("root cause")
	wrapped := Wrap(inner, "operation failed")

	require.Equal(t, http.StatusInternalServerError, wrapped.StatusCode)
	require.ErrorIs(t, wrapped, inner)
}
