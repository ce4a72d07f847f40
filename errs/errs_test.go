package errs_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"refinedb/errs"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	inner := errs.New(errs.NullUnwrap, "field %q is absent", "n")
	outer := fmt.Errorf("graph failed: %w", inner)

	require.True(t, errs.Is(outer, errs.NullUnwrap))
	require.False(t, errs.Is(outer, errs.TypeError))
	require.False(t, errs.Is(nil, errs.NullUnwrap))
}

func TestAtIncludesLocation(t *testing.T) {
	err := errs.At(errs.ParseError, errs.Location{File: "x.rdb", Line: 3, Col: 7}, "unexpected token %q", ";")
	require.Contains(t, err.Error(), "x.rdb:3:7")
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := errs.Wrap(errs.BackendError, cause, "opening store")
	require.ErrorIs(t, err, cause)
}

func TestThrowCarriesUserValue(t *testing.T) {
	err := errs.Throw(int64(42), "user threw a value")
	require.Equal(t, errs.UserThrow, err.Kind)
	require.Equal(t, int64(42), err.ThrowVal)
}
