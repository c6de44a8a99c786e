package errz

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatError(t *testing.T) {
	err := Format(42, "bad tag byte %d", 99)
	require.Equal(t, ErrFormat, err.Kind)
	require.Equal(t, int64(42), err.Offset)
	require.Equal(t, "format error: bad tag byte 99 (offset 42)", err.Error())
	require.False(t, err.IsFatal())
}

func TestCapacityError(t *testing.T) {
	err := Capacity("constant pool", 65536, 65535)
	require.Equal(t, "capacity error: constant pool (65536 exceeds limit 65535)", err.Error())
	require.True(t, IsKind(err, ErrCapacity))
	require.False(t, IsKind(err, ErrFormat))
}

func TestResolutionError(t *testing.T) {
	err := Resolution("a/Sub1", "a/Sub2", 3, "no common supertype")
	require.Equal(t, "a/Sub1", err.TypeA)
	require.Equal(t, "a/Sub2", err.TypeB)
	require.Equal(t, 3, err.Block)
	require.Contains(t, err.Error(), "block 3")
}

func TestUsageErrorIsFatal(t *testing.T) {
	err := Usage("intern after finalize")
	require.True(t, err.IsFatal())
	require.Equal(t, "usage error: intern after finalize", err.Error())
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := Usage("wrapper").WithCause(cause)
	require.True(t, errors.Is(err, cause))
}

func TestIsKindWrapped(t *testing.T) {
	err := fmt.Errorf("while reading: %w", Format(7, "truncated"))
	require.True(t, IsKind(err, ErrFormat))
	require.False(t, IsKind(errors.New("plain"), ErrFormat))
}
