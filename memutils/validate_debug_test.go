//go:build debug_mem_utils

package memutils_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pagealloc/memutils"
)

type validatableFunc func() error

func (f validatableFunc) Validate() error { return f() }

func TestDebugValidatePanics(t *testing.T) {
	require.NotPanics(t, func() {
		memutils.DebugValidate(validatableFunc(func() error { return nil }))
	})

	corrupt := errors.New("span overlaps free span")
	require.PanicsWithError(t, corrupt.Error(), func() {
		memutils.DebugValidate(validatableFunc(func() error { return corrupt }))
	})
}

func TestDebugCheckPow2Panics(t *testing.T) {
	require.NotPanics(t, func() {
		memutils.DebugCheckPow2(256, "pageSize")
	})
	require.Panics(t, func() {
		memutils.DebugCheckPow2(48, "pageSize")
	})
	require.Panics(t, func() {
		memutils.DebugCheckPow2(uint(0), "pageSize")
	})
}
