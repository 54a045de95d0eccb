package memutils_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/pagealloc/memutils"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(1, "one"))
	require.NoError(t, memutils.CheckPow2(256, "page"))
	require.NoError(t, memutils.CheckPow2(uint(4096), "granularity"))

	err := memutils.CheckPow2(48, "page")
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
	require.ErrorContains(t, err, "page is 48")

	require.ErrorIs(t, memutils.CheckPow2(0, "zero"), memutils.PowerOfTwoError)
}

func TestAlign(t *testing.T) {
	require.Equal(t, 256, memutils.AlignUp(100, 256))
	require.Equal(t, 256, memutils.AlignUp(256, 256))
	require.Equal(t, 512, memutils.AlignUp(257, 256))
	require.Equal(t, 0, memutils.AlignDown(100, 256))
	require.Equal(t, 256, memutils.AlignDown(511, 256))
}

func TestPageRoundUp(t *testing.T) {
	testCases := []struct {
		size     int
		pageSize int
		expected int
	}{
		{size: 1, pageSize: 256, expected: 256},
		{size: 100, pageSize: 256, expected: 256},
		{size: 255, pageSize: 256, expected: 256},
		// Exact multiples still receive an additional page
		{size: 256, pageSize: 256, expected: 512},
		{size: 512, pageSize: 256, expected: 768},
		{size: 1000, pageSize: 1, expected: 1001},
	}

	for _, testCase := range testCases {
		reserved := memutils.PageRoundUp(testCase.size, testCase.pageSize)
		require.Equal(t, testCase.expected, reserved, "size %d page %d", testCase.size, testCase.pageSize)
		require.Greater(t, reserved, testCase.size)
		require.Zero(t, reserved%testCase.pageSize)
	}
}
