package queueset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildDispatchTableWeighted(t *testing.T) {
	t.Parallel()

	table, err := buildDispatchTable([]string{"priority", "normal"}, map[string]int{
		"priority": 3,
		"normal":   2,
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 0, 0, 1, 1}, table.slots)
}

func TestBuildDispatchTableNoWeights(t *testing.T) {
	t.Parallel()

	table, err := buildDispatchTable([]string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, table.slots)
}

func TestBuildDispatchTableMissingEntryDefaultsToOne(t *testing.T) {
	t.Parallel()

	table, err := buildDispatchTable([]string{"a", "b"}, map[string]int{"a": 2})
	require.NoError(t, err)
	require.Equal(t, []int{0, 0, 1}, table.slots)
}

func TestBuildDispatchTableUnknownNameIgnored(t *testing.T) {
	t.Parallel()

	table, err := buildDispatchTable([]string{"a"}, map[string]int{"ghost": 5})
	require.NoError(t, err)
	require.Equal(t, []int{0}, table.slots)
}

func TestBuildDispatchTableRejectsNonPositiveWeight(t *testing.T) {
	t.Parallel()

	_, err := buildDispatchTable([]string{"a"}, map[string]int{"a": 0})
	require.Error(t, err)

	_, err = buildDispatchTable([]string{"a"}, map[string]int{"a": -1})
	require.Error(t, err)
}

func TestBuildDispatchTableLengthEqualsWeightSum(t *testing.T) {
	t.Parallel()

	weights := map[string]int{"a": 4, "b": 1, "c": 7}
	table, err := buildDispatchTable([]string{"a", "b", "c"}, weights)
	require.NoError(t, err)
	require.Equal(t, 12, table.len())

	counts := map[int]int{}
	for _, idx := range table.slots {
		counts[idx]++
	}
	require.Equal(t, map[int]int{0: 4, 1: 1, 2: 7}, counts)
}
