//go:build !integration && !e2e
// +build !integration,!e2e

package proxystats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_UpdateCreatesOnFirstAttempt(t *testing.T) {
	m := NewMap()
	m.Update("u1", "primary", 120, true)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "u1", snap[0].UpstreamID)
	assert.Equal(t, "primary", snap[0].UpstreamLabel)
	assert.EqualValues(t, 1, snap[0].TotalRequests)
	assert.EqualValues(t, 1, snap[0].SuccessCount)
	assert.EqualValues(t, 0, snap[0].ErrorCount)
	assert.EqualValues(t, 120, snap[0].TotalDurationMS)
}

func TestMap_UpdateAccumulates(t *testing.T) {
	m := NewMap()
	m.Update("u1", "primary", 100, true)
	m.Update("u1", "primary", 50, false)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.EqualValues(t, 2, snap[0].TotalRequests)
	assert.EqualValues(t, 1, snap[0].SuccessCount)
	assert.EqualValues(t, 1, snap[0].ErrorCount)
	assert.EqualValues(t, 150, snap[0].TotalDurationMS)
}

func TestMap_LabelBackfilledLazily(t *testing.T) {
	m := NewMap()
	m.Update("u1", "", 10, true)
	m.Update("u1", "now-known", 10, true)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "now-known", snap[0].UpstreamLabel)
}

func TestMap_LabelNotOverwrittenOnceSet(t *testing.T) {
	m := NewMap()
	m.Update("u1", "first", 10, true)
	m.Update("u1", "second", 10, true)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "first", snap[0].UpstreamLabel)
}

func TestMap_SeparateUpstreamsTrackedIndependently(t *testing.T) {
	m := NewMap()
	m.Update("u1", "a", 10, true)
	m.Update("u2", "b", 20, false)

	snap := m.Snapshot()
	byID := map[string]Upstream{}
	for _, u := range snap {
		byID[u.UpstreamID] = u
	}
	require.Len(t, snap, 2)
	assert.EqualValues(t, 1, byID["u1"].SuccessCount)
	assert.EqualValues(t, 1, byID["u2"].ErrorCount)
}

func TestMap_Clear(t *testing.T) {
	m := NewMap()
	m.Update("u1", "a", 10, true)
	m.Clear()
	assert.Empty(t, m.Snapshot())
}
