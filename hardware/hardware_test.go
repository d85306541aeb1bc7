package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watermeister/wmcore/zone"
)

func testZones(t *testing.T) *zone.Set {
	t.Helper()
	set, err := zone.NewSet([]zone.Zone{
		{ID: 1, Output: "gpio5", Mode: zone.ModeManualScheduled},
		{ID: 2, Output: "gpio6", Mode: zone.ModeManualScheduled},
	})
	require.NoError(t, err)
	return set
}

func TestSimulator_SetIsIdempotent(t *testing.T) {
	sim := NewSimulator(testZones(t), nil)
	require.NoError(t, sim.Initialise())

	require.NoError(t, sim.Set(1, true))
	require.NoError(t, sim.Set(1, true)) // no-op, must not error

	on, err := sim.Read(1)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestSimulator_ReleaseAllDeenergisesEverything(t *testing.T) {
	sim := NewSimulator(testZones(t), nil)
	require.NoError(t, sim.Initialise())
	require.NoError(t, sim.Set(1, true))
	require.NoError(t, sim.Set(2, true))

	require.NoError(t, sim.ReleaseAll())

	for _, id := range []zone.ID{1, 2} {
		on, err := sim.Read(id)
		require.NoError(t, err)
		assert.False(t, on)
	}
}

func TestSimulator_UnknownZoneErrors(t *testing.T) {
	sim := NewSimulator(testZones(t), nil)
	require.NoError(t, sim.Initialise())

	assert.Error(t, sim.Set(99, true))
	_, err := sim.Read(99)
	assert.Error(t, err)
}

func TestReadAll(t *testing.T) {
	sim := NewSimulator(testZones(t), nil)
	require.NoError(t, sim.Initialise())
	require.NoError(t, sim.Set(1, true))

	states, err := ReadAll(sim, testZones(t))
	require.NoError(t, err)
	assert.True(t, states[1])
	assert.False(t, states[2])
}
