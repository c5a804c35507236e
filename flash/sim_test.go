package flash_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedkit/configdrive/flash"
)

func TestSimStartsErased(t *testing.T) {
	sim := flash.NewSim(64)
	dst := make([]byte, 64)
	require.NoError(t, sim.ReadRegion(dst))
	for i, b := range dst {
		assert.Equalf(t, byte(0xFF), b, "byte %d not erased", i)
	}
}

func TestProgramRequiresUnlock(t *testing.T) {
	sim := flash.NewSim(16)
	err := sim.ProgramHalfword(0, 0x1234)
	assert.Error(t, err)
}

func TestProgramRefusesNonErasedHalfword(t *testing.T) {
	sim := flash.NewSim(16)
	require.NoError(t, sim.Unlock())
	require.NoError(t, sim.ProgramHalfword(0, 0x1234))

	err := sim.ProgramHalfword(0, 0x5678)
	require.Error(t, err)

	dst := make([]byte, 16)
	require.NoError(t, sim.ReadRegion(dst))
	assert.Equal(t, byte(0x34), dst[0])
	assert.Equal(t, byte(0x12), dst[1])
}

func TestEraseRestoresErasedState(t *testing.T) {
	sim := flash.NewSim(16)
	require.NoError(t, sim.Unlock())
	require.NoError(t, sim.ProgramHalfword(0, 0x0000))
	require.NoError(t, sim.EraseRegion())

	dst := make([]byte, 16)
	require.NoError(t, sim.ReadRegion(dst))
	assert.Equal(t, byte(0xFF), dst[0])
	assert.Equal(t, byte(0xFF), dst[1])
}

func TestEraseFailureLeavesRegionUnchanged(t *testing.T) {
	sim := flash.NewSim(16)
	sim.EraseFailures = 1
	require.NoError(t, sim.Unlock())

	err := sim.EraseRegion()
	assert.Error(t, err)

	dst := make([]byte, 16)
	require.NoError(t, sim.ReadRegion(dst))
	assert.Equal(t, byte(0xFF), dst[0], "region must be unchanged after a failed erase")
}

func TestProgramRegionAccumulatesFailures(t *testing.T) {
	sim := flash.NewSim(4)
	require.NoError(t, sim.Unlock())
	require.NoError(t, sim.ProgramHalfword(0, 0x0000))
	require.NoError(t, sim.Lock())

	src := []byte{0x01, 0x02, 0x03, 0x04}
	err := flash.ProgramRegion(sim, src)
	require.Error(t, err, "first half-word was already programmed and should fail")

	dst := make([]byte, 4)
	require.NoError(t, sim.ReadRegion(dst))
	assert.Equal(t, byte(0x03), dst[2], "second half-word should still have programmed")
	assert.Equal(t, byte(0x04), dst[3])
}
