package configdrive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedkit/configdrive"
	"github.com/embeddedkit/configdrive/fat12"
	"github.com/embeddedkit/configdrive/flash"
)

// fakeClock is a manually-advanced stand-in for the monotonic millisecond
// tick source spec.md section 5 names as an external collaborator.
type fakeClock struct{ ms uint32 }

func (c *fakeClock) NowMS() uint32       { return c.ms }
func (c *fakeClock) advanceTo(ms uint32) { c.ms = ms }

func newEngine(t *testing.T, opts ...configdrive.Option) (*configdrive.Engine, *flash.Sim, *fakeClock) {
	t.Helper()
	sim := flash.NewSim(16 * 1024)
	clock := &fakeClock{}
	e := configdrive.New(sim, clock, opts...)
	require.NoError(t, e.RegisterEntry("brightness", "50", "#(0~100)", nil, nil, nil))
	return e, sim, clock
}

func TestInitFormatsFreshVolume(t *testing.T) {
	e, sim, clock := newEngine(t)
	require.NoError(t, e.Init())

	out := make([]byte, fat12.SectorSize)
	e.ReadBlock(0, out)
	assert.Equal(t, byte(0xF8), out[21], "boot sector media byte must be served even on a fresh volume")

	data := make([]byte, fat12.SectorSize)
	e.ReadBlock(64, data)
	assert.Equal(t, "brightness=50\t#(0~100)\r\n", string(data[:24]))

	clock.advanceTo(1000)
	require.NoError(t, e.Process())
	dst := make([]byte, 16*1024)
	require.NoError(t, sim.ReadRegion(dst))
	assert.Equal(t, "brightness=50\t#(0~100)\r\n", string(dst[0x600:0x600+24]))
}

func TestRegisterEntryFailsAfterInit(t *testing.T) {
	e, _, _ := newEngine(t)
	require.NoError(t, e.Init())
	err := e.RegisterEntry("volume", "10", "#(0~10)", nil, nil, nil)
	assert.Error(t, err)
}

func TestInitNormalizesPersistedConfigFromFlash(t *testing.T) {
	sim := flash.NewSim(16 * 1024)
	clock := &fakeClock{}

	seed := configdrive.New(sim, clock)
	require.NoError(t, seed.RegisterEntry("brightness", "50", "#(0~100)", nil, nil, nil))
	require.NoError(t, seed.Init())
	clock.advanceTo(1000)
	require.NoError(t, seed.Process())

	e := configdrive.New(sim, clock)
	require.NoError(t, e.RegisterEntry("brightness", "50", "#(0~100)", nil, nil, nil))
	require.NoError(t, e.Init())

	data := make([]byte, fat12.SectorSize)
	e.ReadBlock(64, data)
	assert.Equal(t, "brightness=50\t#(0~100)\r\n", string(data[:24]))
}

func TestWriteThenProcessRoundTrips(t *testing.T) {
	sim := flash.NewSim(16 * 1024)
	clock := &fakeClock{}
	e := configdrive.New(sim, clock)
	// An entry without a printer always renders its default, so this one
	// carries update/print callbacks for the written value to round-trip.
	value := "50"
	require.NoError(t, e.RegisterEntry("brightness", "50", "#(0~100)", nil,
		func(v []byte) { value = string(v) },
		func(dst []byte) int { return copy(dst, "brightness="+value) }))
	require.NoError(t, e.Init())
	clock.advanceTo(1000)
	require.NoError(t, e.Process()) // commit the fresh-format write

	block := make([]byte, fat12.SectorSize)
	copy(block, "brightness=75\t#(0~100)\r\n")
	e.WriteBlocks(64, 1, block) // arms DFC at clock time 1000

	clock.advanceTo(1300)
	require.NoError(t, e.Process()) // quiescent window not elapsed yet
	assert.Equal(t, uint32(1), e.Stats().FlushCycles, "only the initial fresh-format flush should have happened")

	clock.advanceTo(1600)
	require.NoError(t, e.Process())
	assert.Equal(t, uint32(2), e.Stats().FlushCycles)

	dst := make([]byte, 16*1024)
	require.NoError(t, sim.ReadRegion(dst))
	assert.Equal(t, "brightness=75\t#(0~100)\r\n", string(dst[0x600:0x600+24]))
}

func TestQuiescentWindowOptionShrinksWait(t *testing.T) {
	e, _, clock := newEngine(t, configdrive.WithQuiescentWindow(10))
	require.NoError(t, e.Init())
	clock.advanceTo(1000)
	require.NoError(t, e.Process())

	block := make([]byte, fat12.SectorSize)
	copy(block, "brightness=10\t#(0~100)\r\n")
	e.WriteBlocks(64, 1, block)

	clock.advanceTo(1011)
	require.NoError(t, e.Process())
	assert.Equal(t, uint32(2), e.Stats().FlushCycles)
}

func TestWritesRejectedStatIncrementsOnHostileWrite(t *testing.T) {
	e, _, clock := newEngine(t)
	require.NoError(t, e.Init())
	clock.advanceTo(1000)
	require.NoError(t, e.Process())

	// Sector 67 is cluster 5, a different cluster than the one CONFIG.TXT
	// currently occupies (2); a dot-file-shaped probe there must be
	// rejected rather than clobbering the data area.
	block := make([]byte, fat12.SectorSize)
	block[0] = 0x05 // deleted-entry sentinel
	e.WriteBlocks(67, 1, block)

	assert.Equal(t, uint32(1), e.Stats().WritesRejected)
}
