package bio_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddedkit/configdrive/bio"
	"github.com/embeddedkit/configdrive/fat12"
	"github.com/embeddedkit/configdrive/image"
	"github.com/embeddedkit/configdrive/registry"
)

func newTestDispatcher(t *testing.T) (*bio.Dispatcher, *image.DiskImage) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register("brightness", "50", "#(0~100)", nil, nil, nil))
	img := image.New()
	copy(img.FileData(), "brightness=50\t#(0~100)\r\n")
	// cluster 2 starting, size set, matching a prior successful flush.
	img.RootDir()[0x1A] = 2
	return bio.New(img, reg), img
}

func TestReadBootSector(t *testing.T) {
	d, _ := newTestDispatcher(t)
	out := make([]byte, 512)
	d.ReadBlock(0, out)
	assert.Equal(t, byte(0xF8), out[21])
}

func TestReadUnmappedSectorIsZero(t *testing.T) {
	d, _ := newTestDispatcher(t)
	out := make([]byte, 512)
	for i := range out {
		out[i] = 0xAA
	}
	d.ReadBlock(5, out)
	for _, b := range out {
		assert.Equal(t, byte(0), b)
	}
}

func TestWriteAtCurrentClusterIsAccepted(t *testing.T) {
	d, img := newTestDispatcher(t)
	block := make([]byte, 512)
	copy(block, "brightness=75\t#(0~100)\r\n")
	armed := false
	d.ArmWrite = func() { armed = true }

	d.WriteBlocks(64, 1, block)

	assert.True(t, armed)
	assert.Equal(t, "brightness=75\t#(0~100)\r\n", string(img.FileData()[:24]))
}

func TestDotFileProbeRejectedOutsideConfigCluster(t *testing.T) {
	d, img := newTestDispatcher(t)
	// CONFIG.TXT stays at cluster 2; the probe lands on cluster 5 (sector 67).
	img.RootDir()[0x1A] = 2

	block := make([]byte, 512)
	block[0] = 0x05 // deleted-entry sentinel

	before := make([]byte, 512)
	copy(before, img.FileData()[3*512:4*512])

	d.WriteBlocks(67, 1, block)

	after := img.FileData()[3*512 : 4*512]
	assert.Equal(t, before, after, "dot-file probe must not alter the data area")
}

func TestHostileWriteAtClusterTwoWithoutConfigPrefixRejected(t *testing.T) {
	d, img := newTestDispatcher(t)
	img.RootDir()[0x1A] = 0 // no current directory entry

	block := make([]byte, 512)
	copy(block, "not a config line")

	before := make([]byte, 512)
	copy(before, img.FileData()[:512])

	d.WriteBlocks(64, 1, block)

	assert.Equal(t, before, img.FileData()[:512])
}

func TestReallocatedClusterWithValidConfigAccepted(t *testing.T) {
	d, img := newTestDispatcher(t)
	img.RootDir()[0x1A] = 5 // host moved CONFIG.TXT to cluster 5 (sector 67)

	block := make([]byte, 512)
	copy(block, "brightness=75\t#(0~100)\r\n")

	d.WriteBlocks(67, 1, block)

	assert.Equal(t, "brightness=75\t#(0~100)\r\n", string(img.FileData()[3*512:3*512+24]))
}

func TestFAT1WriteMarksDirtyOnlyWhenChanged(t *testing.T) {
	d, img := newTestDispatcher(t)
	img.ClearAllDirty()

	same := make([]byte, 512)
	copy(same, img.FAT1())
	d.WriteBlocks(fat12SectorFAT1(), 1, same)
	assert.False(t, img.Dirty(), "writing identical FAT contents should not mark dirty")

	changed := make([]byte, 512)
	copy(changed, img.FAT1())
	changed[10] = 0x42
	d.WriteBlocks(fat12SectorFAT1(), 1, changed)
	assert.True(t, img.Dirty())
}

func fat12SectorFAT1() int { return 8 }

func TestBootSectorMatchesFAT12Constants(t *testing.T) {
	bs := fat12.BootSectorBytes()
	assert.Equal(t, uint16(fat12.SectorSize), uint16(bs[11])|uint16(bs[12])<<8)
}
