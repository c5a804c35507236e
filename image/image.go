// Package image implements the Disk Image (DI) component of spec.md
// section 4.2: a 16 KiB RAM-resident mirror of the persisted flash region,
// subdivided into the fixed windows described in spec.md section 3, plus a
// 32-bit dirty-page bitmap.
//
// The dirty bitmap is modeled on the loaded/dirty bitmaps in
// _examples/dargueta-disko/drivers/common/blockcache/blockcache.go, which
// track per-block state for an arbitrary file over boljen/go-bitmap; here
// the bitmap is fixed at 32 bits because the image itself is fixed-size.
package image

import (
	"github.com/boljen/go-bitmap"

	cderrors "github.com/embeddedkit/configdrive/errors"
	"github.com/embeddedkit/configdrive/flash"
)

const (
	Size = 16 * 1024

	FAT1Offset = 0x000
	FAT1Size   = 0x200

	FAT2Offset = 0x200
	FAT2Size   = 0x200

	RootDirOffset = 0x400
	RootDirSize   = 0x200

	FileDataOffset = 0x600
	FileDataSize   = Size - FileDataOffset

	// pageCount is the number of dirty-bitmap bits (spec.md section 4.2: "a
	// dirty bitmap of 32 bits, each bit covering one flash page of the
	// mirror").
	pageCount    = 32
	bytesPerPage = Size / pageCount
)

// DiskImage owns the RAM mirror and its dirty-page bitmap.
type DiskImage struct {
	data  [Size]byte
	dirty bitmap.Bitmap
}

// New returns a zeroed disk image with an all-clean dirty bitmap.
func New() *DiskImage {
	return &DiskImage{dirty: bitmap.NewSlice(pageCount)}
}

// LoadFromFlash copies the persisted region from dev into the RAM mirror,
// as spec.md section 4.9 ("init") step 1 requires.
func (di *DiskImage) LoadFromFlash(dev flash.Device) error {
	if dev.RegionSize() != Size {
		return cderrors.ErrInvalidGeometry.WithMessage("flash region size does not match image size")
	}
	return dev.ReadRegion(di.data[:])
}

// FAT1 returns the live window over the first FAT's first sector.
func (di *DiskImage) FAT1() []byte { return di.data[FAT1Offset : FAT1Offset+FAT1Size] }

// FAT2 returns the live window over the second FAT's first sector.
func (di *DiskImage) FAT2() []byte { return di.data[FAT2Offset : FAT2Offset+FAT2Size] }

// RootDir returns the live window over the root directory's first sector.
func (di *DiskImage) RootDir() []byte { return di.data[RootDirOffset : RootDirOffset+RootDirSize] }

// FileData returns the live window over the file data area, starting at
// cluster 2.
func (di *DiskImage) FileData() []byte { return di.data[FileDataOffset:] }

// Raw returns the entire mirror, for bulk flash programming.
func (di *DiskImage) Raw() []byte { return di.data[:] }

// PageForOffset returns the dirty-bitmap bit index covering byte offset.
func PageForOffset(offset int) int { return offset / bytesPerPage }

// MarkDirty sets bit page in the dirty bitmap. It is the only mutator of
// the bitmap besides ClearAllDirty, per spec.md section 4.2.
func (di *DiskImage) MarkDirty(page int) {
	di.dirty.Set(page, true)
}

// MarkRangeDirty marks every page overlapping [offset, offset+length).
func (di *DiskImage) MarkRangeDirty(offset, length int) {
	first := PageForOffset(offset)
	last := PageForOffset(offset + length - 1)
	for p := first; p <= last; p++ {
		di.MarkDirty(p)
	}
}

// ClearAllDirty clears every bit in the dirty bitmap.
func (di *DiskImage) ClearAllDirty() {
	for i := 0; i < pageCount; i++ {
		di.dirty.Set(i, false)
	}
}

// Dirty reports whether any page is marked dirty.
func (di *DiskImage) Dirty() bool {
	for i := 0; i < pageCount; i++ {
		if di.dirty.Get(i) {
			return true
		}
	}
	return false
}

// FlushDirty implements spec.md section 4.2's flush_dirty semantics: if any
// bit is set, erase the entire region, program the full mirror, and clear
// the bitmap. The supported flash has a single coarse erasable sector, so
// there is no finer-grained erase path; a driver over page-erasable flash
// would decompose EraseRegion/ProgramHalfword internally (spec.md section
// 4.1) without this method needing to change.
//
// On an erase failure, the bitmap is left untouched so the next call will
// retry, matching spec.md section 7's "Flash erase failure" policy.
func (di *DiskImage) FlushDirty(dev flash.Device) error {
	if !di.Dirty() {
		return nil
	}

	if err := dev.Unlock(); err != nil {
		return err
	}
	defer dev.Lock()

	if err := dev.EraseRegion(); err != nil {
		return err
	}

	if err := flash.ProgramHalfwords(dev, di.data[:]); err != nil {
		// Individual half-word failures are logged by the caller; the image
		// in RAM remains authoritative until the next successful flush, so
		// the bitmap stays dirty and a later flush will retry everything.
		return err
	}

	di.ClearAllDirty()
	return nil
}
