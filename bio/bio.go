// Package bio implements the Block I/O Dispatcher (BIO) component of
// spec.md section 4.7: it routes host block reads and writes to the
// correct window of the disk image and applies hostile-write filtering to
// writes landing in the data area.
//
// BIO never blocks and never invokes FPV or FR (spec.md section 5): it
// only touches RAM. All flash I/O and re-validation happen later, from
// package dfc's Process.
package bio

import (
	"bytes"

	"github.com/embeddedkit/configdrive/fat12"
	"github.com/embeddedkit/configdrive/image"
	"github.com/embeddedkit/configdrive/parse"
	"github.com/embeddedkit/configdrive/registry"
)

const (
	sectorBootRecord = 0
	sectorFAT1       = 8
	sectorFAT2       = 20
	sectorRootDir    = 32
	sectorDataStart  = 64
)

// Dispatcher is the block-device-facing front end the USB MSC transport
// calls into.
type Dispatcher struct {
	img *image.DiskImage
	reg *registry.Registry

	// ArmWrite is called once per WriteBlocks request, after every sector
	// in it has been processed, so the Deferred-Flush Controller can record
	// the write and (re)start its quiescent timer. It is never nil in
	// practice; the engine wires it to dfc.Controller.Arm.
	ArmWrite func()

	fileWindowSectors int
}

// New returns a Dispatcher over img and reg. fileWindowSectors is W from
// spec.md section 4.7's read-path table: floor(file window size / 512).
func New(img *image.DiskImage, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		img:               img,
		reg:               reg,
		fileWindowSectors: image.FileDataSize / fat12.SectorSize,
	}
}

// ReadBlock implements spec.md section 4.7's read path.
func (d *Dispatcher) ReadBlock(sector int, out []byte) {
	switch {
	case sector == sectorBootRecord:
		bs := fat12.BootSectorBytes()
		copy(out, bs[:])
	case sector == sectorFAT1:
		copy(out, d.img.FAT1())
	case sector == sectorFAT2:
		copy(out, d.img.FAT2())
	case sector == sectorRootDir:
		copy(out, d.img.RootDir())
	case sector >= sectorDataStart && sector < sectorDataStart+d.fileWindowSectors:
		offset := (sector - sectorDataStart) * fat12.SectorSize
		copy(out, d.img.FileData()[offset:offset+fat12.SectorSize])
	default:
		for i := range out {
			out[i] = 0
		}
	}
}

// WriteBlocks implements spec.md section 4.7's write path: each sector in
// [sector, sector+n) is processed independently against a staged copy of
// buf, then ArmWrite is called exactly once for the whole request.
//
// It returns whether every data-area sector in the request was accepted
// by the hostile-write filter (true if the request touched no data-area
// sectors at all), so the caller can maintain SPEC_FULL.md's EngineStats
// accepted/rejected counters without BIO itself needing to know about
// them.
func (d *Dispatcher) WriteBlocks(sector, n int, buf []byte) bool {
	staged := make([]byte, len(buf))
	copy(staged, buf)

	accepted := true
	for i := 0; i < n; i++ {
		s := sector + i
		block := staged[i*fat12.SectorSize : (i+1)*fat12.SectorSize]
		if !d.writeOneSector(s, block) {
			accepted = false
		}
	}

	if d.ArmWrite != nil {
		d.ArmWrite()
	}
	return accepted
}

func (d *Dispatcher) writeOneSector(sector int, block []byte) bool {
	switch sector {
	case sectorFAT1:
		d.replaceIfChanged(d.img.FAT1(), block, image.FAT1Offset)
	case sectorFAT2:
		d.replaceIfChanged(d.img.FAT2(), block, image.FAT2Offset)
	case sectorRootDir:
		d.replaceIfChanged(d.img.RootDir(), block, image.RootDirOffset)
	default:
		if sector >= sectorDataStart && sector < sectorDataStart+d.fileWindowSectors {
			return d.writeDataSector(sector, block)
		}
		// Sectors elsewhere in the reserved/FAT/root ranges, or past the
		// end of the file window, are silently discarded (spec.md section
		// 4.7: "Other sectors in those ranges are discarded").
	}
	return true
}

func (d *Dispatcher) replaceIfChanged(window []byte, block []byte, windowOffset int) {
	if bytes.Equal(window, block) {
		return
	}
	copy(window, block)
	d.img.MarkRangeDirty(windowOffset, len(block))
}

// writeDataSector applies the hostile-write filter of spec.md section 4.7
// before committing a data-area write. It returns false if the filter
// rejected the write.
func (d *Dispatcher) writeDataSector(sector int, block []byte) bool {
	if !d.accept(sector, block) {
		return false
	}

	offset := (sector - sectorDataStart) * fat12.SectorSize
	window := d.img.FileData()[offset : offset+fat12.SectorSize]
	if bytes.Equal(window, block) {
		return true
	}
	copy(window, block)
	d.img.MarkRangeDirty(image.FileDataOffset+offset, len(block))
	return true
}

// accept implements the hostile-write filter's decision table.
func (d *Dispatcher) accept(sector int, block []byte) bool {
	wc := sector - sectorDataStart + fat12.DataClusterStart
	cc := parse.StartCluster(d.img.RootDir())

	if cc > 0 && wc == cc {
		return true
	}
	if wc == fat12.DataClusterStart {
		return parse.LooksLikeConfig(d.reg, block)
	}

	imageHasConfig := parse.LooksLikeConfig(d.reg, d.img.FileData())
	if wc > fat12.DataClusterStart && wc <= fat12.DataClusterStart+d.fileWindowSectors && imageHasConfig && looksLikeDotFile(block) {
		return false
	}
	return true
}

// looksLikeDotFile implements spec.md section 4.7's dot-file heuristic:
// macOS shadow files (._*, .DS_Store) and resource-fork/deleted-entry
// padding must not be allowed to clobber the canonical file window.
func looksLikeDotFile(block []byte) bool {
	if len(block) == 0 {
		return false
	}
	if block[0] == 0x00 || block[0] == 0x05 {
		return true
	}
	return block[0] == '.' && len(block) > 1 && block[1] != 0
}
