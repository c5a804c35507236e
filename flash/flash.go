// Package flash models the on-chip flash abstraction (spec.md section 4.1,
// "Flash Abstraction (FA)"). It is the only place the engine talks to
// hardware; everything above it operates on the RAM mirror in package
// image.
package flash

// Halfword is the native program unit of the flash controllers this engine
// targets. A halfword reads as 0xFFFF once erased; programming clears bits,
// it never sets them, which is why ProgramHalfword must refuse to program a
// half-word that isn't already erased.
type Halfword = uint16

const Erased Halfword = 0xFFFF

// Device is the capability handle the integrator provides. It covers
// exactly the user-data region described by the linker symbols
// user_data_start/user_data_size in spec.md section 6; the engine never
// addresses flash outside of it.
//
// Implementations must treat Erase/Program as synchronous and potentially
// slow (tens to hundreds of milliseconds for Erase); the engine only calls
// them from Process, never from the block-device read/write path.
type Device interface {
	// Unlock must be called before Erase or ProgramHalfword and Lock after,
	// bracketing every write-path flash operation as spec.md section 4.1
	// requires.
	Unlock() error
	Lock() error

	// EraseRegion erases the entire user-data region to the erased state
	// (every half-word 0xFFFF).
	EraseRegion() error

	// ProgramHalfword writes value at byte offset addr within the region.
	// addr must be even. It returns cderrors.ErrNotErased if the target
	// half-word is not currently erased.
	ProgramHalfword(addr uint32, value Halfword) error

	// ReadRegion copies the entire persisted region into dst. len(dst) must
	// equal RegionSize().
	ReadRegion(dst []byte) error

	// RegionSize returns the size, in bytes, of the user-data region.
	RegionSize() uint32
}

// ProgramRegion programs src into the device starting at offset 0, two
// bytes at a time, within an Unlock/Lock bracket as spec.md section 4.1
// requires of all write-path flash operations. It does not erase first;
// callers that need a clean region must call EraseRegion themselves.
//
// A program failure for one half-word does not abort the rest: spec.md
// section 7 ("Flash program failure") calls for logging and continuing, so
// failures are accumulated and returned together once every half-word has
// been attempted.
func ProgramRegion(dev Device, src []byte) error {
	if err := dev.Unlock(); err != nil {
		return err
	}
	defer dev.Lock()
	return ProgramHalfwords(dev, src)
}

// ProgramHalfwords does the same work as ProgramRegion but without its own
// Unlock/Lock bracket, for callers (such as image.DiskImage.FlushDirty)
// that are already inside one and need to erase and program as a single
// bracketed operation.
func ProgramHalfwords(dev Device, src []byte) error {
	var failures errAccumulator
	for addr := 0; addr+1 < len(src); addr += 2 {
		value := Halfword(src[addr]) | Halfword(src[addr+1])<<8
		if err := dev.ProgramHalfword(uint32(addr), value); err != nil {
			failures.add(addr, err)
		}
	}
	return failures.result()
}
