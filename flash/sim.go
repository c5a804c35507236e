package flash

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	cderrors "github.com/embeddedkit/configdrive/errors"
)

// Sim is an in-memory flash device used by tests and by the
// configdrivectl developer tool (see cmd/configdrivectl). It enforces the
// same erase-before-program discipline real NOR flash does: ProgramHalfword
// fails unless the target half-word currently reads as Erased.
//
// Sim is not safe for concurrent use, matching spec.md section 5's
// single-threaded, cooperative concurrency model.
type Sim struct {
	region   []byte
	unlocked bool

	// EraseFailures, when non-zero, causes the next N calls to EraseRegion
	// to fail without modifying the region, decrementing by one per call.
	// It exists to exercise spec.md section 7's "Flash erase failure: abort
	// this flush cycle" policy in tests.
	EraseFailures int
}

// NewSim creates a simulated flash device of the given size, in the erased
// state (every byte 0xFF), as real flash ships from the factory.
func NewSim(size uint32) *Sim {
	region := make([]byte, size)
	for i := range region {
		region[i] = 0xFF
	}
	return &Sim{region: region}
}

// NewSimFromImage wraps an existing byte slice (for example one loaded from
// a file standing in for a persisted flash dump) as a simulated device
// without copying or re-erasing it.
func NewSimFromImage(region []byte) *Sim {
	return &Sim{region: region}
}

func (s *Sim) Unlock() error {
	s.unlocked = true
	return nil
}

func (s *Sim) Lock() error {
	s.unlocked = false
	return nil
}

func (s *Sim) RegionSize() uint32 {
	return uint32(len(s.region))
}

func (s *Sim) EraseRegion() error {
	if !s.unlocked {
		return cderrors.ErrEraseFailed.WithMessage("flash not unlocked")
	}
	if s.EraseFailures > 0 {
		s.EraseFailures--
		return cderrors.ErrEraseFailed.WithMessage("simulated erase failure")
	}
	for i := range s.region {
		s.region[i] = 0xFF
	}
	return nil
}

func (s *Sim) ProgramHalfword(addr uint32, value Halfword) error {
	if !s.unlocked {
		return cderrors.ErrProgramFailed.WithMessage("flash not unlocked")
	}
	if int(addr)+1 >= len(s.region) {
		return cderrors.ErrProgramFailed.WithMessage("address out of range")
	}
	current := Halfword(s.region[addr]) | Halfword(s.region[addr+1])<<8
	if current != Erased {
		return cderrors.ErrNotErased
	}
	s.region[addr] = byte(value)
	s.region[addr+1] = byte(value >> 8)
	return nil
}

func (s *Sim) ReadRegion(dst []byte) error {
	if len(dst) != len(s.region) {
		return cderrors.ErrInvalidGeometry.WithMessage("destination buffer size mismatch")
	}
	copy(dst, s.region)
	return nil
}

// Stream exposes the simulated region as an io.ReadWriteSeeker, the way the
// teacher repo's test fixtures adapt a raw byte slice for code that expects
// a stream (see _examples/dargueta-disko/testing/images.go). configdrivectl
// does not use it: it loads and saves its flash dumps with os.ReadFile,
// NewSimFromImage and ReadRegion.
func (s *Sim) Stream() io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(s.region)
}
