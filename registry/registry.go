// Package registry implements the Entry Registry (ER) component of
// spec.md section 4.3: a fixed-capacity table of configuration entries,
// each carrying the validator/updater/printer capability triad described
// in spec.md section 9 ("Callback function pointers").
package registry

import (
	cderrors "github.com/embeddedkit/configdrive/errors"
)

// Capacity is the fixed number of entry slots, per spec.md section 3.
const Capacity = 8

const (
	MaxNameLen    = 63
	MaxCommentLen = 63
)

// Validate reports whether value is acceptable for the entry. A nil
// Validate is treated as "always accepts", per spec.md section 4.5 step 2.
type Validate func(value []byte) bool

// Update applies value to live device state.
type Update func(value []byte)

// Print renders the entry's current "name=value" bytes into dst and
// returns the number of bytes written. A nil Print falls back to
// "name=default_value" (spec.md section 4.4).
type Print func(dst []byte) int

// Entry is one registered configuration item.
type Entry struct {
	Name    string
	Default string

	// comment is stored pre-formatted as "\t" + caller text + "\r\n", per
	// spec.md section 4.3.
	comment string

	Validate Validate
	Update   Update
	Print    Print
}

// Comment returns the entry's comment exactly as it will be rendered:
// tab-prefixed and CRLF-terminated.
func (e *Entry) Comment() string { return e.comment }

// Registry is the bounded, append-only table of registered entries.
// Slots are filled in registration order and never reused, matching
// spec.md section 3's "slot occupancy tracked by a bitmask".
type Registry struct {
	slots    [Capacity]Entry
	occupied uint8 // bitmask, bit i set means slots[i] is in use
	count    int
	frozen   bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Freeze marks the registry immutable. The engine calls this from Init, so
// that subsequent Register calls are undefined per spec.md's "Ambiguities
// to flag, not guess" note on register_entry-after-init, and are rejected
// outright rather than silently deferred to a future re-init.
func (r *Registry) Freeze() { r.frozen = true }

// Register adds a new entry. It fails once Capacity slots are occupied, or
// after Freeze has been called (spec.md section 9: "register_entry after
// init() ... treat as undefined behavior and return failure").
//
// comment is the caller's raw comment text (e.g. "#(0~100)"); Register
// formats it into the stored "\t<text>\r\n" form itself.
func (r *Registry) Register(name, defaultValue, comment string, validate Validate, update Update, print Print) error {
	if r.frozen {
		return cderrors.ErrAlreadyInitialized
	}
	if r.count >= Capacity {
		return cderrors.ErrRegistryFull
	}
	if len(name) > MaxNameLen {
		return cderrors.ErrInvalidGeometry.WithMessage("entry name too long")
	}
	if len(comment) > MaxCommentLen {
		return cderrors.ErrInvalidGeometry.WithMessage("entry comment too long")
	}

	slot := r.count
	r.slots[slot] = Entry{
		Name:     name,
		Default:  defaultValue,
		comment:  "\t" + comment + "\r\n",
		Validate: validate,
		Update:   update,
		Print:    print,
	}
	r.occupied |= 1 << uint(slot)
	r.count++
	return nil
}

// Len returns the number of occupied slots.
func (r *Registry) Len() int { return r.count }

// At returns the entry at the given registration-order index. It panics if
// index is out of [0, Len()), the same contract a fixed array slice
// indexing would have.
func (r *Registry) At(index int) *Entry {
	return &r.slots[index]
}

// Find returns the entry with the given name and its index, or (nil, -1)
// if no registered entry has that name.
func (r *Registry) Find(name string) (*Entry, int) {
	for i := 0; i < r.count; i++ {
		if r.slots[i].Name == name {
			return &r.slots[i], i
		}
	}
	return nil, -1
}

// Each iterates occupied slots in registration order.
func (r *Registry) Each(fn func(index int, e *Entry)) {
	for i := 0; i < r.count; i++ {
		fn(i, &r.slots[i])
	}
}
