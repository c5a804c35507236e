// Package parse implements the File Parser & Validator (FPV) component of
// spec.md section 4.5: it parses CONFIG.TXT-shaped bytes from any RAM
// location, strips comments, runs the per-entry validator/updater, rebuilds
// canonical bytes via the renderer, and decides whether a write was
// legitimate configuration or hostile OS noise.
package parse

import (
	"bytes"

	"github.com/hashicorp/go-multierror"

	cderrors "github.com/embeddedkit/configdrive/errors"
	"github.com/embeddedkit/configdrive/fat12"
	"github.com/embeddedkit/configdrive/hostlog"
	"github.com/embeddedkit/configdrive/image"
	"github.com/embeddedkit/configdrive/registry"
	"github.com/embeddedkit/configdrive/render"
)

const (
	maxParseSlots = registry.Capacity
	maxLineLen    = 2047
)

// Result reports what Process did, for DFC and the engine's diagnostics.
type Result struct {
	// Illegal is true if any registered entry failed validation or was
	// missing from the submission, per spec.md section 4.5's return value.
	Illegal bool
	// CanonicalLen is the number of bytes FR produced when rebuilding the
	// file from the now-updated entries.
	CanonicalLen int
}

// LooksLikeConfig reports whether data's first bytes match some registered
// entry's name followed by '=', the "valid candidate" test spec.md section
// 4.5 and section 4.7 both use (as "image-has-config" in the hostile-write
// filter, and as the candidate-validity test in input-source selection).
func LooksLikeConfig(reg *registry.Registry, data []byte) bool {
	line := firstLine(data)
	name, _, ok := splitNameValue(line)
	if !ok {
		return false
	}
	_, idx := reg.Find(string(name))
	return idx >= 0
}

// firstLine returns data up to (not including) the first CRLF or LF; a
// bare CR is not a terminator, per spec.md section 4.5's line splitter.
func firstLine(data []byte) []byte {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			if i > 0 && data[i-1] == '\r' {
				return data[:i-1]
			}
			return data[:i]
		}
	}
	return data
}

// splitNameValue splits a raw "NAME=..." line into name and the rest. ok is
// false if there is no '=' in the line.
func splitNameValue(line []byte) (name, rest []byte, ok bool) {
	i := bytes.IndexByte(line, '=')
	if i < 0 {
		return nil, nil, false
	}
	return line[:i], line[i+1:], true
}

// splitLines splits data on CRLF or LF (a bare CR is not a terminator),
// copying at most maxParseSlots lines, each truncated at maxLineLen bytes.
// An empty line or end of input terminates parsing, per spec.md section
// 4.5's line splitter.
func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for start <= len(data) && len(lines) < maxParseSlots {
		end := -1
		termLen := 0
		for i := start; i < len(data); i++ {
			if data[i] == '\n' {
				if i > start && data[i-1] == '\r' {
					end = i - 1
				} else {
					end = i
				}
				termLen = i - end + 1
				break
			}
		}
		if end < 0 {
			end = len(data)
		}

		line := data[start:end]
		if len(line) == 0 {
			break
		}
		if len(line) > maxLineLen {
			line = line[:maxLineLen]
		}
		lines = append(lines, line)

		if termLen == 0 {
			break
		}
		start = end + termLen
	}
	return lines
}

// findLine returns the first line in lines whose bytes start with name
// followed immediately by '=', or nil if none match.
func findLine(lines [][]byte, name string) []byte {
	prefix := []byte(name)
	for _, line := range lines {
		if len(line) > len(prefix) && bytes.HasPrefix(line, prefix) && line[len(prefix)] == '=' {
			return line
		}
	}
	return nil
}

// extractValue implements spec.md section 4.5 step 2's value extraction:
// bytes after '=' up to the first "\t#" sequence (exclusive), or the
// remainder of the line if no such sequence appears.
func extractValue(line []byte, nameLen int) []byte {
	rest := line[nameLen+1:]
	if i := bytes.Index(rest, []byte("\t#")); i >= 0 {
		return rest[:i]
	}
	return rest
}

// Process runs FPV over data (the host's submitted bytes for CONFIG.TXT),
// driving each registered entry's validate/update/print callbacks, then
// rebuilds the canonical file into the data window, updates the directory
// entry and FAT, and marks the affected pages dirty. It implements spec.md
// section 4.5's "Per-entry processing" and "Rebuild & normalize".
//
// fileWindow is image.DiskImage.FileData(); dirEntry is the 32-byte
// CONFIG.TXT directory entry within image.DiskImage.RootDir(); fat1 is
// image.DiskImage.FAT1(); markDirty marks a byte range dirty in the image.
func Process(
	reg *registry.Registry,
	data []byte,
	fileWindow []byte,
	dirEntry []byte,
	fat1 []byte,
	fat2 []byte,
	markDirty func(offset, length int),
	logger hostlog.Logger,
) Result {
	lines := splitLines(data)
	illegal := false
	var failures *multierror.Error

	// forcedDefault tracks, per registration-order slot, whether that
	// entry's line was missing or failed validation: the rendered file
	// shows the literal default text for those slots, so
	// render.RenderSelective below bypasses Print for them. A rejected
	// value leaves live device state untouched (Update is not called), so
	// Print could still report an older value; a missing line has Update
	// called with the default.
	forcedDefault := make([]bool, reg.Len())

	reg.Each(func(i int, e *registry.Entry) {
		line := findLine(lines, e.Name)
		if line == nil {
			if logger != nil {
				logger.Printf("entry %q missing from submission, reverting to default", e.Name)
			}
			if e.Update != nil {
				e.Update([]byte(e.Default))
			}
			illegal = true
			forcedDefault[i] = true
			failures = multierror.Append(failures, cderrors.ErrEntryMissing.WithMessage(e.Name))
			return
		}

		value := cleanValue(extractValue(line, len(e.Name)))

		if e.Validate == nil || e.Validate(value) {
			if e.Update != nil {
				e.Update(value)
			}
			return
		}

		if logger != nil {
			logger.Printf("entry %q rejected value %q, reverting to default", e.Name, value)
		}
		illegal = true
		forcedDefault[i] = true
		failures = multierror.Append(failures, cderrors.ErrValidationFailed.WithMessage(e.Name))
	})

	if illegal && logger != nil && failures.ErrorOrNil() != nil {
		logger.Printf("parse completed with errors: %s", failures.ErrorOrNil())
	}

	canonicalLen := render.RenderSelective(reg, fileWindow, func(i int) bool {
		return forcedDefault[i]
	})
	for i := canonicalLen; i < len(fileWindow); i++ {
		fileWindow[i] = 0
	}
	// fileWindow is image.DiskImage.FileData(), a slice into the full 16
	// KiB mirror starting at absolute offset image.FileDataOffset; the
	// dirty bitmap's page index is computed from that absolute offset, not
	// from an offset relative to fileWindow.
	markDirty(image.FileDataOffset, len(fileWindow))

	writeDirEntrySize(dirEntry, canonicalLen)
	writeDirEntryStartCluster(dirEntry, fat12.DataClusterStart)

	fat12.UpdateFATChain(fat1, canonicalLen)
	copy(fat2, fat1)
	// The FATs and the directory entry occupy the mirror's pages before
	// image.FileDataOffset.
	markDirty(0, image.FileDataOffset)

	return Result{Illegal: illegal, CanonicalLen: canonicalLen}
}

// cleanValue returns a fresh copy of src of exactly len(src) bytes, so the
// validate/update callbacks never alias the input buffer. There is no
// trailing padding: callbacks see only the value's own bytes.
func cleanValue(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// Directory entry field offsets, per spec.md section 6: starting cluster
// at 0x1A (little-endian), size at 0x1C (little-endian, 4 bytes).
const (
	dirEntryStartClusterOffset = 0x1A
	dirEntrySizeOffset         = 0x1C
)

func writeDirEntryStartCluster(dirEntry []byte, cluster uint16) {
	dirEntry[dirEntryStartClusterOffset] = byte(cluster)
	dirEntry[dirEntryStartClusterOffset+1] = byte(cluster >> 8)
}

func writeDirEntrySize(dirEntry []byte, size int) {
	v := uint32(size)
	dirEntry[dirEntrySizeOffset] = byte(v)
	dirEntry[dirEntrySizeOffset+1] = byte(v >> 8)
	dirEntry[dirEntrySizeOffset+2] = byte(v >> 16)
	dirEntry[dirEntrySizeOffset+3] = byte(v >> 24)
}

// StartCluster reads the starting cluster recorded in a CONFIG.TXT
// directory entry, or 0 if dirEntry is all zero (no entry yet).
func StartCluster(dirEntry []byte) int {
	return int(dirEntry[dirEntryStartClusterOffset]) | int(dirEntry[dirEntryStartClusterOffset+1])<<8
}

// Size reads the size field recorded in a CONFIG.TXT directory entry.
func Size(dirEntry []byte) int {
	return int(dirEntry[dirEntrySizeOffset]) |
		int(dirEntry[dirEntrySizeOffset+1])<<8 |
		int(dirEntry[dirEntrySizeOffset+2])<<16 |
		int(dirEntry[dirEntrySizeOffset+3])<<24
}
