// Package render implements the File Renderer (FR) component of spec.md
// section 4.4: it serializes the registry into CONFIG.TXT bytes.
package render

import (
	"fmt"

	"github.com/noxer/bytewriter"

	"github.com/embeddedkit/configdrive/registry"
)

// maxValueLen takes the parser's 2047-byte line cap (spec.md section 4.5)
// as the room given to the value part of a printer's output. The parser
// caps whole lines, name and comment included, so a line longer than 2047
// bytes in total renders in full but is truncated when parsed back.
const maxValueLen = 2047

// lineScratch holds exactly the longest possible line,
// MaxNameLen+"="+value+comment plus the tab and CRLF, so a single entry's
// line never needs more than one buffer.
const lineScratch = registry.MaxNameLen + 1 + maxValueLen + registry.MaxCommentLen + 3

// Render concatenates, for each occupied registry slot in registration
// order, the entry's printed "name=value" bytes followed by its stored
// comment, and writes the result into dst.
//
// dst is the file data window; it is the hard cap on the renderer's
// output (spec.md section 4.4: "capped by the file data window size").
// An entry whose rendered line would not fit in the remaining space is
// dropped silently rather than partially written, and rendering continues
// with the next entry — the engine never fails an entry it can't express
// outright because a single oversized line must not take the rest of the
// file down with it.
//
// Render returns the number of bytes written.
func Render(reg *registry.Registry, dst []byte) int {
	return RenderSelective(reg, dst, nil)
}

// RenderSelective is Render, except that any slot index for which
// forceDefault returns true is rendered from the entry's literal
// "name=default_value" text instead of its Print callback, regardless of
// what Print would currently produce.
//
// parse.Process passes forceDefault for slots whose line was missing from
// the host's submission or whose value failed Validate: the *file* shows
// the literal default in both cases. For a rejected value Update is never
// called, so the device's live state (and therefore Print's output) is
// left untouched; rendering through Print for such a slot would re-emit
// whatever value the device already held before the rejected write, which
// is not the same thing as the default text.
func RenderSelective(reg *registry.Registry, dst []byte, forceDefault func(index int) bool) int {
	w := bytewriter.New(dst)
	var scratch [lineScratch]byte

	written := 0
	reg.Each(func(i int, e *registry.Entry) {
		forced := forceDefault != nil && forceDefault(i)
		line := renderLine(e, scratch[:0], forced)
		if len(line) > len(dst)-written {
			return
		}
		n, err := w.Write(line)
		written += n
		if err != nil {
			// Shouldn't happen given the length check above; treat any
			// short write as if the entry had not fit.
			written -= n
		}
	})
	return written
}

// renderLine renders one entry's full line ("name=value" plus comment)
// into buf[:0]'s backing array and returns the result. If forced is true,
// the "name=value" portion is always the literal default text rather than
// Print's output.
func renderLine(e *registry.Entry, buf []byte, forced bool) []byte {
	if e.Print != nil && !forced {
		var nameValue [registry.MaxNameLen + 1 + maxValueLen]byte
		n := e.Print(nameValue[:])
		buf = append(buf, nameValue[:n]...)
	} else {
		buf = append(buf, []byte(fmt.Sprintf("%s=%s", e.Name, e.Default))...)
	}
	buf = append(buf, []byte(e.Comment())...)
	return buf
}
