// Package configdrive wires the Flash Abstraction, Disk Image, Entry
// Registry, Block I/O Dispatcher, and Deferred-Flush Controller components
// into the single external interface an integrator's USB Mass Storage
// transport calls into, per spec.md section 6.
package configdrive

import (
	"github.com/embeddedkit/configdrive/bio"
	"github.com/embeddedkit/configdrive/dfc"
	"github.com/embeddedkit/configdrive/fat12"
	"github.com/embeddedkit/configdrive/flash"
	"github.com/embeddedkit/configdrive/hostlog"
	"github.com/embeddedkit/configdrive/image"
	"github.com/embeddedkit/configdrive/parse"
	"github.com/embeddedkit/configdrive/registry"
	"github.com/embeddedkit/configdrive/render"
)

// Clock abstracts the monotonic millisecond tick source, one of spec.md
// section 5's named external collaborators alongside the flash driver: the
// engine never calls into the operating system's wall clock itself, it
// only ever asks Clock.NowMS().
type Clock interface {
	NowMS() uint32
}

// Stats is the read-only snapshot SPEC_FULL.md's EngineStats supplement
// describes: bookkeeping an integrator can surface on a status LED or
// serial diagnostic line without touching the write/flush paths.
type Stats struct {
	WritesAccepted  uint32
	WritesRejected  uint32
	FlushCycles     uint32
	LastFlushFailed bool
}

// Engine is the top-level handle an integrator constructs once at boot and
// drives from ReadBlock/WriteBlocks/Process, per spec.md section 6.
type Engine struct {
	dev    flash.Device
	reg    *registry.Registry
	img    *image.DiskImage
	bio    *bio.Dispatcher
	dfc    *dfc.Controller
	clock  Clock
	logger hostlog.Logger

	initialized bool
	stats       Stats
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default stderr logger.
func WithLogger(l hostlog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithQuiescentWindow overrides the 500 ms default coalescing window
// (spec.md section 4.8). Production firmware should leave this unset;
// it exists for integration tests that don't want to wait out the real
// window.
func WithQuiescentWindow(ms uint32) Option {
	return func(e *Engine) { e.dfc = dfc.New(ms) }
}

// New returns an Engine over dev and clock, spec.md section 5's two named
// external collaborators besides the configuration callbacks themselves.
// RegisterEntry must be called for every configuration item before Init.
func New(dev flash.Device, clock Clock, opts ...Option) *Engine {
	e := &Engine{
		dev:    dev,
		clock:  clock,
		reg:    registry.New(),
		img:    image.New(),
		dfc:    dfc.New(dfc.DefaultQuiescentMS),
		logger: hostlog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bio = bio.New(e.img, e.reg)
	e.bio.ArmWrite = e.armWrite
	return e
}

// RegisterEntry adds one configuration item to the registry, per spec.md
// section 4.3. It must be called before Init; afterward the registry is
// frozen and every call fails with cderrors.ErrAlreadyInitialized.
func (e *Engine) RegisterEntry(name, defaultValue, comment string, validate registry.Validate, update registry.Update, print registry.Print) error {
	return e.reg.Register(name, defaultValue, comment, validate, update, print)
}

// SectorCount returns the fixed sector count the volume reports, matching
// spec.md section 6's BPB constants.
func (e *Engine) SectorCount() int { return fat12.TotalSectors }

// SectorSize returns the fixed 512-byte sector size.
func (e *Engine) SectorSize() int { return fat12.SectorSize }

// Init implements spec.md section 4.9: load the persisted mirror, locate
// CONFIG.TXT, and either normalize what's there through FPV or format a
// fresh volume from the registry's defaults. It freezes the registry, so
// it must be the last setup call after every RegisterEntry.
func (e *Engine) Init() error {
	e.reg.Freeze()

	if err := e.img.LoadFromFlash(e.dev); err != nil {
		return err
	}
	e.img.ClearAllDirty()

	dirEntry := e.img.RootDir()[:fat12.DirEntrySize]
	if fat12.IsConfigEntry(dirEntry) {
		e.normalizeExisting(dirEntry)
	} else {
		e.formatFresh(dirEntry)
	}

	e.initialized = true
	return nil
}

// normalizeExisting runs FPV over whatever CONFIG.TXT already holds, the
// same input-source selection DFC uses on every subsequent flush, so a
// volume that was last written to by a host (rather than cleanly shut
// down) still comes up normalized.
func (e *Engine) normalizeExisting(dirEntry []byte) {
	data := parse.Select(e.reg, parse.Candidates{
		AtHostCluster: parse.HostClusterData(e.img.FileData(), dirEntry),
		Canonical:     e.img.FileData(),
		ReloadFlash: func() []byte {
			return e.img.FileData()
		},
	})

	res := parse.Process(
		e.reg,
		data,
		e.img.FileData(),
		dirEntry,
		e.img.FAT1(),
		e.img.FAT2(),
		e.img.MarkRangeDirty,
		e.logger,
	)
	if res.Illegal {
		e.logger.Printf("init: CONFIG.TXT contained illegal entries, normalized to defaults")
	}
}

// formatFresh implements spec.md section 4.9's "file not found" branch: it
// zeroes the whole mirror, writes a brand-new directory entry and FAT chain
// at cluster 2, renders every registered entry's default into the file
// window, and marks the whole image dirty so the first Process call
// commits it to flash.
func (e *Engine) formatFresh(dirEntry []byte) {
	for i := range e.img.Raw() {
		e.img.Raw()[i] = 0
	}

	size := render.Render(e.reg, e.img.FileData())
	fat12.UpdateFATChain(e.img.FAT1(), size)
	copy(e.img.FAT2(), e.img.FAT1())
	fat12.InitDirEntry(dirEntry, fat12.DataClusterStart, uint32(size))

	e.img.MarkRangeDirty(0, image.Size)
	e.armWrite()
}

// ReadBlock implements spec.md section 6's read path, delegating to BIO.
func (e *Engine) ReadBlock(sector int, out []byte) {
	e.bio.ReadBlock(sector, out)
}

// WriteBlocks implements spec.md section 6's write path, delegating to
// BIO (which arms DFC's quiescent timer internally via armWrite).
func (e *Engine) WriteBlocks(sector, count int, buf []byte) {
	if e.bio.WriteBlocks(sector, count, buf) {
		e.stats.WritesAccepted++
	} else {
		e.stats.WritesRejected++
	}
}

// armWrite is BIO's ArmWrite callback: it stamps DFC's quiescent timer
// using the engine's clock, per spec.md section 4.7's "record last write
// tick" step.
func (e *Engine) armWrite() {
	e.dfc.Arm(e.clock.NowMS())
}

// Process drives the Deferred-Flush Controller, per spec.md section 4.8.
// It is meant to be called periodically from the application's main loop;
// it queries the clock itself rather than taking a tick argument, matching
// spec.md section 6's process() signature.
func (e *Engine) Process() error {
	wasPending := e.dfc.Pending()
	err := dfc.Process(e.dfc, e.clock.NowMS(), e.reg, e.img, e.dev, e.logger)
	if err != nil {
		e.stats.LastFlushFailed = true
		return err
	}
	if wasPending && !e.dfc.Pending() {
		e.stats.FlushCycles++
		e.stats.LastFlushFailed = false
	}
	return nil
}

// Stats returns a snapshot of the engine's bookkeeping counters.
func (e *Engine) Stats() Stats { return e.stats }

// RenderedConfig returns a copy of the canonical CONFIG.TXT bytes
// currently held in the mirror, trimmed to the size recorded in the
// directory entry. It exists for diagnostics (configdrivectl's cat and
// inspect subcommands); nothing in the write/flush path reads it back.
func (e *Engine) RenderedConfig() []byte {
	dirEntry := e.img.RootDir()[:fat12.DirEntrySize]
	size := parse.Size(dirEntry)
	if size < 0 || size > len(e.img.FileData()) {
		size = 0
	}
	out := make([]byte, size)
	copy(out, e.img.FileData()[:size])
	return out
}
