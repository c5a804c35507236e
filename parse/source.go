package parse

import (
	"github.com/embeddedkit/configdrive/fat12"
	"github.com/embeddedkit/configdrive/registry"
)

// Candidates bundles the three byte sources FPV considers before parsing,
// per spec.md section 4.5 "Input-source selection (hostile-write
// tolerance)":
//
//   - AtHostCluster: the data at the cluster the host's directory entry
//     and FAT chain currently claim CONFIG.TXT occupies.
//   - Canonical: the engine's own canonical file window (previous
//     normalized content).
//   - ReloadFlash: a callback that reloads the persisted mirror from flash
//     into the image and returns the (now current) canonical window; it
//     is only invoked if neither of the first two candidates validates.
type Candidates struct {
	AtHostCluster []byte
	Canonical     []byte
	ReloadFlash   func() []byte
}

// Select implements spec.md section 4.5's preference order: (a) the
// host-claimed location if valid, else (b) the canonical window if valid,
// else (c) reload flash and use its canonical window, else (a) again as a
// last-resort fallback (which yields defaults once Process runs, since a
// line that doesn't match any registered entry name is simply not found).
func Select(reg *registry.Registry, c Candidates) []byte {
	if LooksLikeConfig(reg, c.AtHostCluster) {
		return c.AtHostCluster
	}
	if LooksLikeConfig(reg, c.Canonical) {
		return c.Canonical
	}
	if c.ReloadFlash != nil {
		if reloaded := c.ReloadFlash(); LooksLikeConfig(reg, reloaded) {
			return reloaded
		}
	}
	return c.AtHostCluster
}

// HostClusterData returns the bytes at the cluster dirEntry currently
// claims CONFIG.TXT occupies within fileWindow, or fileWindow itself if
// the claimed cluster falls outside it. Both dfc.Process and the engine's
// Init use this to build Candidates.AtHostCluster.
func HostClusterData(fileWindow []byte, dirEntry []byte) []byte {
	cluster := StartCluster(dirEntry)
	sector := cluster - fat12.DataClusterStart
	offset := sector * fat12.SectorSize
	if offset < 0 || offset >= len(fileWindow) {
		return fileWindow
	}
	return fileWindow[offset:]
}
