package fat12

// DirEntrySize is the fixed 32-byte size of a FAT directory entry.
const DirEntrySize = 32

// ConfigShortName is the fixed 8.3 short name "CONFIG  TXT" (8-byte name
// padded with spaces, 3-byte extension), per spec.md section 6.
var ConfigShortName = [11]byte{'C', 'O', 'N', 'F', 'I', 'G', ' ', ' ', 'T', 'X', 'T'}

const (
	attrOffset          = 0x0B
	startClusterOffset  = 0x1A
	sizeOffset          = 0x1C
	attrArchive         = 0x20
)

// InitDirEntry zeroes dirEntry and writes a fresh CONFIG.TXT entry with
// the given starting cluster and size, per spec.md section 4.9's
// "fresh flash" initialization path (the file-not-found branch of init()).
func InitDirEntry(dirEntry []byte, cluster uint16, size uint32) {
	for i := range dirEntry {
		dirEntry[i] = 0
	}
	copy(dirEntry[:11], ConfigShortName[:])
	dirEntry[attrOffset] = attrArchive
	dirEntry[startClusterOffset] = byte(cluster)
	dirEntry[startClusterOffset+1] = byte(cluster >> 8)
	dirEntry[sizeOffset] = byte(size)
	dirEntry[sizeOffset+1] = byte(size >> 8)
	dirEntry[sizeOffset+2] = byte(size >> 16)
	dirEntry[sizeOffset+3] = byte(size >> 24)
}

// IsConfigEntry reports whether dirEntry's short name matches CONFIG.TXT
// and it isn't an empty/deleted slot (first byte 0x00 or 0xE5).
func IsConfigEntry(dirEntry []byte) bool {
	if len(dirEntry) < 11 {
		return false
	}
	if dirEntry[0] == 0x00 || dirEntry[0] == 0xE5 {
		return false
	}
	for i := 0; i < 11; i++ {
		if dirEntry[i] != ConfigShortName[i] {
			return false
		}
	}
	return true
}
