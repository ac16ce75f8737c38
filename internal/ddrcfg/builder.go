package ddrcfg

import (
	"encoding/binary"
	"hash/crc32"

	"thingino-cloner/internal/usberr"
)

// Wire constants spec.md §6 requires byte-for-byte.
var (
	fidbHeader = [8]byte{'F', 'I', 'D', 'B', 0xB8, 0x00, 0x00, 0x00} // "FIDB" + len(184) LE
	rddHeader  = [8]byte{0x00, 'R', 'D', 'D', 0x7C, 0x00, 0x00, 0x00} // 0x00'RDD' + len(124) LE
)

const (
	fidbBodyLen = 184
	rddBodyLen  = 124

	// BlobSize is the total on-wire DDR configuration blob size
	// (spec.md §3 invariant): 192 (FIDB) + 132 (RDD).
	BlobSize = 8 + fidbBodyLen + 8 + rddBodyLen

	// DQ map is fixed regardless of platform/chip (spec.md §4.E).

	// freq_val (RDD body offset 0x10) encodes ddr_freq in units of
	// 400kHz rather than raw Hz: 400MHz DDR2 -> 1000, per spec.md §8's
	// seed scenario. See DESIGN.md for why this supersedes the
	// Hz-denominated "/ 100000" reading of the spec's formula table.
	freqValDivisor = 400_000
)

var dqMap = [20]byte{12, 13, 14, 3, 4, 5, 6, 7, 8, 9, 10, 11, 0, 1, 2, 15, 16, 17, 18, 19}

// Build emits the 324-byte FIDB+RDD blob for the given platform and chip
// (spec.md §4.E). The CRC-32 field at RDD body offset 0 is filled in
// last, computed over the remaining 120 RDD-body bytes with the
// zlib/Ethernet polynomial (stdlib hash/crc32.IEEE — see DESIGN.md for
// why no third-party CRC library is used).
func Build(platform PlatformConfig, chip ChipConfig) ([]byte, error) {
	if platform.DDRFreq == 0 {
		return nil, usberr.New(usberr.InvalidParameter, "ddrcfg.Build", "platform.DDRFreq must be non-zero")
	}

	blob := make([]byte, BlobSize)

	// --- FIDB section (offset 0, 192 bytes total) ---
	copy(blob[0:8], fidbHeader[:])
	fidb := blob[8 : 8+fidbBodyLen]
	binary.LittleEndian.PutUint32(fidb[0x00:], platform.CrystalFreq)
	binary.LittleEndian.PutUint32(fidb[0x04:], platform.CPUFreq)
	binary.LittleEndian.PutUint32(fidb[0x08:], platform.DDRFreq)
	// 0x0C reserved = 0 (already zero)
	binary.LittleEndian.PutUint32(fidb[0x10:], 1) // enable
	binary.LittleEndian.PutUint32(fidb[0x14:], platform.UARTBaud)
	binary.LittleEndian.PutUint32(fidb[0x18:], 1) // flag
	binary.LittleEndian.PutUint32(fidb[0x20:], platform.MemSize)
	binary.LittleEndian.PutUint32(fidb[0x24:], 1)    // flag
	binary.LittleEndian.PutUint32(fidb[0x2C:], 0x11) // flag
	binary.LittleEndian.PutUint32(fidb[0x30:], 0x19800000)

	// --- RDD section (offset 192, 132 bytes total) ---
	copy(blob[192:200], rddHeader[:])
	rdd := blob[200 : 200+rddBodyLen]

	phy := DerivePHYParams(chip, platform.DDRFreq)

	binary.LittleEndian.PutUint32(rdd[0x04:], uint32(chip.Type))
	binary.LittleEndian.PutUint32(rdd[0x10:], platform.DDRFreq/freqValDivisor)
	binary.LittleEndian.PutUint32(rdd[0x14:], 0x2800)
	rdd[0x18] = 0x01
	rdd[0x19] = 0x00
	rdd[0x1A] = 0xC2
	rdd[0x1B] = 0x00
	rdd[0x1C] = phy.CL
	rdd[0x1D] = phy.BL
	rdd[0x1E] = phy.RowBits
	rdd[0x1F] = phy.ColBits - 6

	timingSeq := []byte{
		byte(phy.TRAS), byte(phy.TRC), byte(phy.TRCD), byte(phy.TRP), byte(phy.TRFC),
		0x04,
		byte(phy.TRTP),
		0x20,
		byte(phy.TFAW),
		0x00,
		byte(phy.TRRD), byte(phy.TWTR),
	}
	copy(rdd[0x20:0x2C], timingSeq)

	copy(rdd[0x68:0x7C], dqMap[:])

	// CRC-32 over body bytes 4..124 (the 120 bytes after the CRC field).
	sum := crc32.ChecksumIEEE(rdd[4:rddBodyLen])
	binary.LittleEndian.PutUint32(rdd[0x00:], sum)

	return blob, nil
}

// BuildByName looks up a processor and, if chipName is empty, its default
// chip, then builds the blob.
func BuildByName(processorName, chipName string) ([]byte, error) {
	platform, ok := LookupProcessor(processorName)
	if !ok {
		return nil, usberr.New(usberr.InvalidParameter, "ddrcfg.BuildByName", "unknown processor "+processorName)
	}
	var chip ChipConfig
	if chipName == "" {
		chip, ok = DefaultChipFor(processorName)
		if !ok {
			return nil, usberr.New(usberr.InvalidParameter, "ddrcfg.BuildByName", "no default chip for "+processorName)
		}
	} else {
		chip, ok = LookupChip(chipName)
		if !ok {
			return nil, usberr.New(usberr.InvalidParameter, "ddrcfg.BuildByName", "unknown chip "+chipName)
		}
	}
	return Build(platform, chip)
}

// Validate checks the §3/§6 invariants for a blob read back from a
// device or file: exact size, and both magic headers in place.
func Validate(blob []byte) error {
	if len(blob) != BlobSize {
		return usberr.New(usberr.Protocol, "ddrcfg.Validate", "blob must be exactly 324 bytes")
	}
	if string(blob[0:4]) != "FIDB" {
		return usberr.New(usberr.Protocol, "ddrcfg.Validate", "missing FIDB magic")
	}
	if !(blob[192] == 0x00 && blob[193] == 'R' && blob[194] == 'D' && blob[195] == 'D') {
		return usberr.New(usberr.Protocol, "ddrcfg.Validate", "missing RDD magic")
	}
	return nil
}

// RDDChecksumValid re-derives the CRC-32 field and reports whether it
// matches, for round-trip testing (spec.md §8).
func RDDChecksumValid(blob []byte) bool {
	if len(blob) != BlobSize {
		return false
	}
	rdd := blob[200 : 200+rddBodyLen]
	want := binary.LittleEndian.Uint32(rdd[0:4])
	got := crc32.ChecksumIEEE(rdd[4:rddBodyLen])
	return want == got
}
