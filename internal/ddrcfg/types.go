// Package ddrcfg builds the 324-byte FIDB+RDD DDR configuration blob
// (spec.md §4.E) from a small embedded processor/chip parameter
// database. The builder is byte-exact: every fixed offset in §4.E is
// either a caller-supplied platform/chip field or one of the constants
// the vendor trace shows verbatim.
//
// Grounded on hasher's own packet-builder idiom in
// internal/driver/device/usb_device.go (buildTxConfigPacket,
// buildRxStatusPacket: fixed-size byte slice, offsets filled in by hand,
// a CRC computed and appended last) and its CRC-table approach (a
// from-scratch CRC, not a third-party CRC library — followed here too,
// but via the standard hash/crc32 package since the polynomial this spec
// needs is the stock zlib/Ethernet one).
package ddrcfg

// DDRType enumerates the memory technology (spec.md §3).
type DDRType uint32

const (
	DDR3  DDRType = 0
	DDR2  DDRType = 1
	LPDDR2 DDRType = 2
	LPDDR3 DDRType = 4
)

// PlatformConfig is the 6-field platform description spec.md §3 names.
type PlatformConfig struct {
	Key          string
	CrystalFreq  uint32 // Hz
	CPUFreq      uint32 // Hz
	DDRFreq      uint32 // Hz
	UARTBaud     uint32
	MemSize      uint32 // bytes
}

// Timings holds the DDR chip's picosecond-denominated AC timing
// parameters (spec.md §3).
type Timings struct {
	TRAS  uint32
	TRC   uint32
	TRCD  uint32
	TRP   uint32
	TRFC  uint32
	TRTP  uint32
	TFAW  uint32
	TRRD  uint32
	TWTR  uint32
	TWR   uint32
	TREFI uint32
	TCKE  uint32
	TXP   uint32
}

// ChipConfig is the DDR chip description spec.md §3 names.
type ChipConfig struct {
	Name    string
	Vendor  string
	Type    DDRType
	RowBits uint8
	ColBits uint8
	CL      uint8
	BL      uint8
	RL      uint8
	WL      uint8
	Timings Timings
}

// PHYParams is the derived, post-conversion-to-cycles parameter set
// spec.md §3 names. Exported so callers (and tests) can inspect the
// exact cycle counts a build used without re-deriving them.
type PHYParams struct {
	Type    DDRType
	RowBits uint8
	ColBits uint8
	CL      uint8
	BL      uint8
	TRAS    uint32
	TRC     uint32
	TRCD    uint32
	TRP     uint32
	TRFC    uint32
	TRTP    uint32
	TFAW    uint32
	TRRD    uint32
	TWTR    uint32
}

// PSToCycles converts a picosecond duration to a cycle count at freqHz,
// rounding up (spec.md §4.E). Implemented with the spec's own integer
// formula rather than floating point to stay exact at large values.
func PSToCycles(ps uint64, freqHz uint64) uint64 {
	if freqHz == 0 {
		return 0
	}
	const tera = 1_000_000_000_000
	return (ps*freqHz + tera - 1) / tera
}

// DerivePHYParams converts a ChipConfig's picosecond timings to cycles at
// the given DDR clock frequency.
func DerivePHYParams(chip ChipConfig, ddrFreqHz uint32) PHYParams {
	f := uint64(ddrFreqHz)
	return PHYParams{
		Type:    chip.Type,
		RowBits: chip.RowBits,
		ColBits: chip.ColBits,
		CL:      chip.CL,
		BL:      chip.BL,
		TRAS:    uint32(PSToCycles(uint64(chip.Timings.TRAS), f)),
		TRC:     uint32(PSToCycles(uint64(chip.Timings.TRC), f)),
		TRCD:    uint32(PSToCycles(uint64(chip.Timings.TRCD), f)),
		TRP:     uint32(PSToCycles(uint64(chip.Timings.TRP), f)),
		TRFC:    uint32(PSToCycles(uint64(chip.Timings.TRFC), f)),
		TRTP:    uint32(PSToCycles(uint64(chip.Timings.TRTP), f)),
		TFAW:    uint32(PSToCycles(uint64(chip.Timings.TFAW), f)),
		TRRD:    uint32(PSToCycles(uint64(chip.Timings.TRRD), f)),
		TWTR:    uint32(PSToCycles(uint64(chip.Timings.TWTR), f)),
	}
}
