// Package flash implements the firmware-stage SPI-NOR read and write
// engines (spec.md §4.F, §4.G), the flash descriptor and partition
// marker templates (§4.H), and the per-chunk handshake framing shared by
// both engines.
//
// Grounded on hasher's internal/driver/device/usb_device.go
// SendTxTaskAndReadRxNonce: claim-interface-for-the-operation, build a
// fixed-size command packet, send it, then block on a single timed bulk
// read — the same send-handshake/await-bulk-phase shape this package's
// per-chunk loops use, just generalized from one mining task to many
// flash-bank chunks.
package flash

import (
	"thingino-cloner/internal/ident"
)

const (
	// BankSize and BankCount describe the read path's fixed 16 MiB
	// layout (spec.md §3).
	BankSize  = 1 << 20
	BankCount = 16
	// BlockSize is the standard configuration's erase block size.
	BlockSize = 64 * 1024

	// FlashBaseWrite is the flash base address programmed before a
	// write (spec.md §6).
	FlashBaseWrite uint32 = 0x00008010
)

// Bank describes one of the 16 read-path regions (spec.md §3).
type Bank struct {
	Offset  uint32
	Size    uint32
	Label   string
	Enabled bool
}

// StandardBanks is the default 16 x 1 MiB bank table.
func StandardBanks() [BankCount]Bank {
	var banks [BankCount]Bank
	for i := range banks {
		banks[i] = Bank{
			Offset:  uint32(i * BankSize),
			Size:    BankSize,
			Label:   bankLabel(i),
			Enabled: true,
		}
	}
	return banks
}

func bankLabel(i int) string {
	const letters = "0123456789ABCDEF"
	return "bank" + string(letters[i])
}

// Family groups variants that share write chunking/trailer/preflight
// behavior (spec.md §9 Design Note "Variant-driven dispatch": a
// per-variant parameter bundle consulted by generic pipeline code,
// rather than variant-keyed if-ladders at every call site).
type Family int

const (
	FamilyT31 Family = iota
	FamilyT41
	FamilyA1
	FamilyOther
)

// FamilyOf classifies a variant into its write-engine family.
func FamilyOf(v ident.Variant) Family {
	switch v {
	case ident.T31, ident.T31X, ident.T31ZX:
		return FamilyT31
	case ident.T40, ident.T41, ident.T41N:
		return FamilyT41
	case ident.A1:
		return FamilyA1
	default:
		return FamilyOther
	}
}

// ChunkParams bundles the variant-dependent write-engine knobs spec.md
// §4.G names: chunk size and trailer bytes.
type ChunkParams struct {
	ChunkSize uint32
	Trailer   [8]byte
}

var trailerT31 = [8]byte{0x20, 0xFB, 0x00, 0x08, 0xA2, 0x77, 0x00, 0x00}
var trailerT41 = [8]byte{0xF0, 0x17, 0x00, 0x44, 0x70, 0x7A, 0x00, 0x00}
var trailerA1 = [8]byte{0x30, 0x24, 0x00, 0xD4, 0x02, 0x75, 0x00, 0x00}

// ParamsFor returns the chunk size/trailer for a variant's write-engine
// family (spec.md §4.G: T31 family 128 KiB, T41 family 64 KiB, A1 1 MiB).
func ParamsFor(v ident.Variant) ChunkParams {
	switch FamilyOf(v) {
	case FamilyT31:
		return ChunkParams{ChunkSize: 128 * 1024, Trailer: trailerT31}
	case FamilyT41:
		return ChunkParams{ChunkSize: 64 * 1024, Trailer: trailerT41}
	case FamilyA1:
		return ChunkParams{ChunkSize: 1 << 20, Trailer: trailerA1}
	default:
		// spec.md §4.G only defines chunking for T31/T41/A1; other
		// variants fall back to the T31 family's shape, the most
		// broadly-compatible of the three.
		return ChunkParams{ChunkSize: 128 * 1024, Trailer: trailerT31}
	}
}
