package flash

import (
	"encoding/binary"

	"thingino-cloner/internal/usberr"
)

// BuildReadHandshake formats the 40-byte FW_WRITE1 command for one
// bank's read (spec.md §4.F).
func BuildReadHandshake(flashOffset, chunkSize uint32) [40]byte {
	var h [40]byte
	binary.LittleEndian.PutUint32(h[8:12], flashOffset)
	binary.LittleEndian.PutUint32(h[16:20], chunkSize)
	h[24], h[25], h[26], h[27] = 0x00, 0x00, 0x06, 0x00
	h[28], h[29], h[30], h[31] = 0xAF, 0x7F, 0x00, 0x00
	return h
}

// ceilDiv64K returns ceil(n / 64KiB).
func ceilDiv64K(n uint32) uint16 {
	const unit = 64 * 1024
	return uint16((uint64(n) + unit - 1) / unit)
}

// BuildWriteHandshakeT31 formats the 40-byte VR_WRITE command for the
// T31/T41 handshake layout (spec.md §4.G): offsets/sizes in 64 KiB
// units, trailer supplied by the caller's ChunkParams.
func BuildWriteHandshakeT31(chunkOffset, chunkSize uint32, data []byte, trailer [8]byte) [40]byte {
	var h [40]byte
	offsetUnits := uint16(chunkOffset / (64 * 1024))
	sizeUnits := ceilDiv64K(chunkSize)
	binary.LittleEndian.PutUint16(h[10:12], offsetUnits)
	binary.LittleEndian.PutUint16(h[18:20], sizeUnits)
	h[24], h[25], h[26], h[27] = 0x00, 0x00, 0x06, 0x00
	crc := InvertedCRC32(data)
	binary.LittleEndian.PutUint32(h[28:32], crc)
	copy(h[32:40], trailer[:])
	return h
}

// BuildWriteHandshakeA1 formats the 40-byte VR_WRITE command for the
// A1-specific handshake layout (spec.md §4.G): byte-granular offset/size.
func BuildWriteHandshakeA1(chunkOffset, chunkSize uint32, data []byte, trailer [8]byte) [40]byte {
	var h [40]byte
	h[8], h[9], h[10], h[11] = 0x00, 0x00, 0x06, 0x00
	binary.LittleEndian.PutUint32(h[12:16], chunkOffset)
	binary.LittleEndian.PutUint32(h[16:20], chunkSize)
	crc := InvertedCRC32(data)
	binary.LittleEndian.PutUint32(h[20:24], crc)
	copy(h[32:40], trailer[:])
	return h
}

// BuildWriteHandshake dispatches to the T31/T41 or A1 layout based on
// family, per spec.md §9's variant-parameter-bundle Design Note.
func BuildWriteHandshake(family Family, chunkOffset, chunkSize uint32, data []byte, params ChunkParams) ([40]byte, error) {
	if uint32(len(data)) != chunkSize {
		return [40]byte{}, usberr.New(usberr.InvalidParameter, "BuildWriteHandshake", "data length must equal chunkSize")
	}
	if family == FamilyA1 {
		return BuildWriteHandshakeA1(chunkOffset, chunkSize, data, params.Trailer), nil
	}
	return BuildWriteHandshakeT31(chunkOffset, chunkSize, data, params.Trailer), nil
}
