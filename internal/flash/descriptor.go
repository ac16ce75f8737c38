package flash

import "thingino-cloner/internal/usberr"

// Flash descriptor and partition marker sizes (spec.md §4.H, §6).
const (
	PartitionMarkerSize   = 172
	ReadDescriptorSize    = 984
	WriteDescriptorSize   = 972
	T41NWriteDescriptorSize = 984

	// a1NorSelectorOffset is where the A1 descriptor carries the ASCII
	// "nor" selector; omitting it makes the A1 burner fall back to MMC
	// mode (spec.md §4.H).
	a1NorSelectorOffset = 0xF0
)

// The builders below produce zero-filled buffers of the marker and
// descriptor sizes. They set only the "ILOP" magic (marker), the two
// chip-ID bytes, and, for A1, the "nor" selector; no other template
// bytes are filled in.

// BuildPartitionMarker returns the 172-byte "ILOP" partition marker sent
// before the writer-mode descriptor on T31-family devices.
func BuildPartitionMarker(chipID uint16) []byte {
	b := make([]byte, PartitionMarkerSize)
	copy(b[0:4], []byte("ILOP"))
	b[4] = byte(chipID)
	b[5] = byte(chipID >> 8)
	return b
}

// BuildReadDescriptor returns the 984-byte read-mode flash descriptor
// (spec.md §4.F preflight step 2).
func BuildReadDescriptor(chipID uint16) []byte {
	b := make([]byte, ReadDescriptorSize)
	b[0] = byte(chipID)
	b[1] = byte(chipID >> 8)
	return b
}

// BuildWriteDescriptor returns the writer-mode flash descriptor
// (spec.md §4.G preflight): 972 bytes for the T31 family, 984 bytes for
// T41N. For A1 the NOR-mode selector string is written at
// a1NorSelectorOffset, without which the burner falls back to MMC mode.
func BuildWriteDescriptor(family Family, chipID uint16) ([]byte, error) {
	var size int
	switch family {
	case FamilyA1:
		size = WriteDescriptorSize
	case FamilyT41:
		size = T41NWriteDescriptorSize
	case FamilyT31, FamilyOther:
		size = WriteDescriptorSize
	default:
		return nil, usberr.New(usberr.InvalidParameter, "BuildWriteDescriptor", "unknown family")
	}
	b := make([]byte, size)
	b[0] = byte(chipID)
	b[1] = byte(chipID >> 8)
	if family == FamilyA1 {
		copy(b[a1NorSelectorOffset:a1NorSelectorOffset+3], []byte("nor"))
	}
	return b, nil
}

// HasNORSelector reports whether an A1 write descriptor carries the
// "nor" selector string, used by tests to guard against the MMC
// fallback failure mode spec.md §4.H warns about.
func HasNORSelector(descriptor []byte) bool {
	if len(descriptor) < a1NorSelectorOffset+3 {
		return false
	}
	return string(descriptor[a1NorSelectorOffset:a1NorSelectorOffset+3]) == "nor"
}
