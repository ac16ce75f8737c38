package flash

import (
	"bytes"
	"testing"

	"thingino-cloner/internal/ident"
)

func TestWriteHandshakeT41NZeroChunk(t *testing.T) {
	data := make([]byte, 64*1024)
	params := ParamsFor(ident.T41N)
	h, err := BuildWriteHandshake(FamilyOf(ident.T41N), 0, uint32(len(data)), data, params)
	if err != nil {
		t.Fatal(err)
	}
	if got := h[10:12]; !bytes.Equal(got, []byte{0x00, 0x00}) {
		t.Errorf("bytes 10-11 = % x, want 00 00", got)
	}
	if got := h[18:20]; !bytes.Equal(got, []byte{0x01, 0x00}) {
		t.Errorf("bytes 18-19 = % x, want 01 00", got)
	}
	if got := h[24:28]; !bytes.Equal(got, []byte{0x00, 0x00, 0x06, 0x00}) {
		t.Errorf("bytes 24-27 = % x, want 00 00 06 00", got)
	}
	if got := h[28:32]; !bytes.Equal(got, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("bytes 28-31 = % x, want FF FF FF FF", got)
	}
	if got := h[32:40]; !bytes.Equal(got, []byte{0xF0, 0x17, 0x00, 0x44, 0x70, 0x7A, 0x00, 0x00}) {
		t.Errorf("bytes 32-39 = % x, want trailer", got)
	}
}

func TestWriteHandshakeA1(t *testing.T) {
	data := make([]byte, 1<<20)
	for i := range data {
		data[i] = 0xFF
	}
	params := ParamsFor(ident.A1)
	h, err := BuildWriteHandshake(FamilyOf(ident.A1), 0x00100000, uint32(len(data)), data, params)
	if err != nil {
		t.Fatal(err)
	}
	if got := h[8:12]; !bytes.Equal(got, []byte{0x00, 0x00, 0x06, 0x00}) {
		t.Errorf("bytes 8-11 = % x, want 00 00 06 00", got)
	}
	if got := h[12:16]; !bytes.Equal(got, []byte{0x00, 0x00, 0x10, 0x00}) {
		t.Errorf("bytes 12-15 = % x, want 00 00 10 00", got)
	}
	if got := h[16:20]; !bytes.Equal(got, []byte{0x00, 0x00, 0x10, 0x00}) {
		t.Errorf("bytes 16-19 = % x, want 00 00 10 00", got)
	}
	if got := h[32:40]; !bytes.Equal(got, []byte{0x30, 0x24, 0x00, 0xD4, 0x02, 0x75, 0x00, 0x00}) {
		t.Errorf("bytes 32-39 = % x, want A1 trailer", got)
	}
}

func TestWriteHandshakeRejectsMismatchedLength(t *testing.T) {
	if _, err := BuildWriteHandshake(FamilyT31, 0, 128*1024, make([]byte, 1), ParamsFor(ident.T31)); err == nil {
		t.Fatal("expected error for mismatched data length")
	}
}

func TestReadHandshakeLayout(t *testing.T) {
	h := BuildReadHandshake(0x00100000, BankSize)
	if got := h[8:12]; !bytes.Equal(got, []byte{0x00, 0x00, 0x10, 0x00}) {
		t.Errorf("bytes 8-11 = % x, want 00 00 10 00", got)
	}
	if got := h[16:20]; !bytes.Equal(got, []byte{0x00, 0x00, 0x10, 0x00}) {
		t.Errorf("bytes 16-19 = % x, want 00 00 10 00", got)
	}
	if got := h[24:28]; !bytes.Equal(got, []byte{0x00, 0x00, 0x06, 0x00}) {
		t.Errorf("bytes 24-27 = % x, want 00 00 06 00", got)
	}
	if got := h[28:32]; !bytes.Equal(got, []byte{0xAF, 0x7F, 0x00, 0x00}) {
		t.Errorf("bytes 28-31 = % x, want AF 7F 00 00", got)
	}
}

func TestParamsForFamilies(t *testing.T) {
	cases := []struct {
		v    ident.Variant
		size uint32
	}{
		{ident.T31, 128 * 1024},
		{ident.T31X, 128 * 1024},
		{ident.T31ZX, 128 * 1024},
		{ident.T40, 64 * 1024},
		{ident.T41, 64 * 1024},
		{ident.T41N, 64 * 1024},
		{ident.A1, 1 << 20},
	}
	for _, c := range cases {
		if got := ParamsFor(c.v).ChunkSize; got != c.size {
			t.Errorf("ParamsFor(%v).ChunkSize = %d, want %d", c.v, got, c.size)
		}
	}
}
