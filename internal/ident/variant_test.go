package ident

import "testing"

func TestClassifyVariantPrecedence(t *testing.T) {
	cases := []struct {
		magic   string
		variant Variant
	}{
		{"X2580", T41},
		{"A1", A1},
		{"A1-Rev2", T31X}, // the A1 rule is an exact match
		{"x1000", XSeries},
		{"X2600plus", XSeries},
		{"T31V", T31ZX},
		{"T31Vx", T31ZX},
		{"T31", T31},
		{"T31A", T31},
		{"T20", T20},
		{"T21", T21},
		{"T23", T23},
		{"T30", T30},
		{"T40", T40},
		{"T41", T41},
		{"totally unknown", T31X},
		{"", T31X},
	}
	for _, c := range cases {
		_, clean := Normalize([]byte(c.magic))
		if got := ClassifyVariant(clean); got != c.variant {
			t.Errorf("ClassifyVariant(%q) = %v, want %v", c.magic, got, c.variant)
		}
	}
}

func TestClassifyVariantCaseInsensitive(t *testing.T) {
	_, clean := Normalize([]byte("t31v"))
	if got := ClassifyVariant(clean); got != T31ZX {
		t.Errorf("lowercase t31v should classify as T31ZX, got %v", got)
	}
}

func TestClassifyStage(t *testing.T) {
	cases := []struct {
		raw   string
		stage Stage
	}{
		{"Boot2023", StageFirmware},
		{"BOOTLOADER", StageFirmware},
		{"X2580", StageFirmware},
		{"A1-burner", StageFirmware},
		{"T31Xv2", StageBootrom},
		{"", StageBootrom},
	}
	for _, c := range cases {
		if got := ClassifyStage(c.raw); got != c.stage {
			t.Errorf("ClassifyStage(%q) = %v, want %v", c.raw, got, c.stage)
		}
	}
}

func TestNormalizeStripsNonPrintable(t *testing.T) {
	magic := []byte{0x00, 'T', '3', '1', 0x00, 0xFF, 'V'}
	raw, clean := Normalize(magic)
	if raw != "T31V" {
		t.Errorf("raw = %q, want T31V", raw)
	}
	if clean != "T31V" {
		t.Errorf("clean = %q, want T31V", clean)
	}
}

func TestIdentify(t *testing.T) {
	id := Identify([]byte("BootT31"))
	if id.Stage != StageFirmware {
		t.Errorf("expected firmware stage, got %v", id.Stage)
	}
}

func TestParseVariantRoundTrip(t *testing.T) {
	variants := []Variant{T20, T21, T23, T30, T31, T31X, T31ZX, A1, T40, T41, T41N, XSeries}
	for _, v := range variants {
		if got := ParseVariant(v.String()); got != v {
			t.Errorf("ParseVariant(%q) = %v, want %v", v.String(), got, v)
		}
	}
}

func TestParseVariantCaseInsensitiveAndUnknown(t *testing.T) {
	if got := ParseVariant("t31zx"); got != T31ZX {
		t.Errorf("ParseVariant(%q) = %v, want T31ZX", "t31zx", got)
	}
	if got := ParseVariant("bogus"); got != VariantUnknown {
		t.Errorf("ParseVariant(%q) = %v, want VariantUnknown", "bogus", got)
	}
}
