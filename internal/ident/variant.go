// Package ident implements device enumeration and identification:
// scanning for known vendor/product-ID pairs, probing CPU-magic bytes,
// and classifying stage and variant (spec.md §4.C).
//
// Grounded on hasher's pkg/hashing/hardware/device_detector.go: one
// exported sweep (DetectAvailableMethods) layered over several private
// per-concern probes (detectASIC, detectCUDA, ...), each building a
// small descriptive result. ident.Identify plays the same role for one
// device instead of one method per hashing backend.
package ident

import "strings"

// Stage is the lifecycle phase a device is in.
type Stage int

const (
	StageUnknown Stage = iota
	StageBootrom
	StageFirmware
)

func (s Stage) String() string {
	switch s {
	case StageBootrom:
		return "bootrom"
	case StageFirmware:
		return "firmware"
	default:
		return "unknown"
	}
}

// Variant enumerates the supported XBurst family members (spec.md §3).
type Variant int

const (
	VariantUnknown Variant = iota
	T20
	T21
	T23
	T30
	T31
	T31X
	T31ZX
	A1
	T40
	T41
	T41N
	XSeries
)

func (v Variant) String() string {
	switch v {
	case T20:
		return "T20"
	case T21:
		return "T21"
	case T23:
		return "T23"
	case T30:
		return "T30"
	case T31:
		return "T31"
	case T31X:
		return "T31X"
	case T31ZX:
		return "T31ZX"
	case A1:
		return "A1"
	case T40:
		return "T40"
	case T41:
		return "T41"
	case T41N:
		return "T41N"
	case XSeries:
		return "X-series"
	default:
		return "unknown"
	}
}

// classificationRule is one row of the ordered (pattern, variant) table
// spec.md §9's Design Note calls for, evaluated top-down so that the
// exact precedence of §4.C is a data table rather than an if-ladder.
type classificationRule struct {
	match   func(clean string) bool
	variant Variant
}

func hasSubstring(sub string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, sub) }
}

func hasPrefix(prefix string) func(string) bool {
	return func(s string) bool { return strings.HasPrefix(s, prefix) }
}

func exact(v string) func(string) bool {
	return func(s string) bool { return s == v }
}

// variantRules is evaluated top-down; first match wins (spec.md §4.C).
var variantRules = []classificationRule{
	{exact("X2580"), T41},
	{exact("A1"), A1},
	{hasSubstring("X1000"), XSeries},
	{hasSubstring("X1500"), XSeries},
	{hasSubstring("X1600"), XSeries},
	{hasSubstring("X1630"), XSeries},
	{hasSubstring("X1830"), XSeries},
	{hasSubstring("X2000"), XSeries},
	{hasSubstring("X2100"), XSeries},
	{hasSubstring("X2500"), XSeries},
	{hasSubstring("X2600"), XSeries},
	{hasSubstring("T31V"), T31ZX},
	{hasPrefix("T31"), T31},
	{hasPrefix("T20"), T20},
	{hasPrefix("T21"), T21},
	{hasPrefix("T23"), T23},
	{hasPrefix("T30"), T30},
	{hasPrefix("T40"), T40},
	{hasPrefix("T41"), T41},
}

// Normalize strips non-printable bytes and returns both the raw-ish
// printable string and a cleaned (space-stripped, uppercased) variant
// used only for classification, per spec.md §4.C.
func Normalize(magic []byte) (raw string, clean string) {
	var b strings.Builder
	for _, c := range magic {
		if c >= 0x20 && c < 0x7F {
			b.WriteByte(c)
		}
	}
	raw = b.String()
	clean = strings.ToUpper(strings.ReplaceAll(raw, " ", ""))
	return raw, clean
}

// ClassifyStage derives Stage from the printable CPU-magic string,
// spec.md §4.C: "Boot"/"BOOT" prefix, exact "X2580" (T41N/XBurst2), or
// "A1" prefix indicates Firmware; otherwise Bootrom.
func ClassifyStage(raw string) Stage {
	if strings.HasPrefix(raw, "Boot") || strings.HasPrefix(raw, "BOOT") {
		return StageFirmware
	}
	if raw == "X2580" {
		return StageFirmware
	}
	if strings.HasPrefix(raw, "A1") {
		return StageFirmware
	}
	return StageBootrom
}

// ClassifyVariant runs the ordered rule table against the cleaned magic
// string, falling back to T31X per spec.md §4.C ("fallback T31X").
func ClassifyVariant(clean string) Variant {
	for _, rule := range variantRules {
		if rule.match(clean) {
			return rule.variant
		}
	}
	return T31X
}

// ParseVariant is the inverse of Variant.String, used to parse a
// caller-supplied --variant flag or force_variant config value. An
// unrecognized name yields VariantUnknown.
func ParseVariant(s string) Variant {
	clean := strings.ToUpper(strings.TrimSpace(s))
	switch clean {
	case "T20":
		return T20
	case "T21":
		return T21
	case "T23":
		return T23
	case "T30":
		return T30
	case "T31":
		return T31
	case "T31X":
		return T31X
	case "T31ZX":
		return T31ZX
	case "A1":
		return A1
	case "T40":
		return T40
	case "T41":
		return T41
	case "T41N":
		return T41N
	case "X-SERIES", "XSERIES":
		return XSeries
	default:
		return VariantUnknown
	}
}

// Identity is the result of classifying one probed device.
type Identity struct {
	RawMagic   string
	CleanMagic string
	Stage      Stage
	Variant    Variant
}

// Identify classifies a device from its raw CPU-magic bytes.
func Identify(magic []byte) Identity {
	raw, clean := Normalize(magic)
	return Identity{
		RawMagic:   raw,
		CleanMagic: clean,
		Stage:      ClassifyStage(raw),
		Variant:    ClassifyVariant(clean),
	}
}
