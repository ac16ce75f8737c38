package cloner

import (
	"thingino-cloner/internal/boot"
	"thingino-cloner/internal/ident"
	"thingino-cloner/internal/usberr"
)

// FirmwareProvider resolves the DDR/SPL/U-Boot bundle a bootstrap run
// needs for a given variant (spec.md §4.D step 2: "Obtain the firmware
// bundle: either from caller-supplied file paths, or by looking up
// defaults keyed by variant").
type FirmwareProvider interface {
	Bundle(variant ident.Variant) (boot.Bundle, error)
}

// StaticProvider is the simplest FirmwareProvider: an in-memory table
// populated by the caller (from files on disk, embedded assets, or a
// test fixture), keyed by variant.
type StaticProvider struct {
	bundles map[ident.Variant]boot.Bundle
}

// NewStaticProvider returns an empty provider ready for Register calls.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{bundles: make(map[ident.Variant]boot.Bundle)}
}

// Register associates a bundle with a variant, overwriting any existing
// entry.
func (p *StaticProvider) Register(variant ident.Variant, bundle boot.Bundle) {
	p.bundles[variant] = bundle
}

// Bundle implements FirmwareProvider.
func (p *StaticProvider) Bundle(variant ident.Variant) (boot.Bundle, error) {
	b, ok := p.bundles[variant]
	if !ok {
		return boot.Bundle{}, usberr.New(usberr.InvalidParameter, "StaticProvider.Bundle",
			"no firmware bundle registered for variant "+variant.String())
	}
	return b, nil
}
