package ident

import (
	"time"

	"github.com/google/gousb"

	"thingino-cloner/internal/proto"
	"thingino-cloner/internal/usb"
	"thingino-cloner/internal/usberr"
)

// Known Ingenic vendor IDs and bootrom/firmware product IDs (spec.md
// §4.C). The alternate VID and *2/*3 PIDs cover the XBurst2/T41N and A1
// USB descriptor variants observed across the family.
const (
	VendorIngenicPrimary   gousb.ID = 0xA108
	VendorIngenicAlternate gousb.ID = 0x601A

	ProductBootrom  gousb.ID = 0x1000
	ProductBootrom2 gousb.ID = 0x1001
	ProductBootrom3 gousb.ID = 0x4100
	ProductFirmware gousb.ID = 0x1100
	ProductFirmware2 gousb.ID = 0x4101
)

// KnownPairs is every (VID, PID) combination Scan accepts.
var KnownPairs = [][2]gousb.ID{
	{VendorIngenicPrimary, ProductBootrom},
	{VendorIngenicPrimary, ProductBootrom2},
	{VendorIngenicPrimary, ProductBootrom3},
	{VendorIngenicPrimary, ProductFirmware},
	{VendorIngenicPrimary, ProductFirmware2},
	{VendorIngenicAlternate, ProductBootrom},
	{VendorIngenicAlternate, ProductBootrom2},
	{VendorIngenicAlternate, ProductBootrom3},
	{VendorIngenicAlternate, ProductFirmware},
	{VendorIngenicAlternate, ProductFirmware2},
}

// Device describes one enumerated device: its USB topology plus, in
// Full mode, its classified stage and variant.
type Device struct {
	Bus     int
	Address int
	Vendor  gousb.ID
	Product gousb.ID

	Identity Identity
	Probed   bool
}

// Scan lists attached devices matching KnownPairs.
func Scan(t *usb.Transport) ([]Device, error) {
	cands, err := t.Scan(KnownPairs)
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(cands))
	for _, c := range cands {
		out = append(out, Device{Bus: c.Bus, Address: c.Address, Vendor: c.Vendor, Product: c.Product})
	}
	return out, nil
}

// quickProbeTimeout is used by poll loops during brittle re-enumeration
// windows (spec.md §4.C: "A 'quick' variant uses a 50 ms timeout and no
// claim").
const quickProbeTimeout = 50 * time.Millisecond

// ProbeMagic reads the CPU-magic bytes from an already-open device,
// trying progressively more invasive recipients: device-recipient vendor
// IN with a short timeout first, then interface-recipient without claim,
// then claim interface 0 and retry once (spec.md §4.C).
func ProbeMagic(t *usb.Transport, n int) ([]byte, error) {
	// Step 1+2: device-recipient vendor IN with a short timeout; on a
	// recoverable error the transport's own recipient-fallback flips to
	// interface-recipient once, still without claiming the interface.
	if buf, err := t.ControlIn("GET_CPU_INFO", proto.ReqGetCPUInfo, 0, 0, n, usb.RetryPolicy{
		Timeout:           quickProbeTimeout,
		RecipientFallback: true,
	}); err == nil {
		return buf, nil
	}

	// Step 3: claim interface 0 and retry once.
	if err := t.ClaimInterface(); err != nil {
		return nil, usberr.Wrap(usberr.DeviceNotFound, "ProbeMagic", "claim interface for retry", err)
	}
	return (&proto.Ops{T: t}).GetCPUInfo(n)
}

// QuickProbeMagic is the fast, unclaimed, short-timeout probe used by
// poll loops (spec.md §4.C).
func QuickProbeMagic(t *usb.Transport, n int) ([]byte, error) {
	buf, err := t.ControlIn("GET_CPU_INFO (quick)", proto.ReqGetCPUInfo, 0, 0, n, usb.RetryPolicy{Timeout: quickProbeTimeout})
	return buf, err
}

// FullProbe opens the candidate, reads its CPU magic, and classifies it.
// The magic length is 8 bytes for a Bootrom-stage read and 16 for a
// Firmware-stage read (spec.md §4.B); FullProbe tries 16 first since a
// Firmware-stage device may not answer a short read, falling back to 8.
func FullProbe(t *usb.Transport, cand Device) (Device, error) {
	if err := t.Open(cand.Vendor, cand.Product, cand.Bus, cand.Address); err != nil {
		return cand, err
	}
	defer t.Close()

	magic, err := ProbeMagic(t, 16)
	if err != nil {
		magic, err = ProbeMagic(t, 8)
		if err != nil {
			return cand, err
		}
	}
	cand.Identity = Identify(magic)
	cand.Probed = true
	return cand, nil
}

// FastScan skips CPU-magic probing entirely, returning bare candidates.
// Used during brittle re-enumeration windows (spec.md §4.C "Fast mode").
func FastScan(t *usb.Transport) ([]Device, error) {
	return Scan(t)
}

// FullScan scans then classifies every candidate (spec.md §4.C "Full mode").
func FullScan(t *usb.Transport) ([]Device, error) {
	cands, err := Scan(t)
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(cands))
	for _, c := range cands {
		probed, err := FullProbe(t, c)
		if err != nil {
			out = append(out, c)
			continue
		}
		out = append(out, probed)
	}
	return out, nil
}
