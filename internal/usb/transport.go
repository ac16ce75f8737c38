// Package usb implements the vendor control/bulk transport described in
// spec.md §4.A: adaptive timeouts, recipient-fallback and backoff retries,
// interface claim/detach, and a safe re-open-at-same-address primitive.
//
// Grounded on hasher's internal/driver/device/usb_device.go (gousb-based
// open/claim/endpoint wiring) and controller.go (device state tracking,
// retry-flavored error handling around a single owned handle).
package usb

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/gousb"

	"thingino-cloner/internal/usberr"
)

// Default and extended control-transfer timeouts (spec.md §4.A).
const (
	DefaultControlTimeout  = 5 * time.Second
	ExtendedControlTimeout = 12 * time.Second
)

var backoffSchedule = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
}

// RetryPolicy configures the classify-then-retry behavior for a single
// control transfer, set per named vendor request by the protocol layer
// (internal/proto), per Design Note "Retry-and-mask as protocol contract"
// in spec.md §9.
type RetryPolicy struct {
	// Timeout overrides DefaultControlTimeout when non-zero.
	Timeout time.Duration

	// RecipientFallback flips the recipient bits (device<->interface)
	// once on a recoverable error, then retries. Used for the "three key
	// ops" named in spec.md §4.A: set address, set length, program
	// stage 1/2.
	RecipientFallback bool

	// BackoffRetry enables the 0.5/1/2/3/5s, max 5 attempt backoff
	// schedule for recoverable error classes (timeout/pipe/no-device).
	BackoffRetry bool

	// MaskTimeoutAsSuccess treats a libusb timeout as a zero-length
	// success. Used for VR_WRITE and SET_DATA_ADDR in Firmware stage.
	MaskTimeoutAsSuccess bool

	// MaskTimeoutOrPipeAsSuccess treats both a timeout and a pipe error
	// as success. Used for PROG_STAGE2, which provokes re-enumeration.
	MaskTimeoutOrPipeAsSuccess bool

	// SingleShot disables all retries: the request is issued exactly
	// once (still subject to the masking rules above). Used for
	// VR_WRITE, which must never be reissued once the firmware may have
	// started acting on the handshake.
	SingleShot bool
}

type errClass int

const (
	classOther errClass = iota
	classTimeout
	classPipe
	classNoDevice
)

func classify(err error) errClass {
	if err == nil {
		return classOther
	}
	msg := strings.ToUpper(err.Error())
	switch {
	case strings.Contains(msg, "TIMEOUT") || strings.Contains(msg, "TIMED OUT"):
		return classTimeout
	case strings.Contains(msg, "PIPE"):
		return classPipe
	case strings.Contains(msg, "NO_DEVICE") || strings.Contains(msg, "NO DEVICE") || strings.Contains(msg, "NOT FOUND"):
		return classNoDevice
	default:
		return classOther
	}
}

func recoverable(c errClass) bool {
	return c == classTimeout || c == classPipe || c == classNoDevice
}

// Logger is the minimal logging surface Transport needs. *log.Logger
// satisfies it; spec.md §9 calls for an injected logger rather than an
// ambient global for the verbose-logging flag.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Transport owns exactly one USB session: one libusb context and, at
// most, one open device handle, matching spec.md §5's "exactly one
// device handle per session" and §9's lifetime note that handles must
// not outlive the context.
type Transport struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	vendor gousb.ID
	product gousb.ID

	bus     int
	address int

	log Logger
}

// Candidate describes one scanned device before it is opened, used by
// internal/ident's enumeration sweep.
type Candidate struct {
	Bus     int
	Address int
	Vendor  gousb.ID
	Product gousb.ID
}

// NewTransport creates a context but does not open a device yet.
func NewTransport(logger Logger) *Transport {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Transport{ctx: gousb.NewContext(), log: logger}
}

// Scan lists every attached device whose (VID, PID) appears in pairs.
func (t *Transport) Scan(pairs [][2]gousb.ID) ([]Candidate, error) {
	devs, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		for _, p := range pairs {
			if desc.Vendor == p[0] && desc.Product == p[1] {
				return true
			}
		}
		return false
	})
	if err != nil && len(devs) == 0 {
		return nil, usberr.Wrap(usberr.DeviceNotFound, "Scan", "failed to list usb devices", err)
	}
	out := make([]Candidate, 0, len(devs))
	for _, d := range devs {
		out = append(out, Candidate{
			Bus:     d.Desc.Bus,
			Address: d.Desc.Address,
			Vendor:  d.Desc.Vendor,
			Product: d.Desc.Product,
		})
		d.Close()
	}
	return out, nil
}

// Open acquires a handle for the given (VID, PID). When addr >= 0 only
// the device at the given bus/address is accepted (used to re-probe a
// specific candidate during Full-mode enumeration); with addr < 0 the
// first matching device is taken.
func (t *Transport) Open(vid, pid gousb.ID, bus, addr int) error {
	devs, err := t.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != vid || desc.Product != pid {
			return false
		}
		if addr >= 0 && (desc.Bus != bus || desc.Address != addr) {
			return false
		}
		return true
	})
	if err != nil {
		return usberr.Wrap(usberr.OpenFailed, "Open", "failed to open usb device", err)
	}
	if len(devs) == 0 {
		return usberr.New(usberr.DeviceNotFound, "Open", fmt.Sprintf("no device vid=%04x pid=%04x", uint16(vid), uint16(pid)))
	}
	// Close any extras we didn't ask for; keep the first match.
	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}
	t.dev = dev
	t.vendor, t.product = vid, pid
	t.bus, t.address = dev.Desc.Bus, dev.Desc.Address
	return nil
}

// ClaimInterface detaches any kernel driver from interface 0 and claims
// it. Idempotent: calling it again with the interface already claimed is
// a no-op.
func (t *Transport) ClaimInterface() error {
	if t.intf != nil {
		return nil
	}
	if t.dev == nil {
		return usberr.New(usberr.InvalidParameter, "ClaimInterface", "no open device")
	}
	if err := t.dev.SetAutoDetach(true); err != nil {
		t.log.Printf("usb: SetAutoDetach(0): %v (continuing)", err)
	}
	cfg, err := t.dev.Config(1)
	if err != nil {
		return usberr.Wrap(usberr.OpenFailed, "ClaimInterface", "set configuration 1", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		return usberr.Wrap(usberr.OpenFailed, "ClaimInterface", "claim interface 0", err)
	}
	t.cfg, t.intf = cfg, intf
	return nil
}

// ReleaseInterface closes the claimed interface, leaving the device
// handle and configuration open.
func (t *Transport) ReleaseInterface() {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.cfg != nil {
		t.cfg.Close()
		t.cfg = nil
	}
}

// Bus and Address report the session's current USB topology.
func (t *Transport) Bus() int     { return t.bus }
func (t *Transport) Address() int { return t.address }

// VendorID and ProductID report the (VID, PID) of the currently open
// device, used by callers that must rescan for the same device across a
// re-enumeration window.
func (t *Transport) VendorID() gousb.ID  { return t.vendor }
func (t *Transport) ProductID() gousb.ID { return t.product }

func controlType(out bool, recipientInterface bool) uint8 {
	rt := gousb.ControlVendor
	if out {
		rt |= gousb.ControlOut
	} else {
		rt |= gousb.ControlIn
	}
	if recipientInterface {
		rt |= gousb.ControlInterface
	} else {
		rt |= gousb.ControlDevice
	}
	return uint8(rt)
}

// ControlOut issues a vendor OUT control transfer, applying the retry
// policy described in spec.md §4.A.
func (t *Transport) ControlOut(op string, request uint8, value, index uint16, data []byte, policy RetryPolicy) (int, error) {
	return t.control(op, true, request, value, index, data, policy)
}

// ControlIn issues a vendor IN control transfer of at most maxLen bytes.
func (t *Transport) ControlIn(op string, request uint8, value, index uint16, maxLen int, policy RetryPolicy) ([]byte, error) {
	buf := make([]byte, maxLen)
	n, err := t.control(op, false, request, value, index, buf, policy)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (t *Transport) control(op string, out bool, request uint8, value, index uint16, data []byte, policy RetryPolicy) (int, error) {
	if t.dev == nil {
		return 0, usberr.New(usberr.InvalidParameter, op, "no open device")
	}
	timeout := policy.Timeout
	if timeout == 0 {
		timeout = DefaultControlTimeout
	}

	recipientInterface := false
	attempt := func() (int, error) {
		t.dev.ControlTimeout = timeout
		rt := controlType(out, recipientInterface)
		return t.dev.Control(rt, request, value, index, data)
	}

	n, err := attempt()
	if err == nil {
		return n, nil
	}

	class := classify(err)

	// Protocol-contract masking (spec.md §4.A special cases, §9 note).
	if policy.MaskTimeoutAsSuccess && class == classTimeout {
		t.log.Printf("usb: %s timed out, masking as success per protocol contract", op)
		return 0, nil
	}
	if policy.MaskTimeoutOrPipeAsSuccess && (class == classTimeout || class == classPipe) {
		t.log.Printf("usb: %s timed out/pipe (expected re-enumeration), masking as success", op)
		return 0, nil
	}
	if policy.SingleShot {
		return 0, usberr.Wrap(usberr.TransferFailed, op, "control transfer failed", err)
	}
	if !recoverable(class) {
		return 0, usberr.Wrap(usberr.TransferFailed, op, "non-recoverable libusb error", err)
	}

	// Recipient fallback: flip device<->interface once for the three key ops.
	if policy.RecipientFallback {
		recipientInterface = !recipientInterface
		if n2, err2 := attempt(); err2 == nil {
			return n2, nil
		} else {
			err = err2
			class = classify(err)
			if policy.MaskTimeoutAsSuccess && class == classTimeout {
				return 0, nil
			}
			if policy.MaskTimeoutOrPipeAsSuccess && (class == classTimeout || class == classPipe) {
				return 0, nil
			}
			if !recoverable(class) {
				return 0, usberr.Wrap(usberr.TransferFailed, op, "non-recoverable libusb error after recipient fallback", err)
			}
		}
	}

	if !policy.BackoffRetry {
		return 0, usberr.Wrap(classifyKind(class), op, "exhausted without backoff retry", err)
	}

	for _, wait := range backoffSchedule {
		time.Sleep(wait)
		if n2, err2 := attempt(); err2 == nil {
			return n2, nil
		} else {
			err = err2
			class = classify(err)
			if policy.MaskTimeoutAsSuccess && class == classTimeout {
				return 0, nil
			}
			if policy.MaskTimeoutOrPipeAsSuccess && (class == classTimeout || class == classPipe) {
				return 0, nil
			}
			if !recoverable(class) {
				return 0, usberr.Wrap(usberr.TransferFailed, op, "non-recoverable libusb error during backoff", err)
			}
		}
	}
	return 0, usberr.Wrap(classifyKind(class), op, "exhausted backoff retries", err)
}

func classifyKind(c errClass) usberr.Kind {
	if c == classTimeout {
		return usberr.Timeout
	}
	return usberr.TransferFailed
}

// BulkOut writes buf to the given OUT endpoint address (e.g. 0x01).
func (t *Transport) BulkOut(epAddr int, buf []byte, timeout time.Duration) (int, error) {
	if t.intf == nil {
		return 0, usberr.New(usberr.InvalidParameter, "BulkOut", "interface not claimed")
	}
	ep, err := t.intf.OutEndpoint(epAddr)
	if err != nil {
		return 0, usberr.Wrap(usberr.TransferFailed, "BulkOut", "open out endpoint", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := ep.WriteContext(ctx, buf)
	if err != nil {
		if classify(err) == classTimeout && n == len(buf) {
			// Some host controllers report late completion (spec.md §4.A).
			return n, nil
		}
		return n, usberr.Wrap(usberr.TransferFailed, "BulkOut", "bulk write failed", err)
	}
	return n, nil
}

// BulkIn reads into buf from the given IN endpoint address (e.g. 0x81).
func (t *Transport) BulkIn(epAddr int, buf []byte, timeout time.Duration) (int, error) {
	if t.intf == nil {
		return 0, usberr.New(usberr.InvalidParameter, "BulkIn", "interface not claimed")
	}
	ep, err := t.intf.InEndpoint(epAddr)
	if err != nil {
		return 0, usberr.Wrap(usberr.TransferFailed, "BulkIn", "open in endpoint", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := ep.ReadContext(ctx, buf)
	if err != nil {
		if classify(err) == classTimeout && n == len(buf) {
			return n, nil
		}
		return n, usberr.Wrap(usberr.TransferFailed, "BulkIn", "bulk read failed", err)
	}
	return n, nil
}

// Reset issues a USB port reset on the current handle.
func (t *Transport) Reset() error {
	if t.dev == nil {
		return usberr.New(usberr.InvalidParameter, "Reset", "no open device")
	}
	if err := t.dev.Reset(); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Reset", "usb reset failed", err)
	}
	return nil
}

// Close releases the interface, config, and device handle, but keeps the
// context alive so ReopenSameVidPid can be used afterward.
func (t *Transport) Close() error {
	t.ReleaseInterface()
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	return nil
}

// CloseContext releases everything including the libusb context. No
// further Open/Reopen calls are valid afterward. Per spec.md §9, the
// context must outlive every handle it issued, so this is the only
// place the context itself is closed.
func (t *Transport) CloseContext() error {
	t.Close()
	if t.ctx != nil {
		err := t.ctx.Close()
		t.ctx = nil
		return err
	}
	return nil
}

// ReopenSameVidPid closes the current handle and opens the first device
// found with the same (vendor, product), updating bus/address. All other
// session state (the Logger, the libusb context) is preserved.
func (t *Transport) ReopenSameVidPid() error {
	vid, pid := t.vendor, t.product
	t.Close()
	return t.Open(vid, pid, -1, -1)
}

// DumpActiveConfig emits the interface/alt/endpoint layout of the current
// device for diagnostics, mirroring the depth of hasher's CheckDeviceState.
func (t *Transport) DumpActiveConfig() string {
	if t.dev == nil {
		return "usb: no open device"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "usb device vid=%04x pid=%04x bus=%d addr=%d\n", uint16(t.vendor), uint16(t.product), t.bus, t.address)
	for cfgNum, cfg := range t.dev.Desc.Configs {
		fmt.Fprintf(&b, " config %d:\n", cfgNum)
		for ifNum, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				fmt.Fprintf(&b, "  interface %d alt %d class=%d/%d\n", ifNum, alt.Alternate, alt.Class, alt.SubClass)
				for _, ep := range alt.Endpoints {
					fmt.Fprintf(&b, "    endpoint %#02x dir=%v type=%v maxpkt=%d\n", ep.Number, ep.Direction, ep.TransferType, ep.MaxPacketSize)
				}
			}
		}
	}
	return b.String()
}
