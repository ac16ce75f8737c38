// Package cloner is the session facade tying the USB transport, protocol,
// identification, bootstrap pipeline, DDR config builder, and flash
// read/write engines together into the four operations of spec.md §6's
// command surface: list, bootstrap, read, write.
package cloner

import (
	"io"
	"log"

	"thingino-cloner/internal/boot"
	"thingino-cloner/internal/ddrcfg"
	"thingino-cloner/internal/flash"
	"thingino-cloner/internal/ident"
	"thingino-cloner/internal/proto"
	"thingino-cloner/internal/usb"
	"thingino-cloner/internal/usberr"
)

// Options configures one bootstrap (and, by extension, the read/write
// flows that run bootstrap first) per spec.md §6's environment-like
// configuration table.
type Options struct {
	// SkipDDR omits step 3 of bootstrap.
	SkipDDR bool

	// UBootAddress replaces the default 0x80100000 when non-zero.
	UBootAddress uint32

	// ForceVariant pins the detected variant to the given family before
	// and after re-enumeration.
	ForceVariant ident.Variant

	// ChipID is the flash chip ID written into the flash descriptor and
	// partition marker sent before a read or write.
	ChipID uint16

	// DDRProcessor/DDRChip name a processor/chip pair to build a DDR
	// config blob on the fly via ddrcfg, used when the firmware provider
	// doesn't already carry one for the resolved variant.
	DDRProcessor string
	DDRChip      string

	// Bundle, when non-nil, is used verbatim instead of asking Provider
	// (spec.md §6 bootstrap's "optional custom DDR/SPL/U-Boot paths").
	Bundle *boot.Bundle
}

// Session owns exactly one USB transport and the protocol/bootstrap/flash
// collaborators layered on top of it (spec.md §5: one device handle per
// session).
type Session struct {
	T        *usb.Transport
	Ops      *proto.Ops
	Log      *log.Logger
	Provider FirmwareProvider
}

// NewSession creates a session with a fresh libusb context. logger may be
// nil, in which case a default stdlib logger is used.
func NewSession(logger *log.Logger, provider FirmwareProvider) *Session {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	t := usb.NewTransport(logger)
	return &Session{
		T:        t,
		Ops:      &proto.Ops{T: t},
		Log:      logger,
		Provider: provider,
	}
}

func (s *Session) logf(format string, v ...interface{}) {
	if s.Log != nil {
		s.Log.Printf(format, v...)
	}
}

// List enumerates every attached Ingenic device and classifies its stage
// and variant (spec.md §6 "list").
func (s *Session) List() ([]ident.Device, error) {
	return ident.FullScan(s.T)
}

// Open acquires and claims the device described by dev, making it the
// session's active handle for Bootstrap/Read/Write.
func (s *Session) Open(dev ident.Device) error {
	if err := s.T.Open(dev.Vendor, dev.Product, dev.Bus, dev.Address); err != nil {
		return err
	}
	return s.T.ClaimInterface()
}

// Close releases the device handle and the libusb context. The session
// must not be reused afterward.
func (s *Session) Close() error {
	return s.T.CloseContext()
}

// identify reads the CPU magic off the already-open device and classifies
// it, trying the 16-byte Firmware-stage read before falling back to the
// 8-byte Bootrom-stage read (spec.md §4.C).
func (s *Session) identify() (ident.Identity, error) {
	magic, err := ident.ProbeMagic(s.T, 16)
	if err != nil {
		magic, err = ident.ProbeMagic(s.T, 8)
		if err != nil {
			return ident.Identity{}, usberr.Wrap(usberr.DeviceNotFound, "Session.identify", "CPU magic probe", err)
		}
	}
	return ident.Identify(magic), nil
}

// resolveBundle asks the Provider for the bundle matching variant, then
// fills in a DDR config blob built from opts.DDRProcessor/DDRChip when the
// provider didn't supply one and the caller isn't skipping DDR.
func (s *Session) resolveBundle(variant ident.Variant, opts Options) (boot.Bundle, error) {
	var bundle boot.Bundle
	if opts.Bundle != nil {
		bundle = *opts.Bundle
	} else {
		b, err := s.Provider.Bundle(variant)
		if err != nil {
			return boot.Bundle{}, err
		}
		bundle = b
	}
	if !opts.SkipDDR && len(bundle.DDRConfig) == 0 && opts.DDRProcessor != "" {
		blob, err := ddrcfg.BuildByName(opts.DDRProcessor, opts.DDRChip)
		if err != nil {
			return boot.Bundle{}, usberr.Wrap(usberr.Protocol, "Session.resolveBundle", "build DDR config", err)
		}
		bundle.DDRConfig = blob
	}
	return bundle, nil
}

// Bootstrap identifies the open device, resolves its firmware bundle, and
// runs the §4.D bootstrap pipeline. It returns the identity observed
// before bootstrap (with ForceVariant applied), since a successful run
// leaves the device at Firmware stage without a fresh magic to reread;
// on success its Stage is set to StageFirmware.
func (s *Session) Bootstrap(opts Options) (ident.Identity, error) {
	identity, err := s.identify()
	if err != nil {
		return ident.Identity{}, err
	}
	if opts.ForceVariant != ident.VariantUnknown {
		identity.Variant = opts.ForceVariant
	}

	bundle, err := s.resolveBundle(identity.Variant, opts)
	if err != nil {
		return identity, err
	}

	pipeline := &boot.Pipeline{T: s.T, Ops: s.Ops, Log: s.Log}
	bootOpts := boot.Options{
		SkipDDR:      opts.SkipDDR,
		UBootAddress: opts.UBootAddress,
		ForceVariant: opts.ForceVariant,
	}
	if err := pipeline.Run(identity, bundle, bootOpts); err != nil {
		return identity, err
	}

	identity.Stage = ident.StageFirmware
	s.Ops.FirmwareStage = true
	return identity, nil
}

// Read runs the full 16-bank firmware read flow (spec.md §6 "read"),
// writing the result to w.
func (s *Session) Read(w io.Writer, opts Options) (int64, error) {
	reader := &flash.Reader{T: s.T, Ops: s.Ops, Log: s.Log}
	return reader.ReadAll(w, opts.ChipID)
}

// Write runs the full erase-wait/preflight/chunked write flow (spec.md §6
// "write") for the given variant, using poll to sample erase status
// (ignored by every family but T31, which alone polls during erase-wait).
func (s *Session) Write(data []byte, variant ident.Variant, opts Options, poll flash.StatusFunc) error {
	writer := &flash.Writer{T: s.T, Ops: s.Ops, Variant: variant, Log: s.Log}
	return writer.WriteAll(opts.ChipID, data, poll)
}
