// Package boot implements the deterministic bootstrap pipeline of
// spec.md §4.D: load a DDR configuration blob, an SPL bootloader, and a
// U-Boot image into on-chip SRAM/SDRAM, transfer execution through two
// programmed stages, and reconcile USB re-enumeration where the variant
// requires it.
//
// Grounded on hasher's internal/driver/device/usb_device.go
// SendTxTaskAndReadRxNonce chunked-send shape and controller.go's
// reconnect-after-disconnect handling, generalized from one mining task
// submission to a multi-stage load-and-execute sequence.
package boot

import (
	"time"

	"github.com/google/gousb"

	"thingino-cloner/internal/ident"
	"thingino-cloner/internal/proto"
	"thingino-cloner/internal/usberr"
)

// Transport is the surface Pipeline needs from a USB session: chunked
// bulk-OUT plus the close/reopen/claim primitives the re-enumeration
// path drives. *usb.Transport satisfies it; tests substitute a mock.
type Transport interface {
	BulkOut(epAddr int, buf []byte, timeout time.Duration) (int, error)
	VendorID() gousb.ID
	ProductID() gousb.ID
	Close() error
	Open(vid, pid gousb.ID, bus, addr int) error
	ClaimInterface() error
}

// SRAM/SDRAM load addresses and U-Boot default, spec.md §4.D.
const (
	AddrDDRConfig    uint32 = 0x80001000
	AddrSPL          uint32 = 0x80001800
	DefaultUBootAddr uint32 = 0x80100000

	d2iLenT20   uint32 = 0x4000
	d2iLenOther uint32 = 0x7000
)

// EndpointOut is the bulk-OUT endpoint used for every chunked load in
// the bootstrap pipeline (same convention as internal/flash).
const EndpointOut = 0x01

const (
	defaultChunkSize     = 1 << 20
	maxChunkAttempts     = 4 // 1 initial + 3 retries, spec.md §4.D
	chunkRetryBackoff    = 50 * time.Millisecond
	interChunkDelay      = 10 * time.Millisecond
	interChunkThreshold  = 100 * 1024
	postSPLWaitCommon    = 1100 * time.Millisecond
	postSPLPollInterval  = 20 * time.Millisecond
	postSPLPollAttempts  = 10
	reenumCloseWait      = 3000 * time.Millisecond
	a1ExtraReopenWait    = 5000 * time.Millisecond
	genericPollInterval  = 10 * time.Millisecond
	genericPollMax       = 2000
	genericRefreshAt     = 200
	ubootSettle          = 500 * time.Millisecond
	stage2Settle         = 1 * time.Second
)

// Bundle holds the three firmware blobs the pipeline loads.
type Bundle struct {
	DDRConfig []byte
	SPL       []byte
	UBoot     []byte
}

// Options configures one bootstrap run (spec.md §6's bootstrap command
// inputs).
type Options struct {
	// SkipDDR omits step 3 (the DDR configuration load).
	SkipDDR bool

	// UBootAddress overrides DefaultUBootAddr when non-zero.
	UBootAddress uint32

	// ForceVariant overrides the probed variant for dispatch decisions
	// (post-SPL stabilization path, d2i length, U-Boot failure policy).
	ForceVariant ident.Variant
}

// Logger is the minimal logging surface Pipeline needs.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Pipeline runs the bootstrap sequence against one open device session.
type Pipeline struct {
	T   Transport
	Ops *proto.Ops
	Log Logger
}

func (p *Pipeline) logf(format string, v ...interface{}) {
	if p.Log != nil {
		p.Log.Printf(format, v...)
	}
}

func (p *Pipeline) chunkTimeout(size int) time.Duration {
	ms := 5000 + (size/65536)*1000
	if ms > 30000 {
		ms = 30000
	}
	d := time.Duration(ms) * time.Millisecond
	if d < 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// sendChunk writes one chunk, resuming on partial writes and retrying
// after a BulkOut error with chunkRetryBackoff between attempts, giving
// up once maxChunkAttempts calls have failed (spec.md §4.D
// chunked-transfer primitive). Errors are not classified: every BulkOut
// error is retried, whether recoverable or not.
func (p *Pipeline) sendChunk(chunk []byte) error {
	remaining := chunk
	attempt := 0
	for len(remaining) > 0 {
		timeout := p.chunkTimeout(len(remaining))
		n, err := p.T.BulkOut(EndpointOut, remaining, timeout)
		if n > 0 {
			remaining = remaining[n:]
		}
		if err != nil {
			attempt++
			if attempt >= maxChunkAttempts {
				return usberr.Wrap(usberr.TransferFailed, "sendChunk", "exhausted chunk retries", err)
			}
			time.Sleep(chunkRetryBackoff)
			continue
		}
	}
	return nil
}

// sendChunked splits data into defaultChunkSize pieces and sends each in
// order, pacing with interChunkDelay once the total transfer exceeds
// interChunkThreshold.
func (p *Pipeline) sendChunked(data []byte) error {
	total := len(data)
	offset := 0
	for offset < total {
		end := offset + defaultChunkSize
		if end > total {
			end = total
		}
		if err := p.sendChunk(data[offset:end]); err != nil {
			return err
		}
		offset = end
		if total > interChunkThreshold && offset < total {
			time.Sleep(interChunkDelay)
		}
	}
	return nil
}

// LoadAt programs the destination address and length, then chunk-sends
// data (the SET_DATA_ADDR / SET_DATA_LEN / bulk-OUT triple named at every
// load step of spec.md §4.D).
func (p *Pipeline) LoadAt(addr uint32, data []byte) error {
	if err := p.Ops.SetDataAddr(addr); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "LoadAt", "SET_DATA_ADDR", err)
	}
	if err := p.Ops.SetDataLen(uint32(len(data))); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "LoadAt", "SET_DATA_LEN", err)
	}
	return p.sendChunked(data)
}

func (p *Pipeline) resolveVariant(identity ident.Identity, opts Options) ident.Variant {
	if opts.ForceVariant != ident.VariantUnknown {
		return opts.ForceVariant
	}
	return identity.Variant
}

// Run executes the full bootstrap sequence. If identity.Stage is already
// StageFirmware, Run is a no-op success (spec.md §4.D entry precondition).
func (p *Pipeline) Run(identity ident.Identity, bundle Bundle, opts Options) error {
	if identity.Stage == ident.StageFirmware {
		return nil
	}
	variant := p.resolveVariant(identity, opts)

	// Step 1: best-effort CPU info; a timeout here must not fail the
	// bootstrap (spec.md §4.D step 1).
	if _, err := p.Ops.GetCPUInfo(8); err != nil {
		p.logf("boot: GET_CPU_INFO preflight failed (continuing): %v", err)
	}

	// Step 3: DDR configuration, unless skipped.
	if !opts.SkipDDR {
		if err := p.LoadAt(AddrDDRConfig, bundle.DDRConfig); err != nil {
			return usberr.Wrap(usberr.TransferFailed, "Run", "load DDR config", err)
		}
	}

	// Step 4: SPL.
	if err := p.LoadAt(AddrSPL, bundle.SPL); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Run", "load SPL", err)
	}

	// Step 5: start SPL.
	d2iLen := d2iLenOther
	if variant == ident.T20 {
		d2iLen = d2iLenT20
	}
	if err := p.Ops.SetDataLen(d2iLen); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Run", "SET_DATA_LEN(d2i)", err)
	}
	if err := p.Ops.ProgStage1(AddrSPL); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Run", "PROG_STAGE1", err)
	}

	// Step 6: post-SPL stabilization.
	if err := p.stabilize(variant); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Run", "post-SPL stabilization", err)
	}

	// Step 7: U-Boot.
	ubootAddr := DefaultUBootAddr
	if opts.UBootAddress != 0 {
		ubootAddr = opts.UBootAddress
	}
	if err := p.Ops.SetDataAddr(ubootAddr); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Run", "SET_DATA_ADDR(uboot)", err)
	}
	if err := p.Ops.SetDataLen(uint32(len(bundle.UBoot))); err != nil {
		if variant == ident.T41 || variant == ident.T41N {
			p.logf("boot: SET_DATA_LEN(uboot) rejected on %v (non-fatal): %v", variant, err)
		} else {
			return usberr.Wrap(usberr.TransferFailed, "Run", "SET_DATA_LEN(uboot)", err)
		}
	}
	if err := p.sendChunked(bundle.UBoot); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Run", "load U-Boot", err)
	}
	time.Sleep(ubootSettle)

	// Step 8: flush cache, skipped on T41/T41N to match vendor behavior.
	if variant != ident.T41 && variant != ident.T41N {
		if err := p.Ops.FlushCache(); err != nil {
			p.logf("boot: FLUSH_CACHE failed (non-fatal): %v", err)
		}
	}

	// Step 9: transfer execution to U-Boot; re-enumeration-induced
	// timeouts are masked as success inside Ops.ProgStage2.
	if err := p.Ops.ProgStage2(ubootAddr); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Run", "PROG_STAGE2", err)
	}
	time.Sleep(stage2Settle)
	return nil
}

// stabilize implements spec.md §4.D step 6's variant-sensitive post-SPL
// behavior.
func (p *Pipeline) stabilize(variant ident.Variant) error {
	switch variant {
	case ident.T20, ident.T41, ident.T41N:
		time.Sleep(postSPLWaitCommon)
		for i := 0; i < postSPLPollAttempts; i++ {
			if _, err := p.Ops.GetCPUInfo(8); err == nil {
				break
			}
			time.Sleep(postSPLPollInterval)
		}
		return nil
	default:
		return p.reenumerateAndPoll(variant)
	}
}

// reenumerateAndPoll closes the handle, waits for the device to
// physically re-enumerate, reopens it at the same (VID, PID), and (for
// every variant but T41, which never reaches this branch) polls
// GET_CPU_INFO until three consecutive successes.
func (p *Pipeline) reenumerateAndPoll(variant ident.Variant) error {
	vid, pid := p.T.VendorID(), p.T.ProductID()

	if err := p.T.Close(); err != nil {
		p.logf("boot: close before re-enumeration: %v (continuing)", err)
	}
	time.Sleep(reenumCloseWait)

	if err := p.T.Open(vid, pid, -1, -1); err != nil {
		return usberr.Wrap(usberr.DeviceNotFound, "reenumerateAndPoll", "reopen after re-enumeration", err)
	}
	if err := p.T.ClaimInterface(); err != nil {
		return usberr.Wrap(usberr.OpenFailed, "reenumerateAndPoll", "claim interface after re-enumeration", err)
	}

	if variant == ident.A1 {
		time.Sleep(a1ExtraReopenWait)
	}

	consecutive := 0
	refreshed := false
	for i := 0; i < genericPollMax; i++ {
		if _, err := p.Ops.GetCPUInfo(8); err == nil {
			consecutive++
			if consecutive >= 3 {
				return nil
			}
		} else {
			consecutive = 0
		}

		if i == genericRefreshAt && !refreshed {
			refreshed = true
			if err := p.T.Close(); err == nil {
				if err := p.T.Open(vid, pid, -1, -1); err == nil {
					p.T.ClaimInterface()
				}
			}
		}

		time.Sleep(genericPollInterval)
	}
	return usberr.New(usberr.Timeout, "reenumerateAndPoll", "device never stabilized after re-enumeration")
}
