package flash

import (
	"log"
	"time"

	"thingino-cloner/internal/ident"
	"thingino-cloner/internal/proto"
	"thingino-cloner/internal/usb"
	"thingino-cloner/internal/usberr"
)

const (
	writePreflightSettle   = 500 * time.Millisecond
	writeHandshakeSettle   = 50 * time.Millisecond
	writeBulkTimeout       = 6 * time.Second
	writePostBulkSettle    = 100 * time.Millisecond
	writeFWReadTimeout     = 1 * time.Second
	writeDrainReadTimeout  = 5 * time.Millisecond
	writeDrainMaxReads     = 16
	writeDrainReadSize     = 512
	writeFinalSettle       = 300 * time.Millisecond

	// Erase-wait poller (spec.md §4.G).
	eraseMinWait          = 5 * time.Second
	eraseMaxWait          = 60 * time.Second
	erasePollInterval     = 500 * time.Millisecond
	eraseStableThreshold  = 3
	a1EraseFixedWait      = 60 * time.Second
)

// Writer runs the §4.G erase-wait, preflight and per-chunk handshake
// write loop.
type Writer struct {
	T       BulkTransport
	Ops     *proto.Ops
	Variant ident.Variant
	Log     *log.Logger
}

func (w *Writer) logf(format string, v ...interface{}) {
	if w.Log != nil {
		w.Log.Printf(format, v...)
	}
}

func (w *Writer) family() Family { return FamilyOf(w.Variant) }

// StatusFunc polls a device-specific erase-status value; its meaning is
// opaque to the poller, which only tracks whether consecutive polls
// agree (spec.md §4.G erase-wait poller).
type StatusFunc func() (uint32, error)

// WaitForErase blocks until the erase-status poll stabilizes (after
// eraseMinWait has elapsed, the first sampled value is repeated by
// eraseStableThreshold consecutive polls), or until eraseMaxWait is hit.
// Only the T31 family polls; A1 takes a fixed a1EraseFixedWait (vendor
// trace shows it unresponsive during erase) and every other family takes
// the fixed eraseMinWait with no status polling at all.
func (w *Writer) WaitForErase(poll StatusFunc) error {
	if w.family() == FamilyA1 {
		time.Sleep(a1EraseFixedWait)
		return nil
	}
	if w.family() != FamilyT31 {
		time.Sleep(eraseMinWait)
		return nil
	}

	start := time.Now()
	time.Sleep(eraseMinWait)

	var last uint32
	stableCount := 0
	haveLast := false
	for {
		elapsed := time.Since(start)
		if elapsed >= eraseMaxWait {
			w.logf("flash: erase-wait hit max wait (%s) without stabilizing", eraseMaxWait)
			return nil
		}

		status, err := poll()
		if err != nil {
			w.logf("flash: erase-status poll error: %v (continuing)", err)
			haveLast = false
			stableCount = 0
		} else if haveLast && status == last {
			stableCount++
			if stableCount >= eraseStableThreshold {
				return nil
			}
		} else {
			last = status
			haveLast = true
			stableCount = 0
		}

		time.Sleep(erasePollInterval)
	}
}

// Preflight runs the variant-specific preamble before the per-chunk
// write loop (spec.md §4.G).
func (w *Writer) Preflight(chipID uint16) error {
	switch w.family() {
	case FamilyT41:
		return w.preflightT41N(chipID)
	default:
		return w.preflightT31(chipID)
	}
}

func (w *Writer) preflightT31(chipID uint16) error {
	marker := BuildPartitionMarker(chipID)
	if _, err := w.T.BulkOut(EndpointOut, marker, writeBulkTimeout); err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.Preflight", "send partition marker", err)
	}

	descriptor, err := BuildWriteDescriptor(w.family(), chipID)
	if err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.Preflight", "build write descriptor", err)
	}
	if _, err := w.T.BulkOut(EndpointOut, descriptor, writeBulkTimeout); err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.Preflight", "send write descriptor", err)
	}
	time.Sleep(writePreflightSettle)

	if err := w.Ops.FWHandshake(); err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.Preflight", "FW_HANDSHAKE", err)
	}
	return nil
}

// preflightT41N runs the T41N-specific double FW_WRITE2 preamble,
// interleaved with the ILOP marker and descriptor, and a mid-sequence
// FW_HANDSHAKE (spec.md §4.G).
func (w *Writer) preflightT41N(chipID uint16) error {
	preamble1 := make([]byte, 40)
	copy(preamble1[0:4], []byte("ILOP"))
	if err := w.Ops.FWWrite2(preamble1); err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.preflightT41N", "FW_WRITE2 preamble 1", err)
	}

	if _, err := w.Ops.FWRead(); err != nil {
		w.logf("flash: T41N preamble FW_READ error: %v (best-effort)", err)
	}
	if _, err := w.Ops.FWReadStatus4(); err != nil {
		w.logf("flash: T41N preamble FW_READ_STATUS4 error: %v (best-effort)", err)
	}

	marker := BuildPartitionMarker(chipID)
	if _, err := w.T.BulkOut(EndpointOut, marker, writeBulkTimeout); err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.preflightT41N", "send ILOP marker", err)
	}

	descriptor, err := BuildWriteDescriptor(w.family(), chipID)
	if err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.preflightT41N", "build write descriptor", err)
	}
	if _, err := w.T.BulkOut(EndpointOut, descriptor, writeBulkTimeout); err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.preflightT41N", "send write descriptor", err)
	}

	if err := w.Ops.FWHandshake(); err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.preflightT41N", "mid-sequence FW_HANDSHAKE", err)
	}

	preamble2 := make([]byte, 40)
	copy(preamble2[0:4], []byte("ILOP"))
	if err := w.Ops.FWWrite2(preamble2); err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.preflightT41N", "FW_WRITE2 preamble 2", err)
	}
	if _, err := w.Ops.FWRead(); err != nil {
		w.logf("flash: T41N preamble FW_READ error: %v (best-effort)", err)
	}
	if _, err := w.Ops.FWReadStatus4(); err != nil {
		w.logf("flash: T41N preamble FW_READ_STATUS4 error: %v (best-effort)", err)
	}

	time.Sleep(writePreflightSettle)
	return nil
}

// drainStatus best-effort reads up to writeDrainMaxReads short status
// packets off the bulk-IN endpoint with a tight timeout, discarding
// whatever shows up (spec.md §4.G: the firmware trickles progress/log
// bytes after accepting a chunk; draining them keeps the pipe clean for
// the next handshake without blocking on a real response).
func (w *Writer) drainStatus() {
	buf := make([]byte, writeDrainReadSize)
	for i := 0; i < writeDrainMaxReads; i++ {
		if _, err := w.T.BulkIn(EndpointIn, buf, writeDrainReadTimeout); err != nil {
			return
		}
	}
}

// WriteChunk sends one handshake+bulk-OUT chunk (spec.md §4.G).
func (w *Writer) WriteChunk(chunkOffset uint32, data []byte) error {
	params := ParamsFor(w.Variant)
	handshake, err := BuildWriteHandshake(w.family(), chunkOffset, uint32(len(data)), data, params)
	if err != nil {
		return usberr.Wrap(usberr.InvalidParameter, "Writer.WriteChunk", "build handshake", err)
	}

	if err := w.Ops.VRWrite(handshake[:]); err != nil {
		return usberr.Wrap(usberr.Protocol, "Writer.WriteChunk", "VR_WRITE", err)
	}
	time.Sleep(writeHandshakeSettle)

	if _, err := w.T.BulkOut(EndpointOut, data, writeBulkTimeout); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Writer.WriteChunk", "bulk-out", err)
	}
	time.Sleep(writePostBulkSettle)

	if w.family() == FamilyT41 {
		if _, err := w.Ops.T.ControlIn("FW_READ", proto.ReqFWRead, 0, 0, 4, usb.RetryPolicy{
			Timeout:      writeFWReadTimeout,
			BackoffRetry: false,
		}); err != nil {
			w.logf("flash: T41 post-chunk FW_READ error at offset %#x: %v (best-effort)", chunkOffset, err)
		}
	}

	w.drainStatus()

	// spec.md §7 propagation policy: FW_READ acks are best-effort, but a
	// handshake status with 0xFFFF in either result half is a protocol
	// failure, not a warning.
	if statusBuf, err := w.Ops.FWReadStatus2(); err != nil {
		w.logf("flash: post-chunk FW_READ_STATUS2 error at offset %#x: %v (treated as busy, continuing)", chunkOffset, err)
	} else if h := proto.ParseHandshake(statusBuf); h.CRCFailed() {
		return usberr.New(usberr.Protocol, "Writer.WriteChunk", "post-chunk handshake reports 0xFFFF result")
	}

	time.Sleep(writeFinalSettle)
	return nil
}

// WriteAll writes data in variant-sized chunks starting at
// FlashBaseWrite, after preflight and erase-wait, finishing with a
// best-effort cache flush (spec.md §4.G). The base address and total
// length are programmed first (spec.md §4.G: "after setting base address
// and length, poll FW_READ_STATUS2"), the same SET_DATA_ADDR/SET_DATA_LEN
// pair the boot pipeline issues before each load step.
func (w *Writer) WriteAll(chipID uint16, data []byte, poll StatusFunc) error {
	if err := w.Ops.SetDataAddr(FlashBaseWrite); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Writer.WriteAll", "SET_DATA_ADDR", err)
	}
	if err := w.Ops.SetDataLen(uint32(len(data))); err != nil {
		return usberr.Wrap(usberr.TransferFailed, "Writer.WriteAll", "SET_DATA_LEN", err)
	}

	if err := w.WaitForErase(poll); err != nil {
		return err
	}
	if err := w.Preflight(chipID); err != nil {
		return err
	}

	params := ParamsFor(w.Variant)
	offset := uint32(0)
	for offset < uint32(len(data)) {
		end := offset + params.ChunkSize
		if end > uint32(len(data)) {
			end = uint32(len(data))
		}
		chunk := data[offset:end]
		if uint32(len(chunk)) < params.ChunkSize {
			padded := make([]byte, params.ChunkSize)
			copy(padded, chunk)
			chunk = padded
		}
		if err := w.WriteChunk(FlashBaseWrite+offset, chunk); err != nil {
			return err
		}
		offset = end
	}

	if err := w.Ops.FlushCache(); err != nil {
		w.logf("flash: FLUSH_CACHE error: %v (non-fatal)", err)
	}
	return nil
}
