package flash

import (
	"io"
	"log"
	"time"

	"thingino-cloner/internal/proto"
	"thingino-cloner/internal/usberr"
)

// BulkTransport is the bulk-transfer surface the read/write engines
// need. *usb.Transport satisfies it; tests substitute a mock.
type BulkTransport interface {
	BulkOut(epAddr int, buf []byte, timeout time.Duration) (int, error)
	BulkIn(epAddr int, buf []byte, timeout time.Duration) (int, error)
}

const (
	readPreflightDelay    = 2 * time.Second
	readDescriptorSettle  = 500 * time.Millisecond
	readHandshakeSettle   = 100 * time.Millisecond
	readStatusSettle      = 50 * time.Millisecond
	readBulkTimeout       = 10 * time.Second
	readInterBankDelay    = 100 * time.Millisecond
)

// Reader runs the §4.F per-bank handshake read loop.
type Reader struct {
	T   BulkTransport
	Ops *proto.Ops
	Log *log.Logger
}

func (r *Reader) logf(format string, v ...interface{}) {
	if r.Log != nil {
		r.Log.Printf(format, v...)
	}
}

// Preflight sends the read-mode flash descriptor and initializes the
// handshake (spec.md §4.F).
func (r *Reader) Preflight(chipID uint16) error {
	time.Sleep(readPreflightDelay)

	descriptor := BuildReadDescriptor(chipID)
	if _, err := r.T.BulkOut(EndpointOut, descriptor, readBulkTimeout); err != nil {
		return usberr.Wrap(usberr.Protocol, "Reader.Preflight", "send read descriptor", err)
	}
	time.Sleep(readDescriptorSettle)

	if err := r.Ops.FWHandshake(); err != nil {
		return usberr.Wrap(usberr.Protocol, "Reader.Preflight", "FW_HANDSHAKE", err)
	}
	time.Sleep(readHandshakeSettle)
	return nil
}

// ReadBank reads one bank's worth of data via the handshake+bulk-IN
// sequence (spec.md §4.F).
func (r *Reader) ReadBank(bank Bank) ([]byte, error) {
	handshake := BuildReadHandshake(bank.Offset, bank.Size)
	if err := r.Ops.FWWrite1(handshake[:]); err != nil {
		return nil, usberr.Wrap(usberr.Protocol, "Reader.ReadBank", "FW_WRITE1", err)
	}
	time.Sleep(readStatusSettle)

	statusBuf, err := r.Ops.FWReadStatus2()
	if err != nil {
		// spec.md §4.F: log, do not fail, on a status read error; the
		// device may legitimately return 0xFFFF for certain reads.
		r.logf("flash: FW_READ_STATUS2 error for bank@%#x: %v (continuing)", bank.Offset, err)
	} else {
		h := proto.ParseHandshake(statusBuf)
		if h.CRCFailed() {
			r.logf("flash: bank@%#x handshake reports CRC-fail sentinel (0xFFFF); continuing per read-path policy", bank.Offset)
		}
	}
	time.Sleep(readStatusSettle)

	buf := make([]byte, bank.Size)
	n, err := r.T.BulkIn(EndpointIn, buf, readBulkTimeout)
	if err != nil {
		return nil, usberr.Wrap(usberr.TransferFailed, "Reader.ReadBank", "bulk-in", err)
	}
	if uint32(n) != bank.Size {
		return nil, usberr.New(usberr.Protocol, "Reader.ReadBank", "short bulk-in read")
	}

	if _, err := r.Ops.FWRead(); err != nil {
		r.logf("flash: FW_READ ack error for bank@%#x: %v (best-effort, ignored)", bank.Offset, err)
	}
	time.Sleep(readInterBankDelay)

	return buf, nil
}

// ReadAll runs the full 16-bank read loop and writes the result to w.
func (r *Reader) ReadAll(w io.Writer, chipID uint16) (int64, error) {
	if err := r.Preflight(chipID); err != nil {
		return 0, err
	}

	banks := StandardBanks()
	var total int64
	for _, bank := range banks {
		if !bank.Enabled {
			continue
		}
		data, err := r.ReadBank(bank)
		if err != nil {
			return total, err
		}
		n, err := w.Write(data)
		if err != nil {
			return total, usberr.Wrap(usberr.FileIO, "Reader.ReadAll", "write output", err)
		}
		total += int64(n)
	}
	if total != BankCount*BankSize {
		return total, usberr.New(usberr.Protocol, "Reader.ReadAll", "short overall read")
	}
	return total, nil
}
