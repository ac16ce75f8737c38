// Package proto names the vendor control requests of spec.md §4.B and
// wires each one to the retry policy its role in the protocol demands
// (spec.md §4.A special cases, §9 "Retry-and-mask as protocol contract").
// Each operation here is thin: validate, format, call the transport,
// settle. No bootstrap/read/write sequencing lives in this package.
package proto

import (
	"time"

	"thingino-cloner/internal/usb"
	"thingino-cloner/internal/usberr"
)

// Vendor request numbers (wire values), spec.md §4.B.
const (
	ReqGetCPUInfo      uint8 = 0x08
	ReqSetDataAddr     uint8 = 0x01
	ReqSetDataLen      uint8 = 0x02
	ReqFlushCache      uint8 = 0x03
	ReqProgStage1      uint8 = 0x04
	ReqProgStage2      uint8 = 0x06
	ReqNandOps         uint8 = 0x07
	ReqFWRead          uint8 = 0x10
	ReqFWHandshake     uint8 = 0x11
	ReqVRWrite         uint8 = 0x12
	ReqFWWrite1        uint8 = 0x13
	ReqFWWrite2        uint8 = 0x14
	ReqFWReadStatus2   uint8 = 0x19
	ReqFWReadStatus4   uint8 = 0x26
)

// settleDelay is the post-op settle the vendor trace shows for most
// named operations (spec.md §4.B).
const settleDelay = 100 * time.Millisecond

// ControlTransport is the control-transfer surface Ops needs. *usb.
// Transport satisfies it; tests substitute a lightweight mock instead of
// a real libusb session.
type ControlTransport interface {
	ControlOut(op string, request uint8, value, index uint16, data []byte, policy usb.RetryPolicy) (int, error)
	ControlIn(op string, request uint8, value, index uint16, maxLen int, policy usb.RetryPolicy) ([]byte, error)
}

// Ops is a thin wrapper around a ControlTransport exposing one method per
// named vendor request.
type Ops struct {
	T ControlTransport

	// FirmwareStage is true once the device has transitioned past
	// bootrom; it turns on timeout masking for SET_DATA_ADDR (spec.md
	// §4.A special case 2). VR_WRITE masks timeouts whatever its value.
	FirmwareStage bool
}

func splitAddr(addr uint32) (value, index uint16) {
	return uint16(addr >> 16), uint16(addr & 0xFFFF)
}

func (o *Ops) settle() { time.Sleep(settleDelay) }

// GetCPUInfo reads the CPU-magic bytes. n is 8 in Bootrom stage, up to 16
// in Firmware stage (spec.md §4.C).
func (o *Ops) GetCPUInfo(n int) ([]byte, error) {
	buf, err := o.T.ControlIn("GET_CPU_INFO", ReqGetCPUInfo, 0, 0, n, usb.RetryPolicy{
		BackoffRetry: true,
	})
	o.settle()
	return buf, err
}

// SetDataAddr programs the SRAM/SDRAM destination address for the next
// chunked load. In Firmware stage a timeout is masked as success (spec.md
// §4.A special case 2: the firmware may be mid-erase).
func (o *Ops) SetDataAddr(addr uint32) error {
	v, i := splitAddr(addr)
	policy := usb.RetryPolicy{Timeout: usb.ExtendedControlTimeout, RecipientFallback: true, BackoffRetry: true}
	if o.FirmwareStage {
		policy.MaskTimeoutAsSuccess = true
	}
	_, err := o.T.ControlOut("SET_DATA_ADDR", ReqSetDataAddr, v, i, nil, policy)
	o.settle()
	return err
}

// SetDataLen programs the byte length of the next chunked load.
func (o *Ops) SetDataLen(length uint32) error {
	v, i := splitAddr(length)
	_, err := o.T.ControlOut("SET_DATA_LEN", ReqSetDataLen, v, i, nil, usb.RetryPolicy{
		Timeout:           usb.ExtendedControlTimeout,
		RecipientFallback: true,
		BackoffRetry:      true,
	})
	o.settle()
	return err
}

// FlushCache issues the cache-flush vendor command.
func (o *Ops) FlushCache() error {
	_, err := o.T.ControlOut("FLUSH_CACHE", ReqFlushCache, 0, 0, nil, usb.RetryPolicy{BackoffRetry: true})
	o.settle()
	return err
}

// ProgStage1 transfers execution to the loaded SPL at addr.
func (o *Ops) ProgStage1(addr uint32) error {
	v, i := splitAddr(addr)
	_, err := o.T.ControlOut("PROG_STAGE1", ReqProgStage1, v, i, nil, usb.RetryPolicy{
		Timeout:           usb.ExtendedControlTimeout,
		RecipientFallback: true,
		BackoffRetry:      true,
	})
	o.settle()
	return err
}

// ProgStage2 transfers execution to the loaded U-Boot at addr. A timeout
// or pipe error afterward is expected (the device re-enumerates) and is
// masked as success (spec.md §4.A special case 3).
func (o *Ops) ProgStage2(addr uint32) error {
	v, i := splitAddr(addr)
	_, err := o.T.ControlOut("PROG_STAGE2", ReqProgStage2, v, i, nil, usb.RetryPolicy{
		Timeout:                    usb.ExtendedControlTimeout,
		RecipientFallback:          true,
		MaskTimeoutOrPipeAsSuccess: true,
	})
	o.settle()
	return err
}

// NandOps issues a raw NAND opcode (used by some bootstrap variants).
func (o *Ops) NandOps(op uint8) error {
	_, err := o.T.ControlOut("NAND_OPS", ReqNandOps, uint16(op), 0, nil, usb.RetryPolicy{BackoffRetry: true})
	o.settle()
	return err
}

// FWRead reads the 4-byte firmware-stage status word.
func (o *Ops) FWRead() ([]byte, error) {
	buf, err := o.T.ControlIn("FW_READ", ReqFWRead, 0, 0, 4, usb.RetryPolicy{BackoffRetry: true})
	o.settle()
	return buf, err
}

// FWHandshake issues the firmware-stage handshake-init command.
func (o *Ops) FWHandshake() error {
	_, err := o.T.ControlOut("FW_HANDSHAKE", ReqFWHandshake, 0, 0, nil, usb.RetryPolicy{BackoffRetry: true})
	o.settle()
	return err
}

// VRWrite sends the 40-byte write handshake. It is issued exactly once:
// a libusb timeout here means the firmware has already accepted the
// handshake and is processing the bulk phase (spec.md §4.A special case 1).
func (o *Ops) VRWrite(handshake []byte) error {
	if len(handshake) != 40 {
		return usberr.New(usberr.InvalidParameter, "VR_WRITE", "handshake must be 40 bytes")
	}
	_, err := o.T.ControlOut("VR_WRITE", ReqVRWrite, 0, 0, handshake, usb.RetryPolicy{
		SingleShot:           true,
		MaskTimeoutAsSuccess: true,
	})
	o.settle()
	return err
}

// FWWrite1 sends the 40-byte read-path handshake command.
func (o *Ops) FWWrite1(handshake []byte) error {
	if len(handshake) != 40 {
		return usberr.New(usberr.InvalidParameter, "FW_WRITE1", "handshake must be 40 bytes")
	}
	_, err := o.T.ControlOut("FW_WRITE1", ReqFWWrite1, 0, 0, handshake, usb.RetryPolicy{BackoffRetry: true})
	o.settle()
	return err
}

// FWWrite2 sends a 40-byte T41N preamble command.
func (o *Ops) FWWrite2(payload []byte) error {
	if len(payload) != 40 {
		return usberr.New(usberr.InvalidParameter, "FW_WRITE2", "payload must be 40 bytes")
	}
	_, err := o.T.ControlOut("FW_WRITE2", ReqFWWrite2, 0, 0, payload, usb.RetryPolicy{BackoffRetry: true})
	o.settle()
	return err
}

// FWReadStatus2 reads the 8-byte handshake status record.
func (o *Ops) FWReadStatus2() ([]byte, error) {
	buf, err := o.T.ControlIn("FW_READ_STATUS2", ReqFWReadStatus2, 0, 0, 8, usb.RetryPolicy{BackoffRetry: true})
	o.settle()
	return buf, err
}

// FWReadStatus4 reads the 4-byte status word used by the T41N preamble.
func (o *Ops) FWReadStatus4() ([]byte, error) {
	buf, err := o.T.ControlIn("FW_READ_STATUS4", ReqFWReadStatus4, 0, 0, 4, usb.RetryPolicy{BackoffRetry: true})
	o.settle()
	return buf, err
}
