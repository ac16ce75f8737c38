package boot

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/gousb"
	"github.com/stretchr/testify/require"

	"thingino-cloner/internal/ident"
	"thingino-cloner/internal/proto"
	"thingino-cloner/internal/usb"
)

// mockTransport satisfies both proto.ControlTransport and boot.Transport
// so a single fake stands in for the whole USB session during pipeline
// tests (no libusb context is ever opened).
type mockTransport struct {
	ops []string

	cpuInfoErr   error
	failOpsUntil map[string]int // op name -> number of leading failures before success

	closeCalls int
	openCalls  int
	openVID    gousb.ID
	openPID    gousb.ID

	vendor  gousb.ID
	product gousb.ID
}

func addrOf(value, index uint16) uint32 {
	return uint32(value)<<16 | uint32(index)
}

func (m *mockTransport) ControlOut(op string, request uint8, value, index uint16, data []byte, policy usb.RetryPolicy) (int, error) {
	addr := addrOf(value, index)
	switch op {
	case "SET_DATA_ADDR", "PROG_STAGE1", "PROG_STAGE2":
		m.ops = append(m.ops, fmt.Sprintf("%s(0x%08x)", op, addr))
	case "SET_DATA_LEN":
		m.ops = append(m.ops, fmt.Sprintf("%s(0x%x)", op, addr))
	default:
		m.ops = append(m.ops, op)
	}
	return 0, nil
}

func (m *mockTransport) ControlIn(op string, request uint8, value, index uint16, maxLen int, policy usb.RetryPolicy) ([]byte, error) {
	m.ops = append(m.ops, op)
	if op == "GET_CPU_INFO" && m.cpuInfoErr != nil {
		return nil, m.cpuInfoErr
	}
	return make([]byte, maxLen), nil
}

func (m *mockTransport) BulkOut(epAddr int, buf []byte, timeout time.Duration) (int, error) {
	m.ops = append(m.ops, fmt.Sprintf("BULK_OUT(%d)", len(buf)))
	return len(buf), nil
}

func (m *mockTransport) VendorID() gousb.ID  { return m.vendor }
func (m *mockTransport) ProductID() gousb.ID { return m.product }

func (m *mockTransport) Close() error {
	m.closeCalls++
	return nil
}

func (m *mockTransport) Open(vid, pid gousb.ID, bus, addr int) error {
	m.openCalls++
	m.openVID, m.openPID = vid, pid
	return nil
}

func (m *mockTransport) ClaimInterface() error { return nil }

// TestT20BootstrapSequence checks the observed control-transfer sequence
// of spec.md §8 scenario 2. The GET_CPU_INFO preflight of step 1 is
// issued before the literal sequence quoted in the scenario (which
// begins at step 3); this test drops that leading call and then
// collapses the "GET_CPU_INFO×(≤10)" run from post-SPL stabilization
// into a single marker, matching the scenario's own notation.
func TestT20BootstrapSequence(t *testing.T) {
	mock := &mockTransport{}
	p := &Pipeline{
		T:   mock,
		Ops: &proto.Ops{T: mock},
	}

	bundle := Bundle{
		DDRConfig: make([]byte, 32),
		SPL:       make([]byte, 64),
		UBoot:     make([]byte, 96),
	}
	identity := ident.Identity{Stage: ident.StageBootrom, Variant: ident.T20}

	err := p.Run(identity, bundle, Options{})
	require.NoError(t, err)

	require.NotEmpty(t, mock.ops)
	require.Equal(t, "GET_CPU_INFO", mock.ops[0], "step 1 preflight must be the first op")
	rest := mock.ops[1:]

	collapsed := make([]string, 0, len(rest))
	for _, op := range rest {
		if op == "GET_CPU_INFO" && len(collapsed) > 0 && collapsed[len(collapsed)-1] == "GET_CPU_INFO" {
			continue
		}
		collapsed = append(collapsed, op)
	}

	expected := []string{
		"SET_DATA_ADDR(0x80001000)",
		"SET_DATA_LEN(0x20)",
		"BULK_OUT(32)",
		"SET_DATA_ADDR(0x80001800)",
		"SET_DATA_LEN(0x40)",
		"BULK_OUT(64)",
		"SET_DATA_LEN(0x4000)",
		"PROG_STAGE1(0x80001800)",
		"GET_CPU_INFO",
		"SET_DATA_ADDR(0x80100000)",
		"SET_DATA_LEN(0x60)",
		"BULK_OUT(96)",
		"FLUSH_CACHE",
		"PROG_STAGE2(0x80100000)",
	}
	require.Equal(t, expected, collapsed)
}

// TestBootstrapNoOpWhenAlreadyFirmware checks the §4.D entry precondition.
func TestBootstrapNoOpWhenAlreadyFirmware(t *testing.T) {
	mock := &mockTransport{}
	p := &Pipeline{T: mock, Ops: &proto.Ops{T: mock}}

	err := p.Run(ident.Identity{Stage: ident.StageFirmware}, Bundle{}, Options{})
	require.NoError(t, err)
	require.Empty(t, mock.ops)
}

// TestResolveVariantPreservesForceOverride checks spec.md §8 scenario 6:
// a caller-forced variant wins over whatever the probed identity says.
// The re-enumeration half is covered by TestStabilizeT31ZXReenumerates.
func TestResolveVariantPreservesForceOverride(t *testing.T) {
	p := &Pipeline{}
	identity := ident.Identity{Variant: ident.T31X}
	opts := Options{ForceVariant: ident.T41}

	require.Equal(t, ident.T41, p.resolveVariant(identity, opts))
}

// TestStabilizeT41SkipsReenumeration checks that the T41/T41N/T20 branch
// of step 6 keeps the handle open: no Close/Open/reopen traffic, per
// spec.md §4.D ("device does not re-enumerate").
func TestStabilizeT41SkipsReenumeration(t *testing.T) {
	mock := &mockTransport{}
	p := &Pipeline{T: mock, Ops: &proto.Ops{T: mock}}

	err := p.stabilize(ident.T41)
	require.NoError(t, err)
	require.Zero(t, mock.closeCalls)
	require.Zero(t, mock.openCalls)
}

// TestStabilizeT31ZXReenumerates checks that the T31ZX/A1/other branch of
// step 6 closes, waits, and reopens at the same (VID, PID), and that the
// caller-forced variant used to select this branch is unaffected by the
// bus/address change the reopen performs.
func TestStabilizeT31ZXReenumerates(t *testing.T) {
	mock := &mockTransport{vendor: 0xA108, product: 0x1000}
	p := &Pipeline{T: mock, Ops: &proto.Ops{T: mock}}

	identity := ident.Identity{Variant: ident.T20}
	opts := Options{ForceVariant: ident.T31ZX}
	variant := p.resolveVariant(identity, opts)
	require.Equal(t, ident.T31ZX, variant)

	err := p.stabilize(variant)
	require.NoError(t, err)
	require.Equal(t, 1, mock.closeCalls)
	require.GreaterOrEqual(t, mock.openCalls, 1)
	require.Equal(t, gousb.ID(0xA108), mock.openVID)
	require.Equal(t, gousb.ID(0x1000), mock.openPID)

	// The forced variant is a value threaded by the caller through every
	// subsequent step; reopening the transport does not mutate it.
	require.Equal(t, ident.T31ZX, variant)
}
