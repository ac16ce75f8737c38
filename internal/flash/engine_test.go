package flash

import (
	"bytes"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"thingino-cloner/internal/ident"
	"thingino-cloner/internal/proto"
	"thingino-cloner/internal/usb"
)

// mockEngineTransport satisfies both proto.ControlTransport and
// BulkTransport so a single fake drives the read/write engine tests
// without a real libusb session.
type mockEngineTransport struct {
	ops        []string
	bulkOutLen []int
	bulkInData [][]byte // served in order to successive BulkIn calls

	statusBuf []byte // returned by FW_READ_STATUS2
}

func (m *mockEngineTransport) ControlOut(op string, request uint8, value, index uint16, data []byte, policy usb.RetryPolicy) (int, error) {
	m.ops = append(m.ops, op)
	return 0, nil
}

func (m *mockEngineTransport) ControlIn(op string, request uint8, value, index uint16, maxLen int, policy usb.RetryPolicy) ([]byte, error) {
	m.ops = append(m.ops, op)
	if op == "FW_READ_STATUS2" && m.statusBuf != nil {
		return m.statusBuf, nil
	}
	return make([]byte, maxLen), nil
}

func (m *mockEngineTransport) BulkOut(epAddr int, buf []byte, timeout time.Duration) (int, error) {
	m.ops = append(m.ops, fmt.Sprintf("BULK_OUT(%d)", len(buf)))
	m.bulkOutLen = append(m.bulkOutLen, len(buf))
	return len(buf), nil
}

func (m *mockEngineTransport) BulkIn(epAddr int, buf []byte, timeout time.Duration) (int, error) {
	m.ops = append(m.ops, fmt.Sprintf("BULK_IN(%d)", len(buf)))
	if len(m.bulkInData) == 0 {
		return len(buf), nil
	}
	data := m.bulkInData[0]
	m.bulkInData = m.bulkInData[1:]
	n := copy(buf, data)
	return n, nil
}

func newMockOps(m *mockEngineTransport) *proto.Ops {
	return &proto.Ops{T: m}
}

func TestReaderReadBankHandshakeSequence(t *testing.T) {
	mock := &mockEngineTransport{}
	r := &Reader{T: mock, Ops: newMockOps(mock)}

	bank := Bank{Offset: 0, Size: BankSize, Enabled: true}
	data, err := r.ReadBank(bank)
	require.NoError(t, err)
	require.Len(t, data, int(BankSize))

	require.Equal(t, []string{
		"FW_WRITE1",
		"FW_READ_STATUS2",
		fmt.Sprintf("BULK_IN(%d)", BankSize),
		"FW_READ",
	}, mock.ops)
}

// TestReaderReadAllExactlySixteenPairs checks the property from spec.md
// §8 "Universal properties": exactly 16 handshake/bulk pairs for a full
// read, totalling 16 MiB.
func TestReaderReadAllExactlySixteenPairs(t *testing.T) {
	mock := &mockEngineTransport{}
	r := &Reader{T: mock, Ops: newMockOps(mock)}

	var buf bytes.Buffer
	n, err := r.ReadAll(&buf, 0x1234)
	require.NoError(t, err)
	require.EqualValues(t, BankCount*BankSize, n)
	require.Equal(t, BankCount*BankSize, buf.Len())

	bulkInCount := 0
	for _, op := range mock.ops {
		if op == fmt.Sprintf("BULK_IN(%d)", BankSize) {
			bulkInCount++
		}
	}
	require.Equal(t, BankCount, bulkInCount)
}

func TestReaderReadBankLogsOnCRCFailSentinel(t *testing.T) {
	mock := &mockEngineTransport{statusBuf: []byte{0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0}}
	var logged bytes.Buffer
	r := &Reader{T: mock, Ops: newMockOps(mock), Log: log.New(&logged, "", 0)}

	bank := Bank{Offset: 0, Size: BankSize, Enabled: true}
	_, err := r.ReadBank(bank)
	require.NoError(t, err, "a 0xFFFF status must be logged, not fail the read")
	require.Contains(t, logged.String(), "0xFFFF")
}

func TestWriterWriteChunkSequenceT31(t *testing.T) {
	mock := &mockEngineTransport{}
	w := &Writer{T: mock, Ops: newMockOps(mock), Variant: ident.T31}

	data := make([]byte, 128*1024)
	err := w.WriteChunk(FlashBaseWrite, data)
	require.NoError(t, err)

	require.Contains(t, mock.ops, "VR_WRITE")
	require.Contains(t, mock.ops, fmt.Sprintf("BULK_OUT(%d)", len(data)))
	require.Contains(t, mock.ops, "FW_READ_STATUS2")
}

func TestWriterWriteChunkFailsOnFFFFResult(t *testing.T) {
	mock := &mockEngineTransport{statusBuf: []byte{0xFF, 0xFF, 0, 0, 0, 0, 0, 0}}
	w := &Writer{T: mock, Ops: newMockOps(mock), Variant: ident.T31}

	data := make([]byte, 128*1024)
	err := w.WriteChunk(FlashBaseWrite, data)
	require.Error(t, err, "a 0xFFFF result half must be a protocol failure, not a warning")
}

func TestWriterWriteChunkT41IssuesPostReadAck(t *testing.T) {
	mock := &mockEngineTransport{}
	w := &Writer{T: mock, Ops: newMockOps(mock), Variant: ident.T41}

	data := make([]byte, 64*1024)
	err := w.WriteChunk(FlashBaseWrite, data)
	require.NoError(t, err)
	require.Contains(t, mock.ops, "FW_READ")
}

// TestWriterWriteAllSetsDataAddrAndLenFirst checks spec.md §4.G's
// ordering: base address and length are programmed before the
// erase-wait/preflight/chunk sequence even begins.
func TestWriterWriteAllSetsDataAddrAndLenFirst(t *testing.T) {
	mock := &mockEngineTransport{}
	w := &Writer{T: mock, Ops: newMockOps(mock), Variant: ident.T41N}

	data := make([]byte, 64*1024)
	err := w.WriteAll(0x1234, data, func() (uint32, error) { return 0, nil })
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(mock.ops), 2)
	require.Equal(t, []string{"SET_DATA_ADDR", "SET_DATA_LEN"}, mock.ops[:2])
}

func TestWriterPreflightT31(t *testing.T) {
	mock := &mockEngineTransport{}
	w := &Writer{T: mock, Ops: newMockOps(mock), Variant: ident.T31}

	err := w.Preflight(0x1234)
	require.NoError(t, err)
	require.Equal(t, []string{
		fmt.Sprintf("BULK_OUT(%d)", PartitionMarkerSize),
		fmt.Sprintf("BULK_OUT(%d)", WriteDescriptorSize),
		"FW_HANDSHAKE",
	}, mock.ops)
}

func TestWriterPreflightT41N(t *testing.T) {
	mock := &mockEngineTransport{}
	w := &Writer{T: mock, Ops: newMockOps(mock), Variant: ident.T41N}

	err := w.Preflight(0x1234)
	require.NoError(t, err)
	require.Equal(t, []string{
		"FW_WRITE2",
		"FW_READ",
		"FW_READ_STATUS4",
		fmt.Sprintf("BULK_OUT(%d)", PartitionMarkerSize),
		fmt.Sprintf("BULK_OUT(%d)", T41NWriteDescriptorSize),
		"FW_HANDSHAKE",
		"FW_WRITE2",
		"FW_READ",
		"FW_READ_STATUS4",
	}, mock.ops)
}
