package flash

// Bulk endpoint addresses used by both read and write engines, matching
// the vendor descriptor layout (grounded on hasher's own
// EndpointOut/EndpointIn constants in internal/driver/device/controller.go).
const (
	EndpointOut = 0x01
	EndpointIn  = 0x81
)
