// internal/sink/mirror/block.go
package mirror

// Device status block layout.
// These values define the protocol and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of registers per status block.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

const (
	SlotHealthCode     = 0
	SlotLastErrorCode  = 1 // status.Category of the last failure
	SlotSecondsInError = 2
)

// Slots 3-10 are reserved.

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot of the device name, which always
// sits at the end of the block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// DeviceNameMaxChars is the maximum number of ASCII characters stored.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

const (
	HealthUnknown uint16 = 0
	HealthOK      uint16 = 1
	HealthError   uint16 = 2
)

// Block is the live part of a status block.
type Block struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16
}

// encodeDeviceNameRegs packs up to 16 ASCII characters into 8 registers,
// two bytes per register, big-endian.
func encodeDeviceNameRegs(name string) []uint16 {
	out := make([]uint16, SlotDeviceNameSlots)

	b := []byte(name)
	if len(b) > DeviceNameMaxChars {
		b = b[:DeviceNameMaxChars]
	}

	// sanitize to printable ASCII
	for i := 0; i < len(b); i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < DeviceNameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}

	return out
}
