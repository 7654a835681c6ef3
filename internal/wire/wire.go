// internal/wire/wire.go
package wire

import "fmt"

// Function codes used by the engine.
const (
	FuncReadCoils              uint8 = 1
	FuncReadDiscreteInputs     uint8 = 2
	FuncReadHoldingRegisters   uint8 = 3
	FuncReadInputRegisters     uint8 = 4
	FuncWriteSingleCoil        uint8 = 5
	FuncWriteSingleRegister    uint8 = 6
	FuncWriteMultipleRegisters uint8 = 16
)

// Request is one register-group request to one slave.
// Geometry only: no decode semantics.
type Request struct {
	SlaveID  uint8
	Function uint8
	Address  uint16
	Quantity uint16

	// Exactly one of these is used for writes, depending on Function.
	Coil  bool     // FC 5
	Words []uint16 // FC 6, 16
}

// IsWrite reports whether the request modifies slave state.
func (r Request) IsWrite() bool {
	switch r.Function {
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleRegisters:
		return true
	}
	return false
}

func (r Request) String() string {
	return fmt.Sprintf("slave=%d fc=%d addr=%d qty=%d", r.SlaveID, r.Function, r.Address, r.Quantity)
}

// Response is the raw result of one request.
type Response struct {
	Function uint8

	// Exactly one of these is used depending on Function.
	Bits      []bool   // FC 1,2
	Registers []uint16 // FC 3,4
}

// UnpackBits expands a packed coil/discrete payload, LSB first.
func UnpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		bitIdx := i % 8
		if byteIdx >= len(data) {
			continue
		}
		out[i] = data[byteIdx]&(1<<bitIdx) != 0
	}
	return out
}

// UnpackRegisters splits big-endian register bytes into words.
func UnpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

// PackRegisters is the inverse of UnpackRegisters.
func PackRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
