// internal/register/types.go
package register

import (
	"fmt"
	"strings"
)

// Kind is the Modbus object table a register lives in.
type Kind uint8

const (
	KindHolding Kind = iota + 1
	KindInput
	KindCoil
	KindDiscreteInput
)

var kindNames = map[Kind]string{
	KindHolding:       "holding",
	KindInput:         "input",
	KindCoil:          "coil",
	KindDiscreteInput: "discrete_input",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind accepts the names used in configuration files.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "holding", "holding_register", "hr":
		return KindHolding, nil
	case "input", "input_register", "ir":
		return KindInput, nil
	case "coil", "coils":
		return KindCoil, nil
	case "discrete", "discrete_input", "di":
		return KindDiscreteInput, nil
	}
	return 0, fmt.Errorf("register: unknown kind %q", s)
}

// Bitwise reports whether the kind is addressed one bit at a time.
func (k Kind) Bitwise() bool {
	return k == KindCoil || k == KindDiscreteInput
}

// Writable reports whether a master may write to the kind.
func (k Kind) Writable() bool {
	return k == KindHolding || k == KindCoil
}

// DataSize is the logical width and interpretation of a register group.
type DataSize uint8

const (
	SizeBit DataSize = iota + 1
	SizeInt16
	SizeUint16
	SizeInt32
	SizeUint32
	SizeInt48
	SizeUint48
	SizeInt64
	SizeUint64
	SizeFloat16
	SizeFloat32
	SizeFloat64
)

type sizeInfo struct {
	name   string
	bits   int
	signed bool
	float  bool
}

var sizes = map[DataSize]sizeInfo{
	SizeBit:     {name: "bit", bits: 1},
	SizeInt16:   {name: "int16", bits: 16, signed: true},
	SizeUint16:  {name: "uint16", bits: 16},
	SizeInt32:   {name: "int32", bits: 32, signed: true},
	SizeUint32:  {name: "uint32", bits: 32},
	SizeInt48:   {name: "int48", bits: 48, signed: true},
	SizeUint48:  {name: "uint48", bits: 48},
	SizeInt64:   {name: "int64", bits: 64, signed: true},
	SizeUint64:  {name: "uint64", bits: 64},
	SizeFloat16: {name: "float16", bits: 16, float: true},
	SizeFloat32: {name: "float32", bits: 32, float: true},
	SizeFloat64: {name: "float64", bits: 64, float: true},
}

func (s DataSize) String() string {
	if i, ok := sizes[s]; ok {
		return i.name
	}
	return fmt.Sprintf("size(%d)", uint8(s))
}

// ParseDataSize accepts the names used in configuration files.
func ParseDataSize(s string) (DataSize, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	switch n {
	case "bool", "boolean":
		return SizeBit, nil
	case "float", "real":
		return SizeFloat32, nil
	case "double":
		return SizeFloat64, nil
	}
	for k, i := range sizes {
		if i.name == n {
			return k, nil
		}
	}
	return 0, fmt.Errorf("register: unknown data size %q", s)
}

// Bits returns the logical width, 0 for unknown sizes.
func (s DataSize) Bits() int { return sizes[s].bits }

// Signed reports two's complement integer sizes.
func (s DataSize) Signed() bool { return sizes[s].signed }

// Float reports IEEE-754 sizes.
func (s DataSize) Float() bool { return sizes[s].float }

// Registers is the number of 16-bit registers a value of this size spans.
func (s DataSize) Registers() int {
	return (s.Bits() + 15) / 16
}

// Order selects which half comes first on the wire.
// Big means most significant first, Little least significant first.
type Order uint8

const (
	BigEndian Order = iota
	LittleEndian
)

func (o Order) String() string {
	if o == LittleEndian {
		return "little"
	}
	return "big"
}

// ParseOrder accepts "big"/"little" and the usual abbreviations; empty is big.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "big", "be", "msb", "high":
		return BigEndian, nil
	case "little", "le", "lsb", "low":
		return LittleEndian, nil
	}
	return 0, fmt.Errorf("register: unknown order %q", s)
}
