// internal/register/descriptor.go
package register

import (
	"fmt"
	"time"
)

// Descriptor is everything needed to address, read, decode, encode and
// write one register group.
type Descriptor struct {
	Name    string
	Gateway Gateway
	SlaveID uint8
	Address uint16

	Kind       Kind
	Size       DataSize
	ByteOrder  Order
	WordOrder  Order
	DWordOrder Order
	Bit        uint8 // only for bit-sized holding/input registers and discrete inputs

	Scale float64 // 0 is treated as 1
	Unit  string

	Timeout time.Duration // per-request timeout, 0 = connection default
	Gap     time.Duration // minimum pause after a request to this register
}

// Key is the registry identity of a register.
// Decode parameters are deliberately left out, so every consumer of the
// same physical register shares one entry.
type Key struct {
	Gateway string
	SlaveID uint8
	Address uint16
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d", k.Gateway, k.SlaveID, k.Address)
}

// Key returns the registry identity of d.
func (d Descriptor) Key() Key {
	return Key{Gateway: d.Gateway.ID(), SlaveID: d.SlaveID, Address: d.Address}
}

// ScaleFactor returns the effective multiplier.
func (d Descriptor) ScaleFactor() float64 {
	if d.Scale == 0 {
		return 1
	}
	return d.Scale
}

// ConfigError reports a descriptor that can never be polled.
type ConfigError struct {
	Key    Key
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("register %s: %s", e.Key, e.Reason)
}

// Validate rejects unusable kind/size/bit combinations up front, so that
// misconfiguration fails at registration and not at poll time.
func (d Descriptor) Validate() error {
	fail := func(format string, a ...interface{}) error {
		return &ConfigError{Key: d.Key(), Reason: fmt.Sprintf(format, a...)}
	}

	if err := d.Gateway.validate(); err != nil {
		return fail("%v", err)
	}
	if _, ok := kindNames[d.Kind]; !ok {
		return fail("unknown register kind %d", d.Kind)
	}
	if _, ok := sizes[d.Size]; !ok {
		return fail("unknown data size %d", d.Size)
	}
	if d.ByteOrder > LittleEndian || d.WordOrder > LittleEndian || d.DWordOrder > LittleEndian {
		return fail("invalid byte/word/double-word order")
	}

	switch d.Kind {
	case KindCoil:
		if d.Size != SizeBit {
			return fail("coil must have size bit, got %s", d.Size)
		}
		if d.Bit != 0 {
			return fail("coil does not take a bit index")
		}
	case KindDiscreteInput:
		if d.Size != SizeBit {
			return fail("discrete input must have size bit, got %s", d.Size)
		}
	case KindHolding, KindInput:
		if d.Size == SizeBit && d.Bit > 15 {
			return fail("bit index %d outside 16-bit register", d.Bit)
		}
		if d.Size != SizeBit && d.Bit != 0 {
			return fail("bit index only valid for size bit")
		}
	}

	if int(d.Address)+d.Size.Registers() > 0x10000 {
		return fail("register group exceeds address space")
	}
	if d.Scale < 0 {
		return fail("negative scale factor %v", d.Scale)
	}
	return nil
}
