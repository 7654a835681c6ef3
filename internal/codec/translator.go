// internal/codec/translator.go
package codec

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/x448/float16"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/wire"
)

var (
	// ErrWriteUnsupported is returned for read-only register kinds.
	ErrWriteUnsupported = errors.New("codec: write not supported for register kind")

	// ErrPreviousValue is returned when a bit write has no previous register value.
	ErrPreviousValue = errors.New("codec: bit write requires the previous register value")
)

func translation(format string, a ...interface{}) error {
	return fmt.Errorf("codec: %s: %w", fmt.Sprintf(format, a...), status.ErrTranslation)
}

// ---- requests ----

// BuildReadRequest returns the request reading d in one transaction.
func BuildReadRequest(d register.Descriptor) (wire.Request, error) {
	req := wire.Request{SlaveID: d.SlaveID, Address: d.Address}

	switch d.Kind {
	case register.KindCoil:
		req.Function = wire.FuncReadCoils
		req.Quantity = 1
	case register.KindDiscreteInput:
		// The bit index selects one input counted from Address.
		req.Function = wire.FuncReadDiscreteInputs
		req.Quantity = uint16(d.Bit) + 1
	case register.KindHolding:
		req.Function = wire.FuncReadHoldingRegisters
		req.Quantity = uint16(d.Size.Registers())
	case register.KindInput:
		req.Function = wire.FuncReadInputRegisters
		req.Quantity = uint16(d.Size.Registers())
	default:
		return wire.Request{}, fmt.Errorf("codec: unknown register kind %s", d.Kind)
	}
	return req, nil
}

// BuildWriteRequest encodes value for d.
//
// previous is the raw wire word currently held by the register. It is only
// used, and then required, for bit-sized holding registers.
func BuildWriteRequest(d register.Descriptor, value interface{}, previous *uint16) (wire.Request, error) {
	if v, ok := value.(Value); ok {
		value = v.Data
	}
	if !d.Kind.Writable() {
		return wire.Request{}, ErrWriteUnsupported
	}

	req := wire.Request{SlaveID: d.SlaveID, Address: d.Address}

	if d.Kind == register.KindCoil {
		b, err := toBool(value)
		if err != nil {
			return wire.Request{}, err
		}
		req.Function = wire.FuncWriteSingleCoil
		req.Quantity = 1
		req.Coil = b
		return req, nil
	}

	if d.Size == register.SizeBit {
		if previous == nil {
			return wire.Request{}, ErrPreviousValue
		}
		b, err := toBool(value)
		if err != nil {
			return wire.Request{}, err
		}
		req.Function = wire.FuncWriteSingleRegister
		req.Quantity = 1
		req.Words = []uint16{SetBit(*previous, d.ByteOrder, d.Bit, b)}
		return req, nil
	}

	raw, err := encodeRaw(d, value)
	if err != nil {
		return wire.Request{}, err
	}
	req.Words = decompose(d, raw)
	req.Quantity = uint16(len(req.Words))
	if len(req.Words) == 1 {
		req.Function = wire.FuncWriteSingleRegister
	} else {
		req.Function = wire.FuncWriteMultipleRegisters
	}
	return req, nil
}

// SetBit changes bit k of a raw wire word and leaves every other bit alone.
// Bit 0 is the least significant bit of the register value after the byte
// order has been applied.
func SetBit(previous uint16, byteOrder register.Order, k uint8, on bool) uint16 {
	v := swapBytes(previous, byteOrder)
	v &^= 1 << k
	if on {
		v |= 1 << k
	}
	return swapBytes(v, byteOrder)
}

// ---- decode ----

// Decode turns a response into a typed value.
// Missing or short responses and unrepresentable payloads return an error
// wrapping status.ErrTranslation.
func Decode(d register.Descriptor, resp *wire.Response) (Value, error) {
	if resp == nil {
		return Value{}, translation("no response")
	}

	switch d.Kind {
	case register.KindCoil:
		if len(resp.Bits) < 1 {
			return Value{}, translation("empty coil response")
		}
		return Value{Data: resp.Bits[0]}, nil

	case register.KindDiscreteInput:
		if len(resp.Bits) <= int(d.Bit) {
			return Value{}, translation("discrete input response has %d bits, need %d", len(resp.Bits), d.Bit+1)
		}
		return Value{Data: resp.Bits[d.Bit]}, nil

	case register.KindHolding, register.KindInput:
	default:
		return Value{}, translation("unknown register kind %s", d.Kind)
	}

	n := d.Size.Registers()
	if n == 0 {
		return Value{}, translation("unknown data size %s", d.Size)
	}
	if len(resp.Registers) < n {
		return Value{}, translation("response has %d registers, need %d", len(resp.Registers), n)
	}

	raw := compose(d, resp.Registers)

	if d.Size == register.SizeBit {
		return Value{Data: raw>>d.Bit&1 == 1}, nil
	}

	var data interface{}
	switch d.Size {
	case register.SizeFloat16:
		data = float64(float16.Frombits(uint16(raw)).Float32())
	case register.SizeFloat32:
		data = float64(math.Float32frombits(uint32(raw)))
	case register.SizeFloat64:
		data = math.Float64frombits(raw)
	default:
		bits := uint(d.Size.Bits())
		if d.Size.Signed() {
			// sign-extend from the top bit of the group
			data = int64(raw<<(64-bits)) >> (64 - bits)
		} else {
			data = raw
		}
	}

	// NaN and infinities are valid payloads of the float sizes and pass
	// through; meters use them to flag a missing reading.
	scale := d.ScaleFactor()
	if scale != 1 {
		f, _ := Value{Data: data}.Float64()
		data = applyScale(f, scale)
	}

	return Value{Data: data, Unit: d.Unit}, nil
}

// divisor returns n when scale is 1/n for an integer n > 1 (0.1, 0.001).
func divisor(scale float64) (float64, bool) {
	inv := 1 / scale
	n := math.Round(inv)
	if n <= 1 || math.Abs(inv-n) > n*1e-12 {
		return 0, false
	}
	return n, true
}

// applyScale multiplies f by scale. Decimal scales divide by their integral
// reciprocal instead, so 235*0.1 yields exactly 23.5 and no digit is lost.
func applyScale(f, scale float64) float64 {
	if n, ok := divisor(scale); ok {
		return f / n
	}
	return f * scale
}

// removeScale is the inverse of applyScale.
func removeScale(f, scale float64) float64 {
	if n, ok := divisor(scale); ok {
		return f * n
	}
	return f / scale
}

// ---- encode ----

func encodeRaw(d register.Descriptor, value interface{}) (uint64, error) {
	scale := d.ScaleFactor()

	if d.Size.Float() {
		f, err := toFloat(value)
		if err != nil {
			return 0, err
		}
		f = removeScale(f, scale)
		switch d.Size {
		case register.SizeFloat16:
			return uint64(float16.Fromfloat32(float32(f)).Bits()), nil
		case register.SizeFloat32:
			return uint64(math.Float32bits(float32(f))), nil
		default:
			return math.Float64bits(f), nil
		}
	}

	bits := uint(d.Size.Bits())
	if bits == 0 {
		return 0, translation("unknown data size %s", d.Size)
	}
	mask := uint64(math.MaxUint64)
	if bits < 64 {
		mask = 1<<bits - 1
	}

	// Exact integer path when no scaling is involved.
	if scale == 1 {
		switch x := value.(type) {
		case int64:
			return signedRaw(d, x, bits, mask)
		case int:
			return signedRaw(d, int64(x), bits, mask)
		case int32:
			return signedRaw(d, int64(x), bits, mask)
		case int16:
			return signedRaw(d, int64(x), bits, mask)
		case uint64:
			return unsignedRaw(d, x, mask)
		case uint32:
			return unsignedRaw(d, uint64(x), mask)
		case uint16:
			return unsignedRaw(d, uint64(x), mask)
		case uint:
			return unsignedRaw(d, uint64(x), mask)
		}
	}

	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	f = math.Round(removeScale(f, scale))
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, translation("value is not a finite number")
	}

	if d.Size.Signed() {
		lo := -math.Ldexp(1, int(bits)-1)
		hi := math.Ldexp(1, int(bits)-1)
		if f < lo || f >= hi {
			return 0, translation("%v out of range for %s", f, d.Size)
		}
		return uint64(int64(f)) & mask, nil
	}
	if f < 0 || f >= math.Ldexp(1, int(bits)) {
		return 0, translation("%v out of range for %s", f, d.Size)
	}
	return uint64(f) & mask, nil
}

func signedRaw(d register.Descriptor, x int64, bits uint, mask uint64) (uint64, error) {
	if !d.Size.Signed() {
		if x < 0 {
			return 0, translation("%d out of range for %s", x, d.Size)
		}
		return unsignedRaw(d, uint64(x), mask)
	}
	if bits < 64 {
		lo := -(int64(1) << (bits - 1))
		hi := int64(1)<<(bits-1) - 1
		if x < lo || x > hi {
			return 0, translation("%d out of range for %s", x, d.Size)
		}
	}
	return uint64(x) & mask, nil
}

func unsignedRaw(d register.Descriptor, x uint64, mask uint64) (uint64, error) {
	if d.Size.Signed() {
		if x > mask>>1 {
			return 0, translation("%d out of range for %s", x, d.Size)
		}
		return x, nil
	}
	if x > mask {
		return 0, translation("%d out of range for %s", x, d.Size)
	}
	return x, nil
}

func toFloat(value interface{}) (float64, error) {
	switch x := value.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, translation("cannot parse %q as a number", x)
		}
		return f, nil
	}
	return 0, translation("cannot encode %T as a number", value)
}

func toBool(value interface{}) (bool, error) {
	switch x := value.(type) {
	case bool:
		return x, nil
	case string:
		b, err := strconv.ParseBool(x)
		if err != nil {
			return false, translation("cannot parse %q as a boolean", x)
		}
		return b, nil
	case int:
		return x != 0, nil
	case int64:
		return x != 0, nil
	case uint64:
		return x != 0, nil
	}
	return false, translation("cannot encode %T as a boolean", value)
}
