// internal/codec/translator_test.go
package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/wire"
)

func holding(size register.DataSize) register.Descriptor {
	return register.Descriptor{
		Gateway: register.Gateway{Transport: register.TransportTCP, Address: "10.0.0.1"},
		SlaveID: 1,
		Address: 100,
		Kind:    register.KindHolding,
		Size:    size,
	}
}

var orders = []register.Order{register.BigEndian, register.LittleEndian}

// roundTrip encodes v, feeds the written words back as a read response and decodes them.
func roundTrip(t *testing.T, d register.Descriptor, v interface{}) Value {
	t.Helper()

	req, err := BuildWriteRequest(d, v, nil)
	if err != nil {
		t.Fatalf("%s encode %v: %v", d.Size, v, err)
	}
	if int(req.Quantity) != d.Size.Registers() || len(req.Words) != d.Size.Registers() {
		t.Fatalf("%s quantity got=%d words=%d want=%d", d.Size, req.Quantity, len(req.Words), d.Size.Registers())
	}

	out, err := Decode(d, &wire.Response{Function: wire.FuncReadHoldingRegisters, Registers: req.Words})
	if err != nil {
		t.Fatalf("%s decode %v: %v", d.Size, v, err)
	}
	return out
}

func TestRoundTrip_AllOrders(t *testing.T) {
	cases := []struct {
		size register.DataSize
		in   interface{}
		want interface{}
	}{
		{register.SizeInt16, int64(math.MinInt16), int64(math.MinInt16)},
		{register.SizeInt16, int64(math.MaxInt16), int64(math.MaxInt16)},
		{register.SizeInt16, int64(-1), int64(-1)},
		{register.SizeUint16, uint64(0), uint64(0)},
		{register.SizeUint16, uint64(math.MaxUint16), uint64(math.MaxUint16)},
		{register.SizeInt32, int64(math.MinInt32), int64(math.MinInt32)},
		{register.SizeInt32, int64(math.MaxInt32), int64(math.MaxInt32)},
		{register.SizeUint32, uint64(math.MaxUint32), uint64(math.MaxUint32)},
		{register.SizeInt48, int64(-1) << 47, int64(-1) << 47},
		{register.SizeInt48, int64(1)<<47 - 1, int64(1)<<47 - 1},
		{register.SizeUint48, uint64(1)<<48 - 1, uint64(1)<<48 - 1},
		{register.SizeInt64, int64(math.MinInt64), int64(math.MinInt64)},
		{register.SizeInt64, int64(math.MaxInt64), int64(math.MaxInt64)},
		{register.SizeUint64, uint64(math.MaxUint64), uint64(math.MaxUint64)},
		{register.SizeUint64, uint64(0x0102030405060708), uint64(0x0102030405060708)},
		{register.SizeFloat16, 1.5, 1.5},
		{register.SizeFloat16, -65504.0, -65504.0},
		{register.SizeFloat32, 3.25, 3.25},
		{register.SizeFloat32, -1e10, -1e10},
		{register.SizeFloat32, float64(math.MaxFloat32), float64(math.MaxFloat32)},
		{register.SizeFloat32, 0.0, 0.0},
		{register.SizeFloat64, math.MaxFloat64, math.MaxFloat64},
		{register.SizeFloat64, -math.SmallestNonzeroFloat64, -math.SmallestNonzeroFloat64},
		{register.SizeFloat64, math.Copysign(0, -1), 0.0},
	}

	for _, c := range cases {
		for _, bo := range orders {
			for _, wo := range orders {
				for _, dwo := range orders {
					d := holding(c.size)
					d.ByteOrder, d.WordOrder, d.DWordOrder = bo, wo, dwo

					got := roundTrip(t, d, c.in)
					if got.Data != c.want {
						t.Fatalf("%s byte=%s word=%s dword=%s got=%v (%T) want=%v (%T)",
							c.size, bo, wo, dwo, got.Data, got.Data, c.want, c.want)
					}
				}
			}
		}
	}

	// wide counters with decimal scales keep every digit
	scaled := []struct {
		size  register.DataSize
		scale float64
		in    float64
	}{
		{register.SizeUint48, 0.001, 123456789012.345},
		{register.SizeInt48, 0.01, -1234567890.12},
		{register.SizeUint64, 0.001, 1234567890123.456},
		{register.SizeInt64, 0.01, -98765432109.87},
		{register.SizeFloat64, 0.1, 1234567.890625},
		{register.SizeFloat64, 0.001, -2.5e-3},
	}

	for _, c := range scaled {
		for _, wo := range orders {
			for _, dwo := range orders {
				d := holding(c.size)
				d.Scale = c.scale
				d.WordOrder, d.DWordOrder = wo, dwo

				got := roundTrip(t, d, c.in)
				if got.Data != c.in {
					t.Fatalf("%s scale=%v word=%s dword=%s got=%v want=%v",
						c.size, c.scale, wo, dwo, got.Data, c.in)
				}
			}
		}
	}
}

func TestDecode_ScaledCounterKeepsDecimals(t *testing.T) {
	d := holding(register.SizeUint64)
	d.Scale = 0.001
	d.Unit = "kWh"

	raw := uint64(1234567890123456)
	regs := []uint16{uint16(raw >> 48), uint16(raw >> 32), uint16(raw >> 16), uint16(raw)}
	v, err := Decode(d, &wire.Response{Function: wire.FuncReadHoldingRegisters, Registers: regs})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := v.String(); got != "1234567890123.456 kWh" {
		t.Fatalf("got=%q want=%q", got, "1234567890123.456 kWh")
	}
}

func TestEncode_ExactLayout32(t *testing.T) {
	cases := []struct {
		byteOrder register.Order
		wordOrder register.Order
		want      []uint16
	}{
		{register.BigEndian, register.BigEndian, []uint16{0x1122, 0x3344}},
		{register.BigEndian, register.LittleEndian, []uint16{0x3344, 0x1122}},
		{register.LittleEndian, register.BigEndian, []uint16{0x2211, 0x4433}},
		{register.LittleEndian, register.LittleEndian, []uint16{0x4433, 0x2211}},
	}

	for _, c := range cases {
		d := holding(register.SizeUint32)
		d.ByteOrder, d.WordOrder = c.byteOrder, c.wordOrder

		req, err := BuildWriteRequest(d, uint64(0x11223344), nil)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if req.Function != wire.FuncWriteMultipleRegisters {
			t.Fatalf("function got=%d want=%d", req.Function, wire.FuncWriteMultipleRegisters)
		}
		if !equalWords(req.Words, c.want) {
			t.Fatalf("byte=%s word=%s got=%04x want=%04x", c.byteOrder, c.wordOrder, req.Words, c.want)
		}
	}
}

func TestEncode_ExactLayout64(t *testing.T) {
	cases := []struct {
		dword register.Order
		word  register.Order
		want  []uint16
	}{
		{register.BigEndian, register.BigEndian, []uint16{0x1122, 0x3344, 0x5566, 0x7788}},
		{register.BigEndian, register.LittleEndian, []uint16{0x3344, 0x1122, 0x7788, 0x5566}},
		{register.LittleEndian, register.BigEndian, []uint16{0x5566, 0x7788, 0x1122, 0x3344}},
		{register.LittleEndian, register.LittleEndian, []uint16{0x7788, 0x5566, 0x3344, 0x1122}},
	}

	for _, c := range cases {
		d := holding(register.SizeUint64)
		d.DWordOrder, d.WordOrder = c.dword, c.word

		req, err := BuildWriteRequest(d, uint64(0x1122334455667788), nil)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if !equalWords(req.Words, c.want) {
			t.Fatalf("dword=%s word=%s got=%04x want=%04x", c.dword, c.word, req.Words, c.want)
		}

		v, err := Decode(d, &wire.Response{Registers: c.want})
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if v.Data != uint64(0x1122334455667788) {
			t.Fatalf("dword=%s word=%s decode got=%x", c.dword, c.word, v.Data)
		}
	}
}

func TestDecode_ScaledWithUnit(t *testing.T) {
	d := holding(register.SizeUint16)
	d.Scale = 0.1
	d.Unit = "°C"

	v, err := Decode(d, &wire.Response{Registers: []uint16{235}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.String() != "23.5 °C" {
		t.Fatalf("got=%q want=%q", v.String(), "23.5 °C")
	}

	// and back
	req, err := BuildWriteRequest(d, 23.5, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if req.Function != wire.FuncWriteSingleRegister || req.Words[0] != 235 {
		t.Fatalf("encode got fc=%d words=%v", req.Function, req.Words)
	}
}

func TestDecode_SignedInterpretation(t *testing.T) {
	d := holding(register.SizeInt16)
	v, err := Decode(d, &wire.Response{Registers: []uint16{0xFFFE}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Data != int64(-2) {
		t.Fatalf("got=%v want=-2", v.Data)
	}

	d.Size = register.SizeUint16
	v, _ = Decode(d, &wire.Response{Registers: []uint16{0xFFFE}})
	if v.Data != uint64(0xFFFE) {
		t.Fatalf("got=%v want=65534", v.Data)
	}
}

func TestDecode_BitInRegister(t *testing.T) {
	d := holding(register.SizeBit)
	d.Bit = 3
	d.Scale = 10 // never applied to bits

	v, err := Decode(d, &wire.Response{Registers: []uint16{0x0008}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Data != true {
		t.Fatalf("bit 3 of 0x0008 got=%v want=true", v.Data)
	}

	d.ByteOrder = register.LittleEndian
	v, _ = Decode(d, &wire.Response{Registers: []uint16{0x0008}})
	if v.Data != false {
		t.Fatalf("little-endian bit 3 of 0x0008 got=%v want=false", v.Data)
	}
	v, _ = Decode(d, &wire.Response{Registers: []uint16{0x0800}})
	if v.Data != true {
		t.Fatalf("little-endian bit 3 of 0x0800 got=%v want=true", v.Data)
	}
}

func TestBitWrite_ReadModifyWrite(t *testing.T) {
	prevs := []uint16{0x0000, 0xFFFF, 0xA5C3, 0x1234}

	for _, bo := range orders {
		for _, prev := range prevs {
			for k := uint8(0); k < 16; k++ {
				for _, on := range []bool{true, false} {
					d := holding(register.SizeBit)
					d.Bit = k
					d.ByteOrder = bo

					p := prev
					req, err := BuildWriteRequest(d, on, &p)
					if err != nil {
						t.Fatalf("encode: %v", err)
					}
					if req.Function != wire.FuncWriteSingleRegister || len(req.Words) != 1 {
						t.Fatalf("unexpected request %s words=%v", req, req.Words)
					}

					before := swapBytes(prev, bo)
					after := swapBytes(req.Words[0], bo)
					if (before^after)&^(1<<k) != 0 {
						t.Fatalf("order=%s prev=%04x k=%d: other bits changed, after=%04x", bo, prev, k, after)
					}
					if (after>>k&1 == 1) != on {
						t.Fatalf("order=%s prev=%04x k=%d: bit got=%v want=%v", bo, prev, k, !on, on)
					}
				}
			}
		}
	}
}

func TestBitWrite_RequiresPrevious(t *testing.T) {
	d := holding(register.SizeBit)
	if _, err := BuildWriteRequest(d, true, nil); !errors.Is(err, ErrPreviousValue) {
		t.Fatalf("got=%v want=%v", err, ErrPreviousValue)
	}
}

func TestWrite_UnsupportedKinds(t *testing.T) {
	d := holding(register.SizeUint16)
	d.Kind = register.KindInput
	if _, err := BuildWriteRequest(d, 1, nil); !errors.Is(err, ErrWriteUnsupported) {
		t.Fatalf("input: got=%v", err)
	}

	d.Kind = register.KindDiscreteInput
	d.Size = register.SizeBit
	if _, err := BuildWriteRequest(d, true, nil); !errors.Is(err, ErrWriteUnsupported) {
		t.Fatalf("discrete input: got=%v", err)
	}
}

func TestWrite_Coil(t *testing.T) {
	d := holding(register.SizeBit)
	d.Kind = register.KindCoil

	req, err := BuildWriteRequest(d, true, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if req.Function != wire.FuncWriteSingleCoil || !req.Coil || req.Address != 100 {
		t.Fatalf("unexpected request %s coil=%v", req, req.Coil)
	}
}

func TestWrite_OutOfRange(t *testing.T) {
	d := holding(register.SizeUint16)
	if _, err := BuildWriteRequest(d, int64(70000), nil); !errors.Is(err, status.ErrTranslation) {
		t.Fatalf("uint16 70000: got=%v", err)
	}
	if _, err := BuildWriteRequest(d, -1, nil); !errors.Is(err, status.ErrTranslation) {
		t.Fatalf("uint16 -1: got=%v", err)
	}

	d.Size = register.SizeInt16
	d.Scale = 0.1
	if _, err := BuildWriteRequest(d, 4000.0, nil); !errors.Is(err, status.ErrTranslation) {
		t.Fatalf("int16 40000 raw: got=%v", err)
	}
}

func TestBuildReadRequest(t *testing.T) {
	cases := []struct {
		kind register.Kind
		size register.DataSize
		bit  uint8
		fc   uint8
		qty  uint16
	}{
		{register.KindHolding, register.SizeUint16, 0, wire.FuncReadHoldingRegisters, 1},
		{register.KindHolding, register.SizeFloat32, 0, wire.FuncReadHoldingRegisters, 2},
		{register.KindInput, register.SizeInt48, 0, wire.FuncReadInputRegisters, 3},
		{register.KindInput, register.SizeFloat64, 0, wire.FuncReadInputRegisters, 4},
		{register.KindHolding, register.SizeBit, 7, wire.FuncReadHoldingRegisters, 1},
		{register.KindCoil, register.SizeBit, 0, wire.FuncReadCoils, 1},
		{register.KindDiscreteInput, register.SizeBit, 5, wire.FuncReadDiscreteInputs, 6},
	}

	for _, c := range cases {
		d := holding(c.size)
		d.Kind, d.Bit = c.kind, c.bit

		req, err := BuildReadRequest(d)
		if err != nil {
			t.Fatalf("%s/%s: %v", c.kind, c.size, err)
		}
		if req.Function != c.fc || req.Quantity != c.qty || req.Address != 100 || req.SlaveID != 1 {
			t.Fatalf("%s/%s got=%s want fc=%d qty=%d", c.kind, c.size, req, c.fc, c.qty)
		}
	}
}

func TestDecode_DiscreteInputBit(t *testing.T) {
	d := holding(register.SizeBit)
	d.Kind = register.KindDiscreteInput
	d.Bit = 2

	v, err := Decode(d, &wire.Response{Bits: []bool{false, false, true}})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Data != true {
		t.Fatalf("got=%v want=true", v.Data)
	}
}

func TestDecode_Malformed(t *testing.T) {
	d := holding(register.SizeUint32)

	if _, err := Decode(d, nil); !errors.Is(err, status.ErrTranslation) {
		t.Fatalf("nil response: got=%v", err)
	}
	if _, err := Decode(d, &wire.Response{Registers: []uint16{1}}); !errors.Is(err, status.ErrTranslation) {
		t.Fatalf("short response: got=%v", err)
	}

	d.Kind = register.KindCoil
	d.Size = register.SizeBit
	if _, err := Decode(d, &wire.Response{}); !errors.Is(err, status.ErrTranslation) {
		t.Fatalf("empty coil: got=%v", err)
	}

	d = holding(register.SizeFloat32)
	nan := math.Float32bits(float32(math.NaN()))
	v, err := Decode(d, &wire.Response{Registers: []uint16{uint16(nan >> 16), uint16(nan)}})
	if err != nil {
		t.Fatalf("NaN is a valid float32 payload: got=%v", err)
	}
	if f, _ := v.Float64(); !math.IsNaN(f) {
		t.Fatalf("NaN: got=%v", v.Data)
	}
	inf := math.Float32bits(float32(math.Inf(-1)))
	v, err = Decode(d, &wire.Response{Registers: []uint16{uint16(inf >> 16), uint16(inf)}})
	if f, _ := v.Float64(); err != nil || !math.IsInf(f, -1) {
		t.Fatalf("-Inf: got=%v err=%v", v.Data, err)
	}
	if status.Classify(err2(Decode(d, nil))) != status.ValueTranslation {
		t.Fatalf("decode failures must classify as value translation")
	}
}

func err2(_ Value, err error) error { return err }

func equalWords(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
