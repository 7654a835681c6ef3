// internal/codec/layout.go
package codec

import "github.com/dog-gateway/modbus-drivers-sub000/internal/register"

// ---- register placement tables ----
//
// Entry j names the wire register (0 = lowest address) that supplies the
// j-th most significant 16 bits of the composed big-endian value.

type orderPair struct {
	dword register.Order
	word  register.Order
}

var layout64 = map[orderPair][4]int{
	{register.BigEndian, register.BigEndian}:       {0, 1, 2, 3},
	{register.BigEndian, register.LittleEndian}:    {1, 0, 3, 2},
	{register.LittleEndian, register.BigEndian}:    {2, 3, 0, 1},
	{register.LittleEndian, register.LittleEndian}: {3, 2, 1, 0},
}

var layout32 = map[register.Order][2]int{
	register.BigEndian:    {0, 1},
	register.LittleEndian: {1, 0},
}

var layout48 = map[register.Order][3]int{
	register.BigEndian:    {0, 1, 2},
	register.LittleEndian: {2, 1, 0},
}

// placement returns the table for d, or nil for single-register sizes.
func placement(d register.Descriptor) []int {
	switch d.Size.Registers() {
	case 2:
		p := layout32[d.WordOrder]
		return p[:]
	case 3:
		p := layout48[d.WordOrder]
		return p[:]
	case 4:
		p := layout64[orderPair{dword: d.DWordOrder, word: d.WordOrder}]
		return p[:]
	}
	return nil
}

// swapBytes applies the in-register byte order.
// The operation is its own inverse.
func swapBytes(w uint16, o register.Order) uint16 {
	if o == register.LittleEndian {
		return w<<8 | w>>8
	}
	return w
}

// compose turns wire registers into the value's big-endian bits.
func compose(d register.Descriptor, regs []uint16) uint64 {
	n := d.Size.Registers()
	p := placement(d)

	var out uint64
	for j := 0; j < n; j++ {
		src := j
		if p != nil {
			src = p[j]
		}
		out = out<<16 | uint64(swapBytes(regs[src], d.ByteOrder))
	}
	return out
}

// decompose is the inverse of compose.
func decompose(d register.Descriptor, raw uint64) []uint16 {
	n := d.Size.Registers()
	p := placement(d)

	out := make([]uint16, n)
	for j := 0; j < n; j++ {
		shift := uint(16 * (n - 1 - j))
		w := swapBytes(uint16(raw>>shift), d.ByteOrder)
		dst := j
		if p != nil {
			dst = p[j]
		}
		out[dst] = w
	}
	return out
}
