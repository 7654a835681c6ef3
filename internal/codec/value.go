// internal/codec/value.go
package codec

import (
	"fmt"
	"strconv"
)

// Value is a decoded register value.
//
// Data holds exactly one of:
//   bool    for bit sizes, coils and discrete inputs
//   int64   for signed integer sizes with scale 1
//   uint64  for unsigned integer sizes with scale 1
//   float64 for float sizes and for any scaled integer
type Value struct {
	Data interface{}
	Unit string
}

// Bool returns the boolean payload, if any.
func (v Value) Bool() (bool, bool) {
	b, ok := v.Data.(bool)
	return b, ok
}

// Float64 returns the numeric payload as float64.
func (v Value) Float64() (float64, bool) {
	switch x := v.Data.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Number renders the payload without unit.
func (v Value) Number() string {
	switch x := v.Data.(type) {
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v.Data)
}

// String renders the value with its unit label, e.g. "23.5 °C".
func (v Value) String() string {
	s := v.Number()
	if v.Unit == "" {
		return s
	}
	if _, isBool := v.Data.(bool); isBool {
		return s
	}
	return s + " " + v.Unit
}
