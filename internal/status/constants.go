// internal/status/constants.go
package status

import "strconv"

// Category tells consumers why a register is unreachable.
// Values are stable and may be stored or exported as-is.
type Category uint16

// ---- CATEGORIES ----

// None means the register is reachable.
const None Category = 0

// Unreachable means the connection was down at cycle start; no request was sent.
const Unreachable Category = 1

// GenericIO is any transport failure (timeout, framing, id mismatch, ...).
const GenericIO Category = 2

// EOF means the remote end closed the stream cleanly.
const EOF Category = 3

// IllegalFunction maps slave exception 0x01.
const IllegalFunction Category = 4

// IllegalAddress maps slave exception 0x02.
const IllegalAddress Category = 5

// IllegalValue maps slave exception 0x03.
const IllegalValue Category = 6

// ValueTranslation means the transport succeeded but the payload could not
// be interpreted as the configured type.
const ValueTranslation Category = 7

var categoryNames = [...]string{
	None:             "none",
	Unreachable:      "unreachable",
	GenericIO:        "generic_io",
	EOF:              "eof",
	IllegalFunction:  "illegal_function",
	IllegalAddress:   "illegal_address",
	IllegalValue:     "illegal_value",
	ValueTranslation: "value_translation",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "category(" + strconv.Itoa(int(c)) + ")"
}

// ---- SLAVE EXCEPTION CODES ----

const (
	ExIllegalFunction    uint8 = 0x01
	ExIllegalDataAddress uint8 = 0x02
	ExIllegalDataValue   uint8 = 0x03
	ExDeviceFailure      uint8 = 0x04
	ExAcknowledge        uint8 = 0x05
	ExDeviceBusy         uint8 = 0x06
	ExGatewayPath        uint8 = 0x0A
	ExGatewayTarget      uint8 = 0x0B
)
