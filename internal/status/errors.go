// internal/status/errors.go
package status

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrNotConnected is returned when no live connection exists for a gateway.
	ErrNotConnected = errors.New("modbus: gateway not connected")

	// ErrTranslation wraps every decode/encode failure of a well-formed transaction.
	ErrTranslation = errors.New("modbus: value translation failed")
)

// Exception is a slave-reported protocol exception.
// Transports normalise their library-specific exception errors into it.
type Exception struct {
	Function uint8
	Code     uint8
}

func (e *Exception) Error() string {
	var name string
	switch e.Code {
	case ExIllegalFunction:
		name = "illegal function"
	case ExIllegalDataAddress:
		name = "illegal data address"
	case ExIllegalDataValue:
		name = "illegal data value"
	case ExDeviceFailure:
		name = "slave device failure"
	case ExAcknowledge:
		name = "acknowledge"
	case ExDeviceBusy:
		name = "slave device busy"
	case ExGatewayPath:
		name = "gateway path unavailable"
	case ExGatewayTarget:
		name = "gateway target device failed to respond"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception 0x%02x (%s), function %d", e.Code, name, e.Function&0x7F)
}

// Classify maps an error from a transaction or decode into the category
// reported to consumers. nil maps to None.
func Classify(err error) Category {
	if err == nil {
		return None
	}

	var ex *Exception
	if errors.As(err, &ex) {
		switch ex.Code {
		case ExIllegalFunction:
			return IllegalFunction
		case ExIllegalDataAddress:
			return IllegalAddress
		case ExIllegalDataValue:
			return IllegalValue
		}
		return GenericIO
	}

	switch {
	case errors.Is(err, ErrNotConnected):
		return Unreachable
	case errors.Is(err, ErrTranslation):
		return ValueTranslation
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return EOF
	}
	return GenericIO
}
