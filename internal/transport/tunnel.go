// internal/transport/tunnel.go
package transport

import (
	"errors"
	"fmt"
	"time"

	svmodbus "github.com/simonvetter/modbus"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/wire"
)

// tunnelBackend carries RTU frames over a TCP stream or UDP datagrams.
//
// The library fixes the request timeout when the client is created, so the
// per-request timeout is ignored here and Options.Timeout applies.
type tunnelBackend struct {
	client *svmodbus.ModbusClient
}

func newTunnelBackend(gw register.Gateway, opts Options) (*tunnelBackend, error) {
	url := string(gw.Transport) + "://" + gw.HostPort()

	c, err := svmodbus.NewClient(&svmodbus.ClientConfiguration{
		URL:     url,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: %s: %w", url, err)
	}
	return &tunnelBackend{client: c}, nil
}

func (b *tunnelBackend) open() error  { return b.client.Open() }
func (b *tunnelBackend) close() error { return b.client.Close() }
func (b *tunnelBackend) begin()       {}

func (b *tunnelBackend) do(req wire.Request, _ time.Duration) (*wire.Response, error) {
	if err := b.client.SetUnitId(req.SlaveID); err != nil {
		return nil, fmt.Errorf("set unit id: %w", err)
	}

	resp := &wire.Response{Function: req.Function}
	var err error

	switch req.Function {
	case wire.FuncReadCoils:
		resp.Bits, err = b.client.ReadCoils(req.Address, req.Quantity)
	case wire.FuncReadDiscreteInputs:
		resp.Bits, err = b.client.ReadDiscreteInputs(req.Address, req.Quantity)
	case wire.FuncReadHoldingRegisters:
		resp.Registers, err = b.client.ReadRegisters(req.Address, req.Quantity, svmodbus.HOLDING_REGISTER)
	case wire.FuncReadInputRegisters:
		resp.Registers, err = b.client.ReadRegisters(req.Address, req.Quantity, svmodbus.INPUT_REGISTER)
	case wire.FuncWriteSingleCoil:
		err = b.client.WriteCoil(req.Address, req.Coil)
	case wire.FuncWriteSingleRegister:
		if len(req.Words) != 1 {
			return nil, fmt.Errorf("transport: single register write with %d words", len(req.Words))
		}
		err = b.client.WriteRegister(req.Address, req.Words[0])
	case wire.FuncWriteMultipleRegisters:
		err = b.client.WriteRegisters(req.Address, req.Words)
	default:
		return nil, fmt.Errorf("transport: unsupported function code %d", req.Function)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

var tunnelExceptions = []struct {
	err  error
	code uint8
}{
	{svmodbus.ErrIllegalFunction, status.ExIllegalFunction},
	{svmodbus.ErrIllegalDataAddress, status.ExIllegalDataAddress},
	{svmodbus.ErrIllegalDataValue, status.ExIllegalDataValue},
	{svmodbus.ErrServerDeviceFailure, status.ExDeviceFailure},
	{svmodbus.ErrAcknowledge, status.ExAcknowledge},
	{svmodbus.ErrServerDeviceBusy, status.ExDeviceBusy},
	{svmodbus.ErrGWPathUnavailable, status.ExGatewayPath},
	{svmodbus.ErrGWTargetFailedToRespond, status.ExGatewayTarget},
}

func tunnelException(err error) *status.Exception {
	for _, e := range tunnelExceptions {
		if errors.Is(err, e.err) {
			return &status.Exception{Code: e.code}
		}
	}
	return nil
}
