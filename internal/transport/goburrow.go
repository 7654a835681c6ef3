// internal/transport/goburrow.go
package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/wire"
)

// ---- plain TCP ----

// tcpBackend runs goburrow's TCP transporter under our own MBAP packager.
type tcpBackend struct {
	handler  *modbus.TCPClientHandler
	packager *mbapPackager
	client   modbus.Client
}

func newTCPBackend(gw register.Gateway, opts Options) *tcpBackend {
	h := modbus.NewTCPClientHandler(gw.HostPort())
	h.Timeout = opts.Timeout
	// Keep the link persistent; liveness is tracked by conn.
	h.IdleTimeout = 0

	p := newMBAPPackager(opts.CheckID, opts.MaxIDDelta)

	return &tcpBackend{
		handler:  h,
		packager: p,
		client:   modbus.NewClient2(p, h),
	}
}

func (b *tcpBackend) open() error  { return b.handler.Connect() }
func (b *tcpBackend) close() error { return b.handler.Close() }
func (b *tcpBackend) begin()       { b.packager.begin() }

func (b *tcpBackend) do(req wire.Request, timeout time.Duration) (*wire.Response, error) {
	b.packager.slaveID = req.SlaveID
	b.handler.Timeout = timeout
	return execute(b.client, req)
}

// ---- RTU over a serial line ----

type rtuBackend struct {
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

func newRTUBackend(gw register.Gateway, opts Options) *rtuBackend {
	h := modbus.NewRTUClientHandler(gw.Serial.Port)
	h.Timeout = opts.Timeout
	h.IdleTimeout = 0
	if gw.Serial.BaudRate > 0 {
		h.BaudRate = gw.Serial.BaudRate
	}
	if gw.Serial.DataBits > 0 {
		h.DataBits = gw.Serial.DataBits
	}
	if gw.Serial.StopBits > 0 {
		h.StopBits = gw.Serial.StopBits
	}
	if gw.Serial.Parity != "" {
		h.Parity = gw.Serial.Parity
	}

	return &rtuBackend{
		handler: h,
		client:  modbus.NewClient(h),
	}
}

func (b *rtuBackend) open() error  { return b.handler.Connect() }
func (b *rtuBackend) close() error { return b.handler.Close() }
func (b *rtuBackend) begin()       {}

func (b *rtuBackend) do(req wire.Request, timeout time.Duration) (*wire.Response, error) {
	b.handler.SlaveId = req.SlaveID
	b.handler.Timeout = timeout
	return execute(b.client, req)
}

// ---- shared request dispatch ----

func execute(c modbus.Client, req wire.Request) (*wire.Response, error) {
	resp := &wire.Response{Function: req.Function}

	switch req.Function {
	case wire.FuncReadCoils:
		data, err := c.ReadCoils(req.Address, req.Quantity)
		if err != nil {
			return nil, err
		}
		resp.Bits = wire.UnpackBits(data, int(req.Quantity))

	case wire.FuncReadDiscreteInputs:
		data, err := c.ReadDiscreteInputs(req.Address, req.Quantity)
		if err != nil {
			return nil, err
		}
		resp.Bits = wire.UnpackBits(data, int(req.Quantity))

	case wire.FuncReadHoldingRegisters:
		data, err := c.ReadHoldingRegisters(req.Address, req.Quantity)
		if err != nil {
			return nil, err
		}
		resp.Registers = wire.UnpackRegisters(data)

	case wire.FuncReadInputRegisters:
		data, err := c.ReadInputRegisters(req.Address, req.Quantity)
		if err != nil {
			return nil, err
		}
		resp.Registers = wire.UnpackRegisters(data)

	case wire.FuncWriteSingleCoil:
		v := uint16(0x0000)
		if req.Coil {
			v = 0xFF00
		}
		if _, err := c.WriteSingleCoil(req.Address, v); err != nil {
			return nil, err
		}

	case wire.FuncWriteSingleRegister:
		if len(req.Words) != 1 {
			return nil, fmt.Errorf("transport: single register write with %d words", len(req.Words))
		}
		if _, err := c.WriteSingleRegister(req.Address, req.Words[0]); err != nil {
			return nil, err
		}

	case wire.FuncWriteMultipleRegisters:
		if _, err := c.WriteMultipleRegisters(req.Address, uint16(len(req.Words)), wire.PackRegisters(req.Words)); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("transport: unsupported function code %d", req.Function)
	}

	return resp, nil
}

func goburrowException(err error) *status.Exception {
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return &status.Exception{Function: me.FunctionCode, Code: me.ExceptionCode}
	}
	return nil
}
