// internal/network/io.go
package network

import (
	"fmt"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/poller"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/registry"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/transport"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/wire"
)

// live returns the connection of gateway or triggers a reconnection and
// fails with status.ErrNotConnected.
func (n *Network) live(id string) (transport.Conn, error) {
	conn, ok := n.reg.LiveConn(id)
	if !ok {
		n.ensureReconnect(id)
		return nil, status.ErrNotConnected
	}
	return conn, nil
}

// Read performs one synchronous read of d outside the poll cycle.
// The outcome is dispatched to c only (when not nil) and returned.
func (n *Network) Read(d register.Descriptor, c registry.Consumer) (codec.Value, error) {
	if err := d.Validate(); err != nil {
		return codec.Value{}, err
	}
	id := d.Gateway.ID()

	conn, err := n.live(id)
	if err == nil {
		var v codec.Value
		v, err = poller.ReadRegister(conn, d)
		n.metrics.ObserveRead(id, err)
		if err == nil {
			if c != nil {
				c.OnValue(d, v)
				c.OnReachability(d, true, status.None)
			}
			return v, nil
		}
	}

	if c != nil {
		c.OnReachability(d, false, status.Classify(err))
	}
	return codec.Value{}, err
}

// Write encodes value and writes it to d. Writes are never queued or
// retried by the engine; a down connection fails immediately.
//
// Bit-sized holding registers go through WriteBit with no previous value.
func (n *Network) Write(d register.Descriptor, value interface{}) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Kind == register.KindHolding && d.Size == register.SizeBit {
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("network: bit register needs a bool, got %T", value)
		}
		return n.WriteBit(d, b, nil)
	}

	req, err := codec.BuildWriteRequest(d, value, nil)
	if err != nil {
		return err
	}
	return n.execWrite(d, req)
}

// WriteBit sets one bit of a holding register.
//
// previous is the raw register word the caller last saw. When nil, the
// register is read first; the read and the write are two transactions.
func (n *Network) WriteBit(d register.Descriptor, value bool, previous *uint16) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Kind == register.KindCoil {
		return n.Write(d, value)
	}
	if !d.Kind.Writable() {
		return codec.ErrWriteUnsupported
	}
	if d.Size != register.SizeBit {
		return fmt.Errorf("network: WriteBit on %s register", d.Size)
	}

	if previous == nil {
		conn, err := n.live(d.Gateway.ID())
		if err != nil {
			return err
		}
		resp, err := conn.Transaction(d.Timeout).Execute(wire.Request{
			SlaveID:  d.SlaveID,
			Function: wire.FuncReadHoldingRegisters,
			Address:  d.Address,
			Quantity: 1,
		})
		if err != nil {
			return fmt.Errorf("network: read before bit write: %w", err)
		}
		if len(resp.Registers) < 1 {
			return fmt.Errorf("network: empty register read: %w", status.ErrTranslation)
		}
		raw := resp.Registers[0]
		previous = &raw
	}

	req, err := codec.BuildWriteRequest(d, value, previous)
	if err != nil {
		return err
	}
	return n.execWrite(d, req)
}

func (n *Network) execWrite(d register.Descriptor, req wire.Request) error {
	id := d.Gateway.ID()

	conn, err := n.live(id)
	if err != nil {
		n.metrics.ObserveWrite(id, err)
		return err
	}

	_, err = conn.Transaction(d.Timeout).Execute(req)
	n.metrics.ObserveWrite(id, err)
	if err != nil {
		n.log.Warn().Err(err).
			Str("gateway", id).
			Uint8("slave", d.SlaveID).
			Uint16("address", d.Address).
			Msg("write failed")
		return err
	}
	return nil
}
