// internal/sink/mirror/client.go
package mirror

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/transport"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/wire"
)

// endpointClient is the exact contract the mirror uses.
type endpointClient interface {
	WriteBits(unitID uint8, addr uint16, bits []bool) error
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

// EndpointClient writes into one target gateway. The connection is opened
// on first use and reopened on the write after a failure.
type EndpointClient struct {
	gw   register.Gateway
	opts transport.Options

	mu   sync.Mutex
	conn transport.Conn
}

// NewEndpointClient returns an unconnected client for gw.
func NewEndpointClient(gw register.Gateway, opts transport.Options) *EndpointClient {
	return &EndpointClient{gw: gw, opts: opts}
}

func (c *EndpointClient) connLocked() (transport.Conn, error) {
	if c.conn != nil && c.conn.IsConnected() {
		return c.conn, nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	conn, err := transport.New(c.gw, c.opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("mirror: connect %s: %w", c.gw.ID(), err)
	}
	c.conn = conn
	return conn, nil
}

func (c *EndpointClient) WriteBits(unitID uint8, addr uint16, bits []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked()
	if err != nil {
		return err
	}
	tx := conn.Transaction(0)
	for i, b := range bits {
		_, err := tx.Execute(wire.Request{
			SlaveID:  unitID,
			Function: wire.FuncWriteSingleCoil,
			Address:  addr + uint16(i),
			Quantity: 1,
			Coil:     b,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *EndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	if len(regs) == 0 {
		return errors.New("mirror: empty register write")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked()
	if err != nil {
		return err
	}
	_, err = conn.Transaction(0).Execute(wire.Request{
		SlaveID:  unitID,
		Function: wire.FuncWriteMultipleRegisters,
		Address:  addr,
		Quantity: uint16(len(regs)),
		Words:    regs,
	})
	return err
}

func (c *EndpointClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
