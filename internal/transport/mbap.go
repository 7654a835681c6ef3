// internal/transport/mbap.go
package transport

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/goburrow/modbus"
)

const (
	mbapHeaderSize = 7
	mbapMaxLength  = 260
)

// mbapPackager implements modbus.Packager for Modbus TCP.
//
// It replaces goburrow's built-in packager so the transaction id window can
// span every attempt of one transaction:
//   first = id sent by the first attempt
//   last  = id sent by the most recent attempt
// A response is accepted when its id lies in [first-delta, last+delta].
type mbapPackager struct {
	slaveID byte
	tid     uint16

	first uint16
	last  uint16
	open  bool

	checkID  bool
	maxDelta uint16
}

func newMBAPPackager(checkID bool, maxDelta uint16) *mbapPackager {
	p := &mbapPackager{checkID: checkID, maxDelta: maxDelta}

	// Randomize starting TID (best effort).
	var b [2]byte
	if _, err := rand.Read(b[:]); err == nil {
		p.tid = binary.BigEndian.Uint16(b[:])
	}
	return p
}

// begin starts a new transaction window.
func (p *mbapPackager) begin() {
	p.open = false
}

func (p *mbapPackager) nextTID() uint16 {
	p.tid++
	if !p.open {
		p.first = p.tid
		p.open = true
	}
	p.last = p.tid
	return p.tid
}

// Encode builds a Modbus TCP ADU.
//
// MBAP:
//   TID(2) PID(2=0) LEN(2) UID(1)
// PDU:
//   FC(1) Data(n)
func (p *mbapPackager) Encode(pdu *modbus.ProtocolDataUnit) ([]byte, error) {
	n := mbapHeaderSize + 1 + len(pdu.Data)
	if n > mbapMaxLength {
		return nil, fmt.Errorf("transport: mbap length %d exceeds %d", n, mbapMaxLength)
	}

	adu := make([]byte, n)
	binary.BigEndian.PutUint16(adu[0:2], p.nextTID())
	binary.BigEndian.PutUint16(adu[2:4], 0)
	// Length = UnitID(1) + FC(1) + data
	binary.BigEndian.PutUint16(adu[4:6], uint16(2+len(pdu.Data)))
	adu[6] = p.slaveID
	adu[7] = pdu.FunctionCode
	copy(adu[8:], pdu.Data)
	return adu, nil
}

// Verify checks the response header against the request.
func (p *mbapPackager) Verify(aduRequest []byte, aduResponse []byte) error {
	if len(aduResponse) < mbapHeaderSize+1 {
		return fmt.Errorf("transport: mbap response too short (%d bytes)", len(aduResponse))
	}

	tid := binary.BigEndian.Uint16(aduResponse[0:2])
	if p.checkID && !p.accepts(tid) {
		return fmt.Errorf("%w: got=%d first=%d last=%d delta=%d", ErrTransactionID, tid, p.first, p.last, p.maxDelta)
	}

	if pid := binary.BigEndian.Uint16(aduResponse[2:4]); pid != 0 {
		return fmt.Errorf("transport: mbap protocol id mismatch: got=%d want=0", pid)
	}
	if length := int(binary.BigEndian.Uint16(aduResponse[4:6])); length != len(aduResponse)-6 {
		return fmt.Errorf("transport: mbap length mismatch: header=%d actual=%d", length, len(aduResponse)-6)
	}
	if aduResponse[6] != aduRequest[6] {
		return fmt.Errorf("transport: mbap unit id mismatch: got=%d want=%d", aduResponse[6], aduRequest[6])
	}
	return nil
}

// Decode extracts the PDU.
func (p *mbapPackager) Decode(adu []byte) (*modbus.ProtocolDataUnit, error) {
	if len(adu) < mbapHeaderSize+1 {
		return nil, fmt.Errorf("transport: mbap adu too short (%d bytes)", len(adu))
	}
	return &modbus.ProtocolDataUnit{
		FunctionCode: adu[7],
		Data:         adu[8:],
	}, nil
}

// accepts applies the window with uint16 wrap-around.
func (p *mbapPackager) accepts(tid uint16) bool {
	lo := p.first - p.maxDelta
	span := uint32(p.last-p.first) + 2*uint32(p.maxDelta)
	return uint32(tid-lo) <= span
}
