// internal/sink/mirror/mirror_test.go
package mirror

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tbrandon/mbserver"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/transport"
)

var source = register.Gateway{Transport: register.TransportTCP, Address: "10.0.0.1", Port: 502}

func reg(addr uint16, kind register.Kind, size register.DataSize) register.Descriptor {
	return register.Descriptor{Gateway: source, SlaveID: 1, Address: addr, Kind: kind, Size: size}
}

func TestPlacement(t *testing.T) {
	cases := []struct {
		name  string
		d     register.Descriptor
		off   uint16
		table Table
		addr  uint16
		count int
		ok    bool
	}{
		{"holding int32", reg(10, register.KindHolding, register.SizeInt32), 100, TableHolding, 110, 2, true},
		{"input float64", reg(0, register.KindInput, register.SizeFloat64), 0, TableHolding, 0, 4, true},
		{"coil", reg(7, register.KindCoil, register.SizeBit), 1, TableCoils, 8, 1, true},
		{"bit of register", func() register.Descriptor {
			d := reg(3, register.KindHolding, register.SizeBit)
			d.Bit = 5
			return d
		}(), 0, TableCoils, 53, 1, true},
		{"overflow", reg(65534, register.KindHolding, register.SizeUint32), 1, TableHolding, 0, 2, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			table, addr, count, ok := Placement(c.d, c.off)
			if ok != c.ok {
				t.Fatalf("ok got=%v want=%v", ok, c.ok)
			}
			if !ok {
				return
			}
			if table != c.table || addr != c.addr || count != c.count {
				t.Fatalf("got table=%d addr=%d count=%d want table=%d addr=%d count=%d",
					table, addr, count, c.table, c.addr, c.count)
			}
		})
	}
}

func TestSink_MirrorsRawWords(t *testing.T) {
	cli := &fakeEndpointClient{}
	s := New(cli, Config{SlaveID: 9, Offset: 1000}, zerolog.Nop())

	d := reg(100, register.KindInput, register.SizeInt16)
	d.Scale = 0.1
	s.OnValue(d, codec.Value{Data: 23.5})

	c := reg(4, register.KindCoil, register.SizeBit)
	s.OnValue(c, codec.Value{Data: true})
	s.Close()

	regs := cli.regs()
	if len(regs) != 1 {
		t.Fatalf("register writes got=%d want=1", len(regs))
	}
	w := regs[0]
	if w.unitID != 9 || w.addr != 1100 || len(w.regs) != 1 || w.regs[0] != 235 {
		t.Fatalf("register write got=%+v", w)
	}

	bits := cli.bits()
	if len(bits) != 1 || bits[0].addr != 1004 || !bits[0].bits[0] {
		t.Fatalf("coil write got=%+v", bits)
	}
}

func TestSink_StatusBlockFollowsReachability(t *testing.T) {
	cli := &fakeEndpointClient{}
	slot := uint16(0)
	s := New(cli, Config{SlaveID: 1, StatusSlot: &slot, DeviceName: "BOILER", Tick: time.Hour}, zerolog.Nop())

	a := reg(1, register.KindHolding, register.SizeUint16)
	b := reg(2, register.KindHolding, register.SizeUint16)

	s.OnReachability(a, true, status.None)
	s.OnReachability(b, false, status.IllegalAddress)
	s.OnReachability(a, true, status.None)
	s.OnReachability(b, true, status.None)
	s.Close()

	writes := cli.regs()
	// full block (unknown), health=ok, health=error, last_error, health=ok, last_error=0
	if len(writes) != 6 {
		t.Fatalf("writes got=%d: %+v", len(writes), writes)
	}
	if len(writes[0].regs) != SlotsPerDevice || writes[0].regs[SlotHealthCode] != HealthUnknown {
		t.Fatalf("initial block got=%+v", writes[0])
	}
	if writes[2].addr != SlotHealthCode || writes[2].regs[0] != HealthError {
		t.Fatalf("error health got=%+v", writes[2])
	}
	if writes[3].addr != SlotLastErrorCode || writes[3].regs[0] != uint16(status.IllegalAddress) {
		t.Fatalf("last error got=%+v", writes[3])
	}
	if writes[4].regs[0] != HealthOK {
		t.Fatalf("recovery got=%+v", writes[4])
	}
}

func TestSink_SecondsInErrorTicks(t *testing.T) {
	cli := &fakeEndpointClient{}
	slot := uint16(1)
	s := New(cli, Config{SlaveID: 1, StatusSlot: &slot, Tick: 10 * time.Millisecond}, zerolog.Nop())

	s.OnReachability(reg(1, register.KindHolding, register.SizeUint16), false, status.Unreachable)
	time.Sleep(80 * time.Millisecond)
	s.Close()

	var seconds uint16
	for _, w := range cli.regs() {
		if w.addr == SlotsPerDevice+SlotSecondsInError {
			seconds = w.regs[0]
		}
	}
	if seconds < 2 {
		t.Fatalf("seconds_in_error got=%d want>=2", seconds)
	}
}

func TestSink_DropsWhenQueueFull(t *testing.T) {
	cli := &fakeEndpointClient{gate: make(chan struct{})}
	s := New(cli, Config{SlaveID: 1, Buffer: 1, Tick: time.Hour}, zerolog.Nop())

	d := reg(1, register.KindHolding, register.SizeUint16)
	for i := 0; i < 10; i++ {
		s.OnValue(d, codec.Value{Data: uint64(i)})
	}
	if s.Dropped() < 8 {
		t.Fatalf("dropped got=%d want>=8", s.Dropped())
	}

	close(cli.gate)
	s.Close()
}

func TestSink_Close(t *testing.T) {
	s := New(&fakeEndpointClient{}, Config{}, zerolog.Nop())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != ErrClosed {
		t.Fatalf("second Close got=%v want=%v", err, ErrClosed)
	}
	s.OnValue(reg(1, register.KindCoil, register.SizeBit), codec.Value{Data: true})
}

func TestEndpointClient_TCPSlave(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	srv := mbserver.NewServer()
	if err := srv.ListenTCP(addr); err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}
	defer srv.Close()

	host, port, _ := net.SplitHostPort(addr)
	p, _ := strconv.Atoi(port)
	gw := register.Gateway{Transport: register.TransportTCP, Address: host, Port: p}

	cli := NewEndpointClient(gw, transport.Options{Timeout: time.Second, Logger: zerolog.Nop()})
	defer cli.Close()

	s := New(cli, Config{SlaveID: 1, Offset: 500}, zerolog.Nop())
	d := reg(10, register.KindHolding, register.SizeUint32)
	s.OnValue(d, codec.Value{Data: uint64(0x12345678)})
	s.OnValue(reg(3, register.KindCoil, register.SizeBit), codec.Value{Data: true})
	s.Close()

	if srv.HoldingRegisters[510] != 0x1234 || srv.HoldingRegisters[511] != 0x5678 {
		t.Fatalf("target registers got=%04x %04x", srv.HoldingRegisters[510], srv.HoldingRegisters[511])
	}
	if srv.Coils[503] != 1 {
		t.Fatalf("target coil got=%d", srv.Coils[503])
	}
}
