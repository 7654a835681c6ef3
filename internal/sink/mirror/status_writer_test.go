// internal/sink/mirror/status_writer_test.go
package mirror

import (
	"errors"
	"sync"
	"testing"
)

type regWrite struct {
	unitID uint8
	addr   uint16
	regs   []uint16
}

type bitWrite struct {
	unitID uint8
	addr   uint16
	bits   []bool
}

type fakeEndpointClient struct {
	mu        sync.Mutex
	regWrites []regWrite
	bitWrites []bitWrite
	fail      error
	gate      chan struct{} // when set, WriteRegisters blocks until closed
}

func (f *fakeEndpointClient) WriteBits(unitID uint8, addr uint16, bits []bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.bitWrites = append(f.bitWrites, bitWrite{unitID, addr, append([]bool(nil), bits...)})
	return nil
}

func (f *fakeEndpointClient) WriteRegisters(unitID uint8, addr uint16, regs []uint16) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.regWrites = append(f.regWrites, regWrite{unitID, addr, append([]uint16(nil), regs...)})
	return nil
}

func (f *fakeEndpointClient) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeEndpointClient) regs() []regWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]regWrite(nil), f.regWrites...)
}

func (f *fakeEndpointClient) bits() []bitWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bitWrite(nil), f.bitWrites...)
}

func (f *fakeEndpointClient) last() regWrite {
	r := f.regs()
	if len(r) == 0 {
		return regWrite{}
	}
	return r[len(r)-1]
}

// ---- tests ----

func TestDeviceNameWrittenOnFullAssertOnly(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newStatusWriter(cli, 1, 0, "DEV-01")

	// ---- first write: FULL ASSERT ----
	if err := sw.WriteStatus(Block{Health: HealthOK}); err != nil {
		t.Fatalf("initial full assert failed: %v", err)
	}

	last := cli.last()
	if len(last.regs) != SlotsPerDevice {
		t.Fatalf("expected full block write (%d regs), got %d", SlotsPerDevice, len(last.regs))
	}

	expectedNameRegs := encodeDeviceNameRegs("DEV-01")
	for i := 0; i < SlotDeviceNameSlots; i++ {
		slot := SlotDeviceNameStart + i
		if last.regs[slot] != expectedNameRegs[i] {
			t.Fatalf("device name slot %d mismatch: got=%d want=%d", slot, last.regs[slot], expectedNameRegs[i])
		}
	}
	if expectedNameRegs[0] != uint16('D')<<8|uint16('E') {
		t.Fatalf("name packing got=%04x", expectedNameRegs[0])
	}

	// ---- second write: INCREMENTAL ONLY ----
	if err := sw.WriteStatus(Block{Health: HealthError, LastErrorCode: 7, SecondsInError: 1}); err != nil {
		t.Fatalf("incremental write failed: %v", err)
	}

	writes := cli.regs()
	if len(writes) != 4 {
		t.Fatalf("expected 3 single-slot writes after the full block, got %d writes", len(writes)-1)
	}
	for _, w := range writes[1:] {
		if len(w.regs) != 1 {
			t.Fatalf("device name should not be rewritten on incremental update")
		}
	}
}

func TestSecondsInErrorResetOnRecovery(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newStatusWriter(cli, 1, 2, "DEV-01")

	if err := sw.WriteStatus(Block{Health: HealthError, LastErrorCode: 42, SecondsInError: 3}); err != nil {
		t.Fatalf("error snapshot write failed: %v", err)
	}
	if err := sw.WriteStatus(Block{Health: HealthOK}); err != nil {
		t.Fatalf("recovery snapshot write failed: %v", err)
	}

	last := cli.last()
	expectedAddr := uint16(2*SlotsPerDevice + SlotSecondsInError)
	if last.addr != expectedAddr {
		t.Fatalf("unexpected write addr: got=%d want=%d", last.addr, expectedAddr)
	}
	if len(last.regs) != 1 || last.regs[0] != 0 {
		t.Fatalf("seconds_in_error not reset: got=%v", last.regs)
	}
}

func TestFailureForcesFullReassert(t *testing.T) {
	cli := &fakeEndpointClient{}
	sw := newStatusWriter(cli, 1, 0, "X")

	sw.WriteStatus(Block{Health: HealthOK})

	cli.setFail(errors.New("broken pipe"))
	if err := sw.WriteStatus(Block{Health: HealthError, LastErrorCode: 1}); err == nil {
		t.Fatalf("expected error")
	}

	cli.setFail(nil)
	if err := sw.WriteStatus(Block{Health: HealthError, LastErrorCode: 1}); err != nil {
		t.Fatalf("write after failure: %v", err)
	}
	if got := len(cli.last().regs); got != SlotsPerDevice {
		t.Fatalf("expected full block after failure, got %d regs", got)
	}
}

func TestEncodeDeviceNameRegs_Sanitizes(t *testing.T) {
	regs := encodeDeviceNameRegs("a\x01bcdefghijklmnopqrstuvwxyz")
	if regs[0] != uint16('a')<<8|uint16('?') {
		t.Fatalf("got=%04x", regs[0])
	}
	if regs[7] != uint16('o')<<8|uint16('p') {
		t.Fatalf("truncation got=%04x", regs[7])
	}
}
