// internal/sink/mirror/status_writer.go
package mirror

import (
	"errors"
	"fmt"
	"strings"
)

// statusWriter delivers a Block into target holding registers.
// The first write, and the first write after any failure, re-asserts the
// full block including the device name. Later writes only touch the slots
// that changed.
type statusWriter struct {
	cli    endpointClient
	unitID uint8
	slot   uint16

	needFull bool
	last     Block
	nameRegs []uint16
}

func newStatusWriter(cli endpointClient, unitID uint8, slot uint16, deviceName string) *statusWriter {
	return &statusWriter{
		cli:      cli,
		unitID:   unitID,
		slot:     slot,
		needFull: true,
		nameRegs: encodeDeviceNameRegs(deviceName),
	}
}

func (sw *statusWriter) baseAddr() uint16 {
	return sw.slot * SlotsPerDevice
}

// WriteStatus writes b, fully or incrementally.
func (sw *statusWriter) WriteStatus(b Block) error {
	base := sw.baseAddr()

	if sw.needFull {
		if err := sw.cli.WriteRegisters(sw.unitID, base, sw.fullBlockRegs(b)); err != nil {
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}
		sw.needFull = false
		sw.last = b
		return nil
	}

	slots := []struct {
		name string
		slot uint16
		prev *uint16
		next uint16
	}{
		{"health", SlotHealthCode, &sw.last.Health, b.Health},
		{"last_error", SlotLastErrorCode, &sw.last.LastErrorCode, b.LastErrorCode},
		{"seconds_in_error", SlotSecondsInError, &sw.last.SecondsInError, b.SecondsInError},
	}

	var errs []string
	for _, s := range slots {
		if *s.prev == s.next {
			continue
		}
		if err := sw.cli.WriteRegisters(sw.unitID, base+s.slot, []uint16{s.next}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s write failed: %v", s.slot, s.name, err))
			continue
		}
		*s.prev = s.next
	}

	if len(errs) > 0 {
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}
	return nil
}

func (sw *statusWriter) fullBlockRegs(b Block) []uint16 {
	regs := make([]uint16, SlotsPerDevice)

	regs[SlotHealthCode] = b.Health
	regs[SlotLastErrorCode] = b.LastErrorCode
	regs[SlotSecondsInError] = b.SecondsInError

	copy(regs[SlotDeviceNameStart:], sw.nameRegs)
	return regs
}
