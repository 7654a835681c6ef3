// internal/config/mirror_test.go
package config

import (
	"testing"

	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/sink/mirror"
)

func slotPtr(v uint16) *uint16 { return &v }

func mirrored(name, address string, addr uint16, size string, m MirrorConfig) GatewayConfig {
	g := gateway(name, address, 1, addr, "holding", size)
	g.Mirror = &m
	return g
}

func TestValidate_MirrorOK(t *testing.T) {
	cfg := &Config{
		Gateways: []GatewayConfig{
			mirrored("g1", "10.0.0.1", 0, "uint32", MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 1, Offset: 0, StatusSlot: slotPtr(0)}),
			mirrored("g2", "10.0.0.2", 0, "uint32", MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 1, Offset: 2, StatusSlot: slotPtr(1)}),
		},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MirrorOverlap(t *testing.T) {
	cfg := &Config{
		Gateways: []GatewayConfig{
			mirrored("g1", "10.0.0.1", 0, "uint32", MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 1}),
			mirrored("g2", "10.0.0.2", 0, "int16", MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 1, Offset: 1}),
		},
	}
	expectError(t, cfg, "mirror overlap")
}

func TestValidate_MirrorSameRangeOtherSlave(t *testing.T) {
	cfg := &Config{
		Gateways: []GatewayConfig{
			mirrored("g1", "10.0.0.1", 0, "uint32", MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 1}),
			mirrored("g2", "10.0.0.2", 0, "uint32", MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 2}),
		},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MirrorCoilsAndRegistersDoNotOverlap(t *testing.T) {
	coil := gateway("g2", "10.0.0.2", 1, 0, "coil", "")
	coil.Mirror = &MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 1}

	cfg := &Config{
		Gateways: []GatewayConfig{
			mirrored("g1", "10.0.0.1", 0, "int16", MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 1}),
			coil,
		},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MirrorStatusSlotCollision(t *testing.T) {
	cfg := &Config{
		Gateways: []GatewayConfig{
			mirrored("g1", "10.0.0.1", 0, "int16", MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 1, StatusSlot: slotPtr(4)}),
			mirrored("g2", "10.0.0.2", 10, "int16", MirrorConfig{Address: "10.9.9.9", Port: 502, SlaveID: 1, StatusSlot: slotPtr(4)}),
		},
	}
	expectError(t, cfg, "status_slot collision")
}

func TestValidate_MirrorBad(t *testing.T) {
	cases := []struct {
		name string
		m    MirrorConfig
		addr uint16
		want string
	}{
		{"no address", MirrorConfig{}, 0, "address required"},
		{"rtu", MirrorConfig{Protocol: "rtu", Address: "x"}, 0, "serial mirror"},
		{"bad protocol", MirrorConfig{Protocol: "carrier-pigeon", Address: "x"}, 0, "mirror"},
		{"non ascii name", MirrorConfig{Address: "x", DeviceName: "kessel-ü"}, 0, "ASCII"},
		{"slot out of range", MirrorConfig{Address: "x", StatusSlot: slotPtr(3277)}, 0, "status_slot"},
		{"placement overflow", MirrorConfig{Address: "x", Offset: 10}, 65530, "outside the register space"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := &Config{Gateways: []GatewayConfig{mirrored("g1", "10.0.0.1", c.addr, "int16", c.m)}}
			expectError(t, cfg, c.want)
		})
	}
}

func TestNormalize_TruncatesDeviceName(t *testing.T) {
	cfg := &Config{
		Gateways: []GatewayConfig{
			mirrored("g1", "10.0.0.1", 0, "int16", MirrorConfig{Address: "x", StatusSlot: slotPtr(0), DeviceName: "a-very-long-boiler-name"}),
		},
	}
	Normalize(cfg)
	if got := cfg.Gateways[0].Mirror.DeviceName; len(got) != mirror.DeviceNameMaxChars || got != "a-very-long-boil" {
		t.Fatalf("device name got=%q", got)
	}
}

func TestMirrorTarget(t *testing.T) {
	g := gateway("g1", "10.0.0.1", 1, 0, "holding", "int16")
	if _, _, ok, err := g.MirrorTarget(); ok || err != nil {
		t.Fatalf("unmirrored gateway got ok=%v err=%v", ok, err)
	}

	g.Mirror = &MirrorConfig{Address: "10.9.9.9", Port: 1502, SlaveID: 3, Offset: 100, StatusSlot: slotPtr(2), DeviceName: "PUMP"}
	target, mc, ok, err := g.MirrorTarget()
	if err != nil || !ok {
		t.Fatalf("MirrorTarget: ok=%v err=%v", ok, err)
	}
	if target.Transport != register.TransportTCP || target.ID() != "tcp://10.9.9.9:1502" {
		t.Fatalf("target got=%s", target.ID())
	}
	if mc.SlaveID != 3 || mc.Offset != 100 || mc.StatusSlot == nil || *mc.StatusSlot != 2 || mc.DeviceName != "PUMP" {
		t.Fatalf("sink config got=%+v", mc)
	}
}

func TestParse_Mirror(t *testing.T) {
	raw := `
gateways:
  - name: boiler
    protocol: tcp
    address: 10.0.0.1
    registers:
      - {name: temp, slave_id: 1, address: 100, kind: holding, size: int16}
    mirror:
      address: 10.9.9.9
      port: 1502
      slave_id: 4
      offset: 1000
      status_slot: 0
      device_name: BOILER-1
`
	cfg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := cfg.Gateways[0].Mirror
	if m == nil {
		t.Fatalf("mirror section missing")
	}
	if m.StatusSlot == nil || *m.StatusSlot != 0 || m.Offset != 1000 || m.DeviceName != "BOILER-1" {
		t.Fatalf("mirror got=%+v", m)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
