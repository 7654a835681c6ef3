// internal/register/gateway.go
package register

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Transport is the framing/medium variant used to reach a gateway.
type Transport string

const (
	TransportTCP        Transport = "tcp"
	TransportRTU        Transport = "rtu"
	TransportRTUOverTCP Transport = "rtuovertcp"
	TransportRTUOverUDP Transport = "rtuoverudp"
)

// ParseTransport accepts the protocol names used in configuration files.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp", "modbus_tcp":
		return TransportTCP, nil
	case "rtu", "serial", "modbus_rtu":
		return TransportRTU, nil
	case "rtuovertcp", "rtu_over_tcp", "rtu-over-tcp":
		return TransportRTUOverTCP, nil
	case "rtuoverudp", "rtu_over_udp", "rtu-over-udp":
		return TransportRTUOverUDP, nil
	}
	return "", fmt.Errorf("register: unknown transport %q", s)
}

// DefaultPort is the registered Modbus TCP port.
const DefaultPort = 502

// Serial holds line settings for RTU gateways.
// They configure the port but do not take part in the gateway identity.
type Serial struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E" or "O"
}

// Gateway is the endpoint through which one or more slaves are reached.
type Gateway struct {
	Transport Transport
	Address   string
	Port      int
	Serial    Serial
}

// ID derives the gateway identifier.
// It is pure: equal endpoints always yield the same string, and no I/O is done.
func (g Gateway) ID() string {
	if g.Transport == TransportRTU {
		return "rtu://" + g.Serial.Port
	}
	port := g.Port
	if port == 0 {
		port = DefaultPort
	}
	return string(g.Transport) + "://" + net.JoinHostPort(g.Address, strconv.Itoa(port))
}

// HostPort returns the dial address of network gateways.
func (g Gateway) HostPort() string {
	port := g.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(g.Address, strconv.Itoa(port))
}

func (g Gateway) validate() error {
	switch g.Transport {
	case TransportRTU:
		if g.Serial.Port == "" {
			return fmt.Errorf("serial port required for %s", g.Transport)
		}
	case TransportTCP, TransportRTUOverTCP, TransportRTUOverUDP:
		if g.Address == "" {
			return fmt.Errorf("address required for %s", g.Transport)
		}
		if g.Port < 0 || g.Port > 65535 {
			return fmt.Errorf("port %d out of range", g.Port)
		}
	default:
		return fmt.Errorf("unknown transport %q", g.Transport)
	}
	return nil
}
