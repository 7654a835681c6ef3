// cmd/modbus-master/discard.go
package main

import (
	"github.com/dog-gateway/modbus-drivers-sub000/internal/codec"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/register"
	"github.com/dog-gateway/modbus-drivers-sub000/internal/status"
)

// discard keeps registers polled when no sink is enabled, so metrics and
// status still reflect the devices.
type discard struct{}

func (discard) OnValue(register.Descriptor, codec.Value)                  {}
func (discard) OnReachability(register.Descriptor, bool, status.Category) {}
