// internal/status/snapshot.go
package status

// Snapshot is a point-in-time view of one gateway.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Gateway     string
	Connected   bool
	Reconnect   bool // a reconnection attempt is pending
	Terminal    bool // trial budget exhausted, no further automatic attempts
	Trials      int  // failed connection attempts since the last success
	Registers   int
	Blacklisted int
	Consumers   int
}
