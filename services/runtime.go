package services

import (
	"sync/atomic"

	"github.com/n0needt0/goodies/udp-bridge/domain"
)

// RuntimeConfig is the live, reconfigurable state shared by the listener,
// the forwarder and the reconciler. Each field is read and written atomically
// on its own; readers may observe one field updated before the other.
type RuntimeConfig struct {
	listeningPort   atomic.Int32
	minimumSeverity atomic.Int32

	defaultPort     int
	defaultSeverity domain.Severity
}

// RuntimeSnapshot is a point-in-time copy of RuntimeConfig
type RuntimeSnapshot struct {
	ListeningPort   int             `json:"listeningPort"`
	MinimumSeverity domain.Severity `json:"minimumSeverity"`
}

// NewRuntimeConfig returns a config holding the given defaults
func NewRuntimeConfig(defaultPort int, defaultSeverity domain.Severity) *RuntimeConfig {
	rc := &RuntimeConfig{
		defaultPort:     defaultPort,
		defaultSeverity: defaultSeverity,
	}
	rc.ResetListeningPort()
	rc.ResetMinimumSeverity()
	return rc
}

func (rc *RuntimeConfig) ListeningPort() int {
	return int(rc.listeningPort.Load())
}

func (rc *RuntimeConfig) SetListeningPort(port int) {
	rc.listeningPort.Store(int32(port))
}

// ResetListeningPort restores the default port and returns it
func (rc *RuntimeConfig) ResetListeningPort() int {
	rc.SetListeningPort(rc.defaultPort)
	return rc.defaultPort
}

func (rc *RuntimeConfig) DefaultListeningPort() int {
	return rc.defaultPort
}

func (rc *RuntimeConfig) MinimumSeverity() domain.Severity {
	return domain.Severity(rc.minimumSeverity.Load())
}

func (rc *RuntimeConfig) SetMinimumSeverity(s domain.Severity) {
	rc.minimumSeverity.Store(int32(s))
}

// ResetMinimumSeverity restores the default threshold and returns it
func (rc *RuntimeConfig) ResetMinimumSeverity() domain.Severity {
	rc.SetMinimumSeverity(rc.defaultSeverity)
	return rc.defaultSeverity
}

func (rc *RuntimeConfig) DefaultMinimumSeverity() domain.Severity {
	return rc.defaultSeverity
}

func (rc *RuntimeConfig) Snapshot() RuntimeSnapshot {
	return RuntimeSnapshot{
		ListeningPort:   rc.ListeningPort(),
		MinimumSeverity: rc.MinimumSeverity(),
	}
}
