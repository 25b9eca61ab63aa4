package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/udp-bridge/config"
	"github.com/n0needt0/goodies/udp-bridge/domain"
)

func TestRuntimeConfigDefaults(t *testing.T) {
	rc := NewRuntimeConfig(11001, domain.SeverityWarning)

	assert.Equal(t, 11001, rc.ListeningPort())
	assert.Equal(t, domain.SeverityWarning, rc.MinimumSeverity())

	rc.SetListeningPort(12000)
	rc.SetMinimumSeverity(domain.SeverityDebug)
	assert.Equal(t, RuntimeSnapshot{ListeningPort: 12000, MinimumSeverity: domain.SeverityDebug}, rc.Snapshot())

	assert.Equal(t, 11001, rc.ResetListeningPort())
	assert.Equal(t, domain.SeverityWarning, rc.ResetMinimumSeverity())
	assert.Equal(t, 11001, rc.ListeningPort())
	assert.Equal(t, domain.SeverityWarning, rc.MinimumSeverity())
}

// run with -race: fields are written and read from different goroutines
func TestRuntimeConfigConcurrentAccess(t *testing.T) {
	rc := NewRuntimeConfig(11001, domain.SeverityWarning)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 500; n++ {
				rc.SetListeningPort(20000 + i)
				rc.SetMinimumSeverity(domain.Severity(n % 5))
			}
		}(i)
		go func() {
			defer wg.Done()
			for n := 0; n < 500; n++ {
				snap := rc.Snapshot()
				assert.True(t, snap.MinimumSeverity.Valid())
				assert.True(t, snap.ListeningPort == 11001 || (snap.ListeningPort >= 20000 && snap.ListeningPort < 20008))
			}
		}()
	}
	wg.Wait()
}

func TestNewServices(t *testing.T) {
	var cfg config.Config
	cfg.SetDefaults()
	cfg.UDP.Port = 11500
	cfg.Diagnostics.MinimumSeverity = "error"

	svc, err := NewServices(&cfg)
	require.NoError(t, err)
	assert.Equal(t, 11500, svc.Runtime.ListeningPort())
	assert.Equal(t, domain.SeverityError, svc.Runtime.MinimumSeverity())
	assert.NotNil(t, svc.Metrics)
	assert.True(t, svc.IsHealthy())

	cfg.Diagnostics.MinimumSeverity = "loud"
	_, err = NewServices(&cfg)
	assert.Error(t, err)
}
