package health

import (
	"fmt"
	"testing"

	"arbibot/internal/core"

	"github.com/stretchr/testify/assert"
)

var _ core.IHealthMonitor = (*HealthManager)(nil)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)
	assert.True(t, hm.IsHealthy(), "empty manager is healthy")

	hm.Register("feed", func() error { return nil })
	assert.True(t, hm.IsHealthy())

	hm.Register("coordinator", func() error { return fmt.Errorf("unhedged exposure on BTC/USDT") })
	assert.False(t, hm.IsHealthy())

	status := hm.GetStatus()
	assert.Equal(t, "Healthy", status["feed"])
	assert.Equal(t, "Unhealthy: unhedged exposure on BTC/USDT", status["coordinator"])
	assert.Equal(t, []string{"coordinator"}, hm.Failing())
}

func TestHealthManager_OptionalChecks(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.RegisterOptional("redis_mirror", func() error { return fmt.Errorf("connection refused") })

	assert.True(t, hm.IsHealthy())
	assert.Equal(t, "Unhealthy: connection refused", hm.GetStatus()["redis_mirror"])

	// re-registering replaces the check
	hm.Register("redis_mirror", func() error { return fmt.Errorf("connection refused") })
	assert.False(t, hm.IsHealthy())
}
