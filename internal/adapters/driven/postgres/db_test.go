package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_WithDefaults(t *testing.T) {
	c := Config{URL: "postgres://localhost/unified", MaxOpenConns: 2}.withDefaults()

	assert.Equal(t, 2, c.MaxOpenConns)
	assert.Equal(t, 2, c.MaxIdleConns, "idle connections are capped by the pool size")
	assert.Equal(t, 5*time.Minute, c.ConnMaxLifetime)
	assert.Equal(t, time.Minute, c.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Second, c.StartupWait)
	assert.Equal(t, 2*time.Second, c.PingTimeout)

	c = Config{MaxIdleConns: 3, StartupWait: time.Second}.withDefaults()
	assert.Equal(t, 25, c.MaxOpenConns)
	assert.Equal(t, 3, c.MaxIdleConns)
	assert.Equal(t, time.Second, c.StartupWait)
}

func TestConnect_RequiresURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	require.Error(t, err)
}

func TestConnect_GivesUpAfterStartupWait(t *testing.T) {
	start := time.Now()
	_, err := Connect(context.Background(), Config{
		URL:         "postgres://nobody@127.0.0.1:1/unified?sslmode=disable&connect_timeout=1",
		StartupWait: 300 * time.Millisecond,
		PingTimeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLockKey_NamespacesDoNotCollide(t *testing.T) {
	assert.Equal(t, lockKey("sync", "c1"), lockKey("sync", "c1"))
	assert.NotEqual(t, lockKey("sync", "c1"), lockKey("token", "c1"))
	assert.NotEqual(t, lockKey("schema", "init"), lockKey("sync", "init"))
}
