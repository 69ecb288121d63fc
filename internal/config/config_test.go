package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "relay.yaml", `
role: producer
store:
  namespace: student
storage:
  driver: memory
refresher:
  interval: 10s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, RoleProducer, cfg.Role)
	assert.Equal(t, "student", cfg.Store.Namespace)
	assert.Equal(t, 100, cfg.Store.Capacity)
	assert.Equal(t, "unihelp_login_events", cfg.Store.CanonicalKey)
	assert.Equal(t, 10*time.Second, cfg.Refresher.Interval)
	assert.True(t, cfg.IsProducer())
	assert.False(t, cfg.IsConsumer())
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "relay.json", `{"role":"both","store":{"namespace":"admin"},"storage":{"driver":"memory"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProducer())
	assert.True(t, cfg.IsConsumer())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOGINRELAY_ROLE", "consumer")
	t.Setenv("LOGINRELAY_STORAGE_DRIVER", "memory")
	t.Setenv("LOGINRELAY_TRANSPORT_BROADCAST_ALLOWED_ORIGINS", "http://a.test,http://b.test")
	path := writeConfig(t, "relay.yaml", "role: producer\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, RoleConsumer, cfg.Role)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Transport.Broadcast.AllowedOrigins)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"role":     func(c *Config) { c.Role = "observer" },
		"driver":   func(c *Config) { c.Storage.Driver = "mongo" },
		"interval": func(c *Config) { c.Refresher.Interval = 100 * time.Millisecond },
		"kafka": func(c *Config) {
			c.Transport.Broadcast.Enabled = true
			c.Transport.Broadcast.Driver = "kafka"
		},
		"namespace": func(c *Config) { c.Store.Namespace = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestEmptyFile(t *testing.T) {
	_, err := Load(writeConfig(t, "empty.yaml", "  \n"))
	assert.Error(t, err)
}

func TestManagerUpdatePersists(t *testing.T) {
	path := writeConfig(t, "relay.yaml", "storage:\n  driver: memory\n")
	m, err := NewManager(path)
	require.NoError(t, err)

	next := *m.Get()
	next.Transport.Broadcast.AllowedOrigins = []string{"http://student.test"}
	require.NoError(t, m.Update(&next))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://student.test"}, reloaded.Transport.Broadcast.AllowedOrigins)

	needs, err := m.NeedsReload()
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestStaticManager(t *testing.T) {
	cfg := DefaultConfig()
	m := NewStaticManager(cfg)
	assert.Same(t, cfg, m.Get())
	next := *cfg
	next.Role = RoleBoth
	require.NoError(t, m.Update(&next))
	assert.Equal(t, RoleBoth, m.Get().Role)
}
