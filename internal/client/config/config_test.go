package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "http://127.0.0.1:8080", c.ServerURL)
	assert.Equal(t, "session.db", filepath.Base(c.SessionPath))
	assert.Equal(t, 2, c.SecurityLevel)
}

func TestLoad(t *testing.T) {
	t.Setenv(configEnv, "")
	defaults := &Config{}
	defaults.LoadDefaults()

	path := writeTempJSON(t, map[string]any{
		"server_url":     "https://auth.example.com",
		"security_level": 3,
	})

	tests := []struct {
		name string
		args []string
		want Config
	}{
		{
			name: "defaults only",
			want: *defaults,
		},
		{
			name: "json overlay",
			args: []string{"-c", path},
			want: Config{ServerURL: "https://auth.example.com", SessionPath: defaults.SessionPath, SecurityLevel: 3},
		},
		{
			name: "flags win over json",
			args: []string{"-config", path, "-a", "http://localhost:9000", "-s", "/tmp/s.db", "-l", "4"},
			want: Config{ServerURL: "http://localhost:9000", SessionPath: "/tmp/s.db", SecurityLevel: 4},
		},
		{
			name: "unrelated flags ignored",
			args: []string{"-x", "-v", "-a=http://h:1"},
			want: Config{ServerURL: "http://h:1", SessionPath: defaults.SessionPath, SecurityLevel: defaults.SecurityLevel},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.args)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, *got); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad_FromEnvPath(t *testing.T) {
	t.Setenv(configEnv, writeTempJSON(t, map[string]any{"session_path": "/var/lib/k.db"}))
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/k.db", cfg.SessionPath)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(configEnv, "")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{ nope`), 0o600))

	_, err := Load([]string{"-c", bad})
	assert.Error(t, err)

	_, err = Load([]string{"-c", filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)

	_, err = Load([]string{"-l", "abc"})
	assert.Error(t, err)

	_, err = Load([]string{"-l", "9"})
	assert.Error(t, err)
}
