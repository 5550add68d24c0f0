package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.False(t, p.IsEnabled())
	assert.Equal(t, "tracing", p.Name())
	assert.NotNil(t, p.Tracer("test"))

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
}

func TestNewProviderRequiresEndpoint(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestNewProviderTLS(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "plaintext",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317"},
		},
		{
			name: "skip verification",
			cfg:  Config{Enabled: true, Endpoint: "localhost:4317", TLSInsecure: true},
		},
		{
			name:    "missing CA file",
			cfg:     Config{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: "/does/not/exist.crt"},
			wantErr: "read CA certificate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, p.IsEnabled())
		})
	}
}

func TestNewProviderRejectsBadCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o644))

	_, err := NewProvider(Config{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append CA certificate")
}
