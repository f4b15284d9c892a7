package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/ztpserver/internal/auth"
	"github.com/HerbHall/ztpserver/internal/repository"
	"github.com/HerbHall/ztpserver/internal/testutil"
)

const checkNeighbordb = `
patterns:
  - name: leaf
    definition: leaf
    interfaces:
      - Ethernet1: spine1:Ethernet1
  - name: leaf-any
    definition: leaf
    interfaces:
      - any: any:any
  - name: spine
    definition: spine
    node: SN-SPINE
`

func TestCheckRepository(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantErr bool
		want    []string
	}{
		{
			name: "all definitions present",
			files: map[string]string{
				"neighbordb":        checkNeighbordb,
				"definitions/leaf":  "name: leaf\nactions:\n  - name: a\n",
				"definitions/spine": "name: spine\nactions: []\n",
			},
			want: []string{"ok    neighbordb (3 patterns)", "ok    definitions/leaf", "ok    definitions/spine"},
		},
		{
			name: "missing definition",
			files: map[string]string{
				"neighbordb":       checkNeighbordb,
				"definitions/leaf": "name: leaf\nactions: []\n",
			},
			wantErr: true,
			want:    []string{`FAIL  definitions/spine (pattern "spine")`},
		},
		{
			name: "unnamed action",
			files: map[string]string{
				"neighbordb":        checkNeighbordb,
				"definitions/leaf":  "name: leaf\nactions:\n  - action: add_config\n",
				"definitions/spine": "name: spine\nactions: []\n",
			},
			wantErr: true,
			want:    []string{"action 0 has no name"},
		},
		{
			name:    "invalid neighbordb",
			files:   map[string]string{"neighbordb": "patterns:\n  - name: x\n"},
			wantErr: true,
			want:    []string{"FAIL  neighbordb"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.New(repository.NewMemoryBackend())
			testutil.SeedRepository(t, repo, tt.files)

			var out bytes.Buffer
			err := checkRepository(context.Background(), repo, "neighbordb", &out)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errCheckFailed))
			} else {
				require.NoError(t, err)
			}
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
			// Each definition is reported once even when shared.
			assert.LessOrEqual(t, strings.Count(out.String(), "definitions/leaf"), 1)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "ztpserver "))
}

func TestTokenCommand(t *testing.T) {
	const secret = "0123456789abcdef0123"
	path := filepath.Join(t.TempDir(), "ztpserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  secret: "+secret+"\n"), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--config", path, "--subject", "grafana", "--ttl", "1h"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil); configPath = "" })

	require.NoError(t, rootCmd.Execute())

	tokens, err := auth.NewTokenService([]byte(secret))
	require.NoError(t, err)
	claims, err := tokens.Validate(strings.TrimSpace(out.String()), auth.ScopeEvents)
	require.NoError(t, err)
	assert.Equal(t, "grafana", claims.Subject)
}
