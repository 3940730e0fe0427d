//go:build unit

// Copyright 2024 The kubernetes.kubevirt authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, doc string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("parses a yaml document", func(t *testing.T) {
		path := writeConfigFile(t, `
host_format: "{name}"
connections:
  - name: testing
    namespaces: [team-a, team-b]
    label_selector: app=web
    network_name: default
`)

		config, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "{name}", config.HostFormat)
		require.Len(t, config.Connections, 1)
		assert.Equal(t, "testing", config.Connections[0].Name)
		assert.Equal(t, []string{"team-a", "team-b"}, config.Connections[0].Namespaces)
		assert.Equal(t, "app=web", config.Connections[0].LabelSelector)
		assert.Equal(t, "default", config.Connections[0].NetworkName)
	})

	t.Run("falls back to the environment variable", func(t *testing.T) {
		path := writeConfigFile(t, `{"connections": [{"name": "from-env"}]}`)
		t.Setenv(ConfigPathEnvKey, path)

		config, err := LoadConfig("")
		require.NoError(t, err)
		require.Len(t, config.Connections, 1)
		assert.Equal(t, "from-env", config.Connections[0].Name)
	})

	t.Run("returns the zero configuration without a path", func(t *testing.T) {
		t.Setenv(ConfigPathEnvKey, "")

		config, err := LoadConfig("")
		require.NoError(t, err)
		assert.Empty(t, config.Connections)
		assert.Empty(t, config.HostFormat)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		path := writeConfigFile(t, "connectoins: []\n")

		_, err := LoadConfig(path)
		require.ErrorIs(t, err, errLoadConfig)
		assert.Contains(t, err.Error(), "connectoins")
	})

	t.Run("fails on a missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.ErrorIs(t, err, errLoadConfig)
	})
}
