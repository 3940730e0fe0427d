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

package k8s_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/rest"
	"k8s.io/utils/ptr"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/k8s"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
)

const kubeconfigFixture = `apiVersion: v1
kind: Config
clusters:
- cluster:
    server: https://one.example:6443
  name: one
- cluster:
    server: https://two.example:6443
  name: two
contexts:
- context:
    cluster: one
    user: admin
  name: one
- context:
    cluster: two
    user: admin
  name: two
current-context: one
users:
- name: admin
  user:
    token: sekret
`

func writeKubeconfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(path, []byte(kubeconfigFixture), 0o600))

	return path
}

func TestNewRestConfig_ExplicitHost(t *testing.T) {
	t.Run("builds from connection fields alone", func(t *testing.T) {
		cfg, err := k8s.NewRestConfig(types.Connection{
			Host:       "https://cluster.example:6443",
			APIKey:     "sekret",
			ClientCert: "/etc/pki/client.crt",
			ClientKey:  "/etc/pki/client.key",
			CACert:     "/etc/pki/ca.crt",
		})
		require.NoError(t, err)

		assert.Equal(t, "https://cluster.example:6443", cfg.Host)
		assert.Equal(t, "sekret", cfg.BearerToken)
		assert.Equal(t, "/etc/pki/client.crt", cfg.TLSClientConfig.CertFile)
		assert.Equal(t, "/etc/pki/client.key", cfg.TLSClientConfig.KeyFile)
		assert.Equal(t, "/etc/pki/ca.crt", cfg.TLSClientConfig.CAFile)
		assert.False(t, cfg.TLSClientConfig.Insecure)
	})

	t.Run("supports basic auth", func(t *testing.T) {
		cfg, err := k8s.NewRestConfig(types.Connection{
			Host:     "https://cluster.example:6443",
			Username: "admin",
			Password: "hunter2",
		})
		require.NoError(t, err)

		assert.Equal(t, "admin", cfg.Username)
		assert.Equal(t, "hunter2", cfg.Password)
	})

	t.Run("disables verification only without a ca bundle", func(t *testing.T) {
		cfg, err := k8s.NewRestConfig(types.Connection{
			Host:          "https://cluster.example:6443",
			ValidateCerts: ptr.To(false),
		})
		require.NoError(t, err)
		assert.True(t, cfg.TLSClientConfig.Insecure)

		cfg, err = k8s.NewRestConfig(types.Connection{
			Host:          "https://cluster.example:6443",
			ValidateCerts: ptr.To(false),
			CACert:        "/etc/pki/ca.crt",
		})
		require.NoError(t, err)
		assert.False(t, cfg.TLSClientConfig.Insecure)
	})
}

func TestNewRestConfig_Kubeconfig(t *testing.T) {
	t.Run("loads the current context", func(t *testing.T) {
		cfg, err := k8s.NewRestConfig(types.Connection{Kubeconfig: writeKubeconfig(t)})
		require.NoError(t, err)

		assert.Equal(t, "https://one.example:6443", cfg.Host)
		assert.Equal(t, "sekret", cfg.BearerToken)
	})

	t.Run("honors the context override", func(t *testing.T) {
		cfg, err := k8s.NewRestConfig(types.Connection{
			Kubeconfig: writeKubeconfig(t),
			Context:    "two",
		})
		require.NoError(t, err)

		assert.Equal(t, "https://two.example:6443", cfg.Host)
	})

	t.Run("rejects an unreadable kubeconfig", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "kubeconfig")
		require.NoError(t, os.WriteFile(path, []byte("not a kubeconfig"), 0o600))

		_, err := k8s.NewRestConfig(types.Connection{Kubeconfig: path})
		require.Error(t, err)
		assert.ErrorIs(t, err, k8s.ErrBuildRestConfig)
	})

	t.Run("rejects a missing kubeconfig", func(t *testing.T) {
		_, err := k8s.NewRestConfig(types.Connection{Kubeconfig: "/non/existent/kubeconfig"})
		require.Error(t, err)
		assert.ErrorIs(t, err, k8s.ErrBuildRestConfig)
	})
}

// The in-cluster sentinel must fail outside a pod; there is no service
// account to load in the test environment.
func TestNewRestConfig_InCluster(t *testing.T) {
	_, err := k8s.NewRestConfig(types.Connection{Kubeconfig: k8s.InClusterConfig})
	require.Error(t, err)
	assert.ErrorIs(t, err, k8s.ErrBuildRestConfig)
}

func TestNewClient(t *testing.T) {
	t.Run("succeeds without contacting the server", func(t *testing.T) {
		cl, err := k8s.NewClient(&rest.Config{Host: "https://localhost:6443"})
		require.NoError(t, err)
		assert.NotNil(t, cl)
	})

	t.Run("fails with a nil config", func(t *testing.T) {
		_, err := k8s.NewClient(nil)
		assert.Error(t, err)
	})
}

func TestNewConnectionClients(t *testing.T) {
	t.Run("wires all adapters", func(t *testing.T) {
		clients, err := k8s.NewConnectionClients(types.Connection{
			Host: "https://localhost:6443",
		})
		require.NoError(t, err)

		assert.NotNil(t, clients.VirtualMachine)
		assert.NotNil(t, clients.VirtualMachineInstance)
		assert.NotNil(t, clients.Namespace)
		assert.Equal(t, "https://localhost:6443", clients.Host)
	})

	t.Run("rejects a group-less api version", func(t *testing.T) {
		_, err := k8s.NewConnectionClients(types.Connection{
			Host:       "https://localhost:6443",
			APIVersion: "v1",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, k8s.ErrBuildClient)
	})
}
