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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
)

func writeParamsFile(t *testing.T, doc string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	return path
}

func TestLoadParams(t *testing.T) {
	t.Run("parses a yaml document", func(t *testing.T) {
		path := writeParamsFile(t, `
name: vm-cirros
namespace: default
labels:
  app: test
validate_certs: false
wait: true
wait_timeout: 300
volumes:
  - name: containerdisk
    containerDisk:
      image: quay.io/containerdisks/cirros:latest
`)

		params, err := LoadParams(path, strings.NewReader(""))
		require.NoError(t, err)

		assert.Equal(t, "vm-cirros", params.Name)
		assert.Equal(t, "default", params.Namespace)
		assert.Equal(t, map[string]string{"app": "test"}, params.Labels)
		assert.Equal(t, ptr.To(false), params.ValidateCerts)
		assert.True(t, params.Wait)
		assert.Equal(t, 300, params.WaitTimeout)
		require.Len(t, params.Volumes, 1)
		assert.Equal(t, "containerdisk", params.Volumes[0]["name"])
	})

	t.Run("parses a json document", func(t *testing.T) {
		path := writeParamsFile(t, `{"name": "vm-cirros", "namespace": "default", "spec": {"runStrategy": "Always"}}`)

		params, err := LoadParams(path, strings.NewReader(""))
		require.NoError(t, err)

		assert.Equal(t, "vm-cirros", params.Name)
		assert.Equal(t, "Always", params.Spec["runStrategy"])
	})

	t.Run("reads stdin when no path is given", func(t *testing.T) {
		stdin := strings.NewReader("name: vm-cirros\nnamespace: default\n")

		params, err := LoadParams("", stdin)
		require.NoError(t, err)
		assert.Equal(t, "vm-cirros", params.Name)
	})

	t.Run("reads stdin for the dash path", func(t *testing.T) {
		stdin := strings.NewReader(`{"name": "vm-cirros"}`)

		params, err := LoadParams("-", stdin)
		require.NoError(t, err)
		assert.Equal(t, "vm-cirros", params.Name)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		path := writeParamsFile(t, "nmae: vm-cirros\n")

		_, err := LoadParams(path, strings.NewReader(""))
		require.ErrorIs(t, err, errLoadParams)
		assert.Contains(t, err.Error(), "nmae")
	})

	t.Run("fails on a missing file", func(t *testing.T) {
		_, err := LoadParams(filepath.Join(t.TempDir(), "absent.yaml"), strings.NewReader(""))
		require.ErrorIs(t, err, errLoadParams)
	})
}

func TestParamsConnection(t *testing.T) {
	params := &Params{
		Kubeconfig:    "/etc/kubeconfig",
		Context:       "prod",
		Host:          "https://cluster.example:6443",
		APIKey:        "sekret",
		Username:      "admin",
		Password:      "hunter2",
		ClientCert:    "/etc/tls/cert.pem",
		ClientKey:     "/etc/tls/key.pem",
		CACert:        "/etc/tls/ca.pem",
		ValidateCerts: ptr.To(true),
	}

	assert.Equal(t, types.Connection{
		Kubeconfig:    "/etc/kubeconfig",
		Context:       "prod",
		Host:          "https://cluster.example:6443",
		APIKey:        "sekret",
		Username:      "admin",
		Password:      "hunter2",
		ClientCert:    "/etc/tls/cert.pem",
		ClientKey:     "/etc/tls/key.pem",
		CACert:        "/etc/tls/ca.pem",
		ValidateCerts: ptr.To(true),
	}, params.Connection())
}

func TestParamsDesired(t *testing.T) {
	params := &Params{
		APIVersion:      "kubevirt.io/v1alpha3",
		Name:            "vm-cirros",
		Namespace:       "default",
		Labels:          map[string]string{"app": "test"},
		Running:         ptr.To(false),
		Instancetype:    "u1.medium",
		InferFromVolume: types.InferFromVolume{Preference: "rootdisk"},
		Interfaces:      []types.Document{{"name": "default", "masquerade": types.Document{}}},
		Networks:        []types.Document{{"name": "default", "pod": types.Document{}}},
		Spec:            types.Document{"runStrategy": "Manual"},
	}

	desired := params.Desired()
	assert.Equal(t, "kubevirt.io/v1alpha3", desired.APIVersion)
	assert.Equal(t, "vm-cirros", desired.Name)
	assert.Equal(t, "default", desired.Namespace)
	assert.Equal(t, ptr.To(false), desired.Running)
	assert.Equal(t, "u1.medium", desired.Instancetype)
	assert.Equal(t, "rootdisk", desired.InferFromVolume.Preference)
	assert.Len(t, desired.Interfaces, 1)
	assert.Len(t, desired.Networks, 1)
	assert.Equal(t, "Manual", desired.Spec["runStrategy"])
}

func TestParamsOptions(t *testing.T) {
	t.Run("maps wait settings from seconds", func(t *testing.T) {
		params := &Params{State: "absent", Wait: true, WaitSleep: 10, WaitTimeout: 600}

		opts, err := params.Options(true)
		require.NoError(t, err)

		assert.Equal(t, types.StateAbsent, opts.State)
		assert.True(t, opts.Wait)
		assert.Equal(t, 10*time.Second, opts.WaitSleep)
		assert.Equal(t, 600*time.Second, opts.WaitTimeout)
		assert.True(t, opts.CheckMode)
	})

	t.Run("defaults state and intervals", func(t *testing.T) {
		opts, err := (&Params{}).Options(false)
		require.NoError(t, err)

		assert.Equal(t, types.StatePresent, opts.State)
		assert.Equal(t, types.DefaultWaitSleep, opts.WaitSleep)
		assert.Equal(t, types.DefaultWaitTimeout, opts.WaitTimeout)
		assert.False(t, opts.CheckMode)
	})

	t.Run("rejects unknown states", func(t *testing.T) {
		_, err := (&Params{State: "paused"}).Options(false)
		require.ErrorIs(t, err, types.ErrParseState)
	})
}
