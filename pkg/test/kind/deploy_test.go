//go:build unit

package kind_test

import (
	"testing"

	"github.com/guidograzioli/kubernetes.kubevirt.old/pkg/test/kind"
	"github.com/stretchr/testify/require"
)

func TestDeployKubeVirtToKIND_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  kind.KubeVirtConfig
		wantErr error
	}{
		{
			name: "missing kubeconfig",
			config: kind.KubeVirtConfig{
				Kubeconfig: "",
				Version:    "v1.3.1",
			},
			wantErr: kind.ErrKubeconfigRequired,
		},
		{
			name: "missing version",
			config: kind.KubeVirtConfig{
				Kubeconfig: "/tmp/kubeconfig",
				Version:    "",
			},
			wantErr: kind.ErrVersionRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := kind.DeployKubeVirtToKIND(tt.config)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWaitForPodsReady_Validation(t *testing.T) {
	err := kind.WaitForPodsReady("", "default", 0)
	require.ErrorIs(t, err, kind.ErrKubeconfigRequired)

	err = kind.WaitForPodsReady("/tmp/kubeconfig", "", 0)
	require.ErrorIs(t, err, kind.ErrNamespaceRequired)
}

func TestExposeVirtualMachineSSH_Validation(t *testing.T) {
	err := kind.ExposeVirtualMachineSSH("", "default", "vm-cirros")
	require.ErrorIs(t, err, kind.ErrKubeconfigRequired)

	err = kind.ExposeVirtualMachineSSH("/tmp/kubeconfig", "", "vm-cirros")
	require.ErrorIs(t, err, kind.ErrNamespaceRequired)
}

func TestIsKubectlInstalled(t *testing.T) {
	// This test just verifies the function works
	// Result depends on environment
	installed := kind.IsKubectlInstalled()
	t.Logf("kubectl installed: %v", installed)
}

func TestApplyManifest_FileNotFound(t *testing.T) {
	err := kind.ApplyManifest("/tmp/kubeconfig", "default", "/nonexistent/file.yaml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}
