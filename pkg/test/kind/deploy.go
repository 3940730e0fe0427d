package kind

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

var (
	ErrKubeconfigRequired  = errors.New("kubeconfig path is required")
	ErrNamespaceRequired   = errors.New("namespace is required")
	ErrVersionRequired     = errors.New("kubevirt version is required")
	ErrApplyManifest       = errors.New("failed to apply manifest")
	ErrWaitForReady        = errors.New("timeout waiting for resources to be ready")
	ErrKubectlNotInstalled = errors.New("kubectl command not found - please install kubectl")
	ErrCheckPodStatus      = errors.New("failed to check pod status")
)

const (
	kubevirtReleaseURL = "https://github.com/kubevirt/kubevirt/releases/download/%s/%s"
	cdiReleaseURL      = "https://github.com/kubevirt/containerized-data-importer/releases/download/%s/%s"

	defaultDeployTimeout = 10 * time.Minute
)

// KubeVirtConfig contains KubeVirt deployment configuration
type KubeVirtConfig struct {
	Kubeconfig   string        // Path to kubeconfig file
	Version      string        // KubeVirt release tag (e.g., "v1.3.1")
	CDIVersion   string        // Optional CDI release tag; CDI is skipped when empty
	UseEmulation bool          // Enable software emulation (KIND nodes have no nested virt)
	WaitTimeout  time.Duration // Timeout for waiting for the operators to report Available
}

// DeployKubeVirtToKIND installs the KubeVirt operator and custom resource on
// the cluster and waits for the kubevirt CR to report Available. CDI is
// installed alongside when CDIVersion is set.
func DeployKubeVirtToKIND(config KubeVirtConfig) error {
	if config.Kubeconfig == "" {
		return ErrKubeconfigRequired
	}
	if config.Version == "" {
		return ErrVersionRequired
	}

	if !IsKubectlInstalled() {
		return ErrKubectlNotInstalled
	}

	timeout := config.WaitTimeout
	if timeout == 0 {
		timeout = defaultDeployTimeout
	}

	operatorURL := fmt.Sprintf(kubevirtReleaseURL, config.Version, "kubevirt-operator.yaml")
	if err := applyURL(config.Kubeconfig, operatorURL); err != nil {
		return err
	}

	crURL := fmt.Sprintf(kubevirtReleaseURL, config.Version, "kubevirt-cr.yaml")
	if err := applyURL(config.Kubeconfig, crURL); err != nil {
		return err
	}

	if config.UseEmulation {
		if err := enableEmulation(config.Kubeconfig); err != nil {
			return err
		}
	}

	if err := waitForCondition(config.Kubeconfig, "kubevirt", "kv/kubevirt", "Available", timeout); err != nil {
		return err
	}

	if config.CDIVersion != "" {
		cdiOperatorURL := fmt.Sprintf(cdiReleaseURL, config.CDIVersion, "cdi-operator.yaml")
		if err := applyURL(config.Kubeconfig, cdiOperatorURL); err != nil {
			return err
		}

		cdiCRURL := fmt.Sprintf(cdiReleaseURL, config.CDIVersion, "cdi-cr.yaml")
		if err := applyURL(config.Kubeconfig, cdiCRURL); err != nil {
			return err
		}

		if err := waitForCondition(config.Kubeconfig, "", "cdi/cdi", "Available", timeout); err != nil {
			return err
		}
	}

	return nil
}

// enableEmulation patches the kubevirt CR so virt-launcher falls back to
// software emulation, which KIND nodes need.
func enableEmulation(kubeconfig string) error {
	patch := `{"spec":{"configuration":{"developerConfiguration":{"useEmulation":true}}}}`

	cmd := exec.Command("kubectl", "--kubeconfig", kubeconfig,
		"-n", "kubevirt",
		"patch", "kubevirt", "kubevirt",
		"--type", "merge", "-p", patch,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to enable emulation: %v, output: %s", err, string(output))
	}

	return nil
}

// waitForCondition waits for a resource to report the given condition true.
func waitForCondition(kubeconfig, namespace, resource, condition string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	args := []string{"--kubeconfig", kubeconfig}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	args = append(args,
		"wait", resource,
		"--for=condition="+condition,
		"--timeout", timeout.String(),
	)

	cmd := exec.CommandContext(ctx, "kubectl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %v", ErrWaitForReady, ctx.Err())
		}
		return fmt.Errorf("%w: %v, output: %s", ErrWaitForReady, err, string(output))
	}

	return nil
}

// WaitForPodsReady waits for every pod in a namespace to be ready.
func WaitForPodsReady(kubeconfig, namespace string, timeout time.Duration) error {
	if kubeconfig == "" {
		return ErrKubeconfigRequired
	}
	if namespace == "" {
		return ErrNamespaceRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx,
		"kubectl", "--kubeconfig", kubeconfig,
		"-n", namespace,
		"wait", "--for=condition=ready",
		"pod", "--all",
		"--timeout", timeout.String(),
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %v", ErrWaitForReady, ctx.Err())
		}
		return fmt.Errorf("%w: %v, output: %s", ErrWaitForReady, err, string(output))
	}

	return nil
}

// ApplyManifest applies a Kubernetes manifest file
func ApplyManifest(kubeconfig, namespace, manifestPath string) error {
	return applyManifest(kubeconfig, namespace, manifestPath)
}

// applyManifest is the internal implementation
func applyManifest(kubeconfig, namespace, manifestPath string) error {
	if kubeconfig == "" {
		return ErrKubeconfigRequired
	}

	if _, err := os.Stat(manifestPath); err != nil {
		return fmt.Errorf("manifest path does not exist: %s: %v", manifestPath, err)
	}

	args := []string{"--kubeconfig", kubeconfig, "apply", "-f", manifestPath}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}

	cmd := exec.Command("kubectl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %v, output: %s", ErrApplyManifest, manifestPath, err, string(output))
	}

	return nil
}

// applyURL applies a manifest straight from a release URL.
func applyURL(kubeconfig, url string) error {
	if kubeconfig == "" {
		return ErrKubeconfigRequired
	}

	cmd := exec.Command("kubectl", "--kubeconfig", kubeconfig, "apply", "-f", url)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %v, output: %s", ErrApplyManifest, url, err, string(output))
	}

	return nil
}

// CreateNamespace creates a Kubernetes namespace if it doesn't exist
func CreateNamespace(kubeconfig, namespace string) error {
	cmd := exec.Command("kubectl", "--kubeconfig", kubeconfig, "get", "namespace", namespace)
	if err := cmd.Run(); err == nil {
		return nil
	}

	cmd = exec.Command("kubectl", "--kubeconfig", kubeconfig, "create", "namespace", namespace)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to create namespace: %v, output: %s", err, string(output))
	}

	return nil
}

// IsKubectlInstalled checks if kubectl is installed
func IsKubectlInstalled() bool {
	_, err := exec.LookPath("kubectl")
	return err == nil
}

// GetPodStatus gets the status of pods in a namespace
func GetPodStatus(kubeconfig, namespace string) (string, error) {
	if kubeconfig == "" {
		return "", ErrKubeconfigRequired
	}
	if namespace == "" {
		return "", ErrNamespaceRequired
	}

	cmd := exec.Command("kubectl", "--kubeconfig", kubeconfig, "-n", namespace, "get", "pods")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCheckPodStatus, err)
	}

	return string(output), nil
}

// ExposeVirtualMachineSSH creates a ClusterIP service targeting the named
// virtual machine's SSH port through the kubevirt.io/domain label the
// virt-launcher pod carries.
func ExposeVirtualMachineSSH(kubeconfig, namespace, vmName string) error {
	if kubeconfig == "" {
		return ErrKubeconfigRequired
	}
	if namespace == "" {
		return ErrNamespaceRequired
	}

	serviceYAML := fmt.Sprintf(`apiVersion: v1
kind: Service
metadata:
  name: %s-ssh
spec:
  selector:
    kubevirt.io/domain: %s
  ports:
    - name: ssh
      port: 22
      targetPort: 22
`, vmName, vmName)

	tempFile := filepath.Join(os.TempDir(), fmt.Sprintf("service-%s-ssh.yaml", vmName))
	if err := os.WriteFile(tempFile, []byte(serviceYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write service YAML: %v", err)
	}
	defer func() { _ = os.Remove(tempFile) }()

	return applyManifest(kubeconfig, namespace, tempFile)
}

// DeleteManifest deletes resources from a manifest file
func DeleteManifest(kubeconfig, namespace, manifestPath string) error {
	if kubeconfig == "" {
		return ErrKubeconfigRequired
	}

	if _, err := os.Stat(manifestPath); err != nil {
		// File doesn't exist, nothing to delete
		return nil
	}

	args := []string{"--kubeconfig", kubeconfig, "delete", "-f", manifestPath, "--ignore-not-found"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}

	cmd := exec.Command("kubectl", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to delete manifest: %v, output: %s", err, string(output))
	}

	return nil
}

// PortForwardService sets up port forwarding for a service.
// Returns a cleanup function that should be called to stop port forwarding.
func PortForwardService(kubeconfig, namespace, serviceName, localPort, remotePort string) (cleanup func(), err error) {
	if kubeconfig == "" {
		return nil, ErrKubeconfigRequired
	}
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}

	portForward := fmt.Sprintf("%s:%s", localPort, remotePort)
	cmd := exec.Command("kubectl", "--kubeconfig", kubeconfig,
		"-n", namespace, "port-forward", "service/"+serviceName, portForward)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start port forwarding: %v", err)
	}

	// Wait a bit for port forwarding to establish
	time.Sleep(2 * time.Second)

	cleanup = func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	}

	return cleanup, nil
}
