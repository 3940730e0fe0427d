package kind

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	ErrClusterNameRequired = errors.New("cluster name is required")
	ErrCreateCluster       = errors.New("failed to create KIND cluster")
	ErrDeleteCluster       = errors.New("failed to delete KIND cluster")
	ErrCheckCluster        = errors.New("failed to check if cluster exists")
	ErrGetKubeconfig       = errors.New("failed to get kubeconfig")
	ErrKindNotInstalled    = errors.New("kind command not found - please install KIND")
)

// ClusterConfig contains KIND cluster configuration
type ClusterConfig struct {
	Name       string // Cluster name
	Kubeconfig string // Path to save kubeconfig
	Image      string // Optional KIND node image (e.g., "kindest/node:v1.30.0")
	ConfigFile string // Optional KIND config file path
}

// CreateCluster creates a KIND cluster.
// Idempotent - reuses an existing cluster of the same name.
func CreateCluster(config ClusterConfig) error {
	if config.Name == "" {
		return ErrClusterNameRequired
	}

	if _, err := exec.LookPath("kind"); err != nil {
		return ErrKindNotInstalled
	}

	exists, err := ClusterExists(config.Name)
	if err != nil {
		return err
	}
	if exists {
		// Cluster already exists, just export kubeconfig if path provided
		if config.Kubeconfig != "" {
			return exportKubeconfig(config.Name, config.Kubeconfig)
		}
		return nil
	}

	args := []string{"create", "cluster", "--name", config.Name}

	if config.Image != "" {
		args = append(args, "--image", config.Image)
	}

	if config.ConfigFile != "" {
		args = append(args, "--config", config.ConfigFile)
	}

	if config.Kubeconfig != "" {
		args = append(args, "--kubeconfig", config.Kubeconfig)
	}

	cmd := exec.Command("kind", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrCreateCluster, err)
	}

	if config.Kubeconfig != "" {
		return exportKubeconfig(config.Name, config.Kubeconfig)
	}

	return nil
}

// DeleteCluster deletes a KIND cluster.
// Idempotent - returns nil if cluster doesn't exist.
func DeleteCluster(name string) error {
	if name == "" {
		return ErrClusterNameRequired
	}

	if _, err := exec.LookPath("kind"); err != nil {
		return ErrKindNotInstalled
	}

	exists, err := ClusterExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	cmd := exec.Command("kind", "delete", "cluster", "--name", name)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %v, output: %s", ErrDeleteCluster, err, string(output))
	}

	return nil
}

// ClusterExists checks if a KIND cluster exists
func ClusterExists(name string) (bool, error) {
	if name == "" {
		return false, ErrClusterNameRequired
	}

	if _, err := exec.LookPath("kind"); err != nil {
		return false, ErrKindNotInstalled
	}

	cmd := exec.Command("kind", "get", "clusters")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCheckCluster, err)
	}

	clusters := strings.Split(strings.TrimSpace(string(output)), "\n")
	for _, cluster := range clusters {
		if strings.TrimSpace(cluster) == name {
			return true, nil
		}
	}

	return false, nil
}

// GetKubeconfig gets the kubeconfig for a cluster
func GetKubeconfig(name string) (string, error) {
	if name == "" {
		return "", ErrClusterNameRequired
	}

	if _, err := exec.LookPath("kind"); err != nil {
		return "", ErrKindNotInstalled
	}

	cmd := exec.Command("kind", "get", "kubeconfig", "--name", name)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGetKubeconfig, err)
	}

	return string(output), nil
}

// exportKubeconfig exports kubeconfig to a file
func exportKubeconfig(name, path string) error {
	kubeconfig, err := GetKubeconfig(name)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(kubeconfig), 0600); err != nil {
		return fmt.Errorf("failed to write kubeconfig: %v", err)
	}

	return nil
}

// IsKindInstalled checks if KIND is installed
func IsKindInstalled() bool {
	_, err := exec.LookPath("kind")
	return err == nil
}
