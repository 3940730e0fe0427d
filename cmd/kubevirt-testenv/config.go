/*
Copyright 2024 The kubernetes.kubevirt authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"errors"
	"fmt"
	"os"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/fakes/clusterfake"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/tlsutil"
)

// Config is used to configure the test environment.
type Config struct {
	// APIServer is the configuration for the fake cluster API server.
	APIServer struct {
		// Port is the port for the cluster API server.
		Port int `json:"port"`
		// Username and Password guard the cluster API with basic auth when
		// both are set.
		Username string `json:"username"`
		Password string `json:"password"`
		// TLS serves the cluster API over HTTPS when enabled. Connections
		// then need ca_cert or validate_certs: false, and client_cert plus
		// client_key when clientAuth is "require".
		TLS tlsutil.Config `json:"tls"`
	} `json:"apiServer"`

	// MetricsServer is the configuration for the metrics server.
	MetricsServer struct {
		// Path is the path for the metrics server.
		Path string `json:"path"`
		// Port is the port for the metrics server.
		Port int `json:"port"`
	} `json:"metricsServer"`

	// ProbesServer is the configuration for the probes server.
	ProbesServer struct {
		// LivenessPath is the path for the liveness probe.
		LivenessPath string `json:"livenessPath"`
		// ReadinessPath is the path for the readiness probe.
		ReadinessPath string `json:"readinessPath"`
		// Port is the port for the probes server.
		Port int `json:"port"`
	} `json:"probesServer"`

	// Namespaces are registered in the store at startup.
	Namespaces []string `json:"namespaces"`

	// FixturesPath points at a YAML file holding an items list of
	// VirtualMachine and VirtualMachineInstance documents, seeded into the
	// store at startup.
	FixturesPath string `json:"fixturesPath"`
}

// NewDefaultConfig returns the configuration used when no file is given.
func NewDefaultConfig() *Config {
	config := new(Config)

	config.APIServer.Port = 8443
	config.MetricsServer.Path = "/metrics"
	config.MetricsServer.Port = 8080
	config.ProbesServer.LivenessPath = "/healthz"
	config.ProbesServer.ReadinessPath = "/readyz"
	config.ProbesServer.Port = 8081
	config.Namespaces = []string{"default"}

	return config
}

// LoadConfig reads the YAML or JSON configuration file at path, layered over
// the defaults. An empty path returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	config := NewDefaultConfig()
	if path == "" {
		return config, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFixtures reads the fixtures file at path and returns the objects to
// seed. The file holds a single document with an items list, the shape
// `kubectl get -o yaml` produces. An empty path returns no objects.
func LoadFixtures(path string) ([]*unstructured.Unstructured, error) {
	if path == "" {
		return nil, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures file: %w", err)
	}

	var list struct {
		Items []map[string]interface{} `json:"items"`
	}

	if err := yaml.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("parsing fixtures file: %w", err)
	}

	objs := make([]*unstructured.Unstructured, 0, len(list.Items))

	for i, item := range list.Items {
		obj := &unstructured.Unstructured{Object: item}
		if !clusterfake.SupportedKind(obj.GetKind()) {
			return nil, fmt.Errorf("fixtures file: item %d has unsupported kind %q", i, obj.GetKind())
		}

		objs = append(objs, obj)
	}

	return objs, nil
}

// Validate checks the configuration for impossible values.
func (c *Config) Validate() error {
	var errs []error

	if c.APIServer.Port <= 0 {
		errs = append(errs, errors.New("apiServer.port must be positive"))
	}

	if c.MetricsServer.Port <= 0 {
		errs = append(errs, errors.New("metricsServer.port must be positive"))
	}

	if c.ProbesServer.Port <= 0 {
		errs = append(errs, errors.New("probesServer.port must be positive"))
	}

	if (c.APIServer.Username == "") != (c.APIServer.Password == "") {
		errs = append(errs, errors.New("apiServer.username and apiServer.password are required together"))
	}

	if c.APIServer.TLS.Enabled {
		if c.APIServer.TLS.CertPath == "" || c.APIServer.TLS.KeyPath == "" {
			errs = append(errs, errors.New("apiServer.tls requires certPath and keyPath"))
		}
	}

	return errors.Join(errs...)
}
