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

// Package k8s resolves connection parameters into Kubernetes clients.
package k8s

import (
	"errors"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/adapter"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/controller"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
)

// InClusterConfig is the kubeconfig value selecting the service account
// mounted into the pod.
const InClusterConfig = "in-cluster"

var (
	ErrBuildRestConfig = errors.New("building kubernetes rest config")
	ErrBuildClient     = errors.New("building kubernetes client")
)

// NewRestConfig resolves a client configuration from connection parameters.
// A connection with an explicit host is built from its own fields alone;
// otherwise the kubeconfig path, the in-cluster service account or the
// ambient loading rules (KUBECONFIG, ~/.kube/config) apply, in that order.
func NewRestConfig(conn types.Connection) (*rest.Config, error) {
	if conn.Host != "" {
		return explicitRestConfig(conn), nil
	}

	if conn.Kubeconfig == InClusterConfig {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, errors.Join(err, ErrBuildRestConfig)
		}

		return cfg, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if conn.Kubeconfig != "" {
		rules.ExplicitPath = conn.Kubeconfig
	}

	overrides := &clientcmd.ConfigOverrides{CurrentContext: conn.Context}

	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, errors.Join(err, ErrBuildRestConfig)
	}

	return cfg, nil
}

func explicitRestConfig(conn types.Connection) *rest.Config {
	cfg := &rest.Config{
		Host:        conn.Host,
		BearerToken: conn.APIKey,
		Username:    conn.Username,
		Password:    conn.Password,
		TLSClientConfig: rest.TLSClientConfig{
			CertFile: conn.ClientCert,
			KeyFile:  conn.ClientKey,
			CAFile:   conn.CACert,
		},
	}

	// client-go refuses Insecure together with a CA bundle.
	if conn.ValidateCerts != nil && !*conn.ValidateCerts && conn.CACert == "" {
		cfg.TLSClientConfig.Insecure = true
	}

	return cfg
}

// NewClient creates a controller-runtime client. Only core types need scheme
// registration; the kubevirt kinds travel as unstructured documents.
func NewClient(restConfig *rest.Config) (client.Client, error) { //nolint:ireturn
	scheme := runtime.NewScheme()

	if err := corev1.AddToScheme(scheme); err != nil {
		return nil, errors.Join(err, ErrBuildClient)
	}

	cl, err := client.New(restConfig, client.Options{Scheme: scheme}) //nolint:exhaustruct
	if err != nil {
		return nil, errors.Join(err, ErrBuildClient)
	}

	return cl, nil
}

// NewConnectionClients resolves a connection into live cluster adapters. It
// satisfies controller.ClientFactory.
func NewConnectionClients(conn types.Connection) (controller.ConnectionClients, error) {
	restConfig, err := NewRestConfig(conn)
	if err != nil {
		return controller.ConnectionClients{}, err
	}

	cl, err := NewClient(restConfig)
	if err != nil {
		return controller.ConnectionClients{}, err
	}

	vm, err := adapter.NewVirtualMachine(cl, conn.APIVersion)
	if err != nil {
		return controller.ConnectionClients{}, errors.Join(err, ErrBuildClient)
	}

	vmi, err := adapter.NewVirtualMachineInstance(cl, conn.APIVersion)
	if err != nil {
		return controller.ConnectionClients{}, errors.Join(err, ErrBuildClient)
	}

	return controller.ConnectionClients{
		VirtualMachine:         vm,
		VirtualMachineInstance: vmi,
		Namespace:              adapter.NewNamespace(cl),
		Host:                   restConfig.Host,
	}, nil
}
