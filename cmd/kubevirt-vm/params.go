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
	"io"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
)

var errLoadParams = errors.New("loading parameters")

// Params is the task argument document. It is accepted as YAML or JSON;
// unknown keys are rejected so that typos fail loudly instead of silently
// converging to the wrong state.
type Params struct {
	// Connection
	Kubeconfig    string `json:"kubeconfig,omitempty"`
	Context       string `json:"context,omitempty"`
	Host          string `json:"host,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	ClientCert    string `json:"client_cert,omitempty"`
	ClientKey     string `json:"client_key,omitempty"`
	CACert        string `json:"ca_cert,omitempty"`
	ValidateCerts *bool  `json:"validate_certs,omitempty"`

	// Identity and desired state
	State        string            `json:"state,omitempty"`
	APIVersion   string            `json:"api_version,omitempty"`
	Name         string            `json:"name,omitempty"`
	GenerateName string            `json:"generate_name,omitempty"`
	Namespace    string            `json:"namespace,omitempty"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`

	Running         *bool                 `json:"running,omitempty"`
	Instancetype    string                `json:"instancetype,omitempty"`
	Preference      string                `json:"preference,omitempty"`
	InferFromVolume types.InferFromVolume `json:"infer_from_volume,omitempty"`

	Interfaces []types.Document `json:"interfaces,omitempty"`
	Networks   []types.Document `json:"networks,omitempty"`
	Volumes    []types.Document `json:"volumes,omitempty"`

	// Spec carries arbitrary additional VirtualMachine spec fields.
	Spec types.Document `json:"spec,omitempty"`

	// Wait behaviour, in seconds.
	Wait        bool `json:"wait,omitempty"`
	WaitSleep   int  `json:"wait_sleep,omitempty"`
	WaitTimeout int  `json:"wait_timeout,omitempty"`
}

// LoadParams reads the argument document from the given path. An empty path
// or "-" selects stdin.
func LoadParams(path string, stdin io.Reader) (*Params, error) {
	var (
		raw []byte
		err error
	)

	if path == "" || path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, errors.Join(err, errLoadParams)
	}

	params := new(Params)
	if err := yaml.UnmarshalStrict(raw, params); err != nil {
		return nil, errors.Join(err, errLoadParams)
	}

	return params, nil
}

// Connection maps the connection parameters.
func (p *Params) Connection() types.Connection {
	return types.Connection{
		Kubeconfig:    p.Kubeconfig,
		Context:       p.Context,
		Host:          p.Host,
		APIKey:        p.APIKey,
		Username:      p.Username,
		Password:      p.Password,
		ClientCert:    p.ClientCert,
		ClientKey:     p.ClientKey,
		CACert:        p.CACert,
		ValidateCerts: p.ValidateCerts,
	}
}

// Desired maps the desired state parameters.
func (p *Params) Desired() types.VirtualMachineSpec {
	return types.VirtualMachineSpec{
		APIVersion:      p.APIVersion,
		Name:            p.Name,
		GenerateName:    p.GenerateName,
		Namespace:       p.Namespace,
		Annotations:     p.Annotations,
		Labels:          p.Labels,
		Instancetype:    p.Instancetype,
		Preference:      p.Preference,
		InferFromVolume: p.InferFromVolume,
		Running:         p.Running,
		Interfaces:      p.Interfaces,
		Networks:        p.Networks,
		Volumes:         p.Volumes,
		Spec:            p.Spec,
	}
}

// Options maps the pass options. The state token is validated here so a bad
// one fails before any client is built.
func (p *Params) Options(checkMode bool) (types.ReconcileOptions, error) {
	state, err := types.ParseState(p.State)
	if err != nil {
		return types.ReconcileOptions{}, fmt.Errorf("parameter state: %w", err)
	}

	return types.ReconcileOptions{
		State:       state,
		Wait:        p.Wait,
		WaitSleep:   time.Duration(p.WaitSleep) * time.Second,
		WaitTimeout: time.Duration(p.WaitTimeout) * time.Second,
		CheckMode:   checkMode,
	}.WithDefaults(), nil
}
