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

package types

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/guidograzioli/kubernetes.kubevirt.old/pkg/kubevirt"
)

// -------------------------------------------------- STATE --------------------------------------------------------- //

// State selects the desired presence of a VirtualMachine.
type State string

const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
)

var ErrParseState = errors.New("parsing state")

// ParseState validates a state token. An empty token defaults to present.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "":
		return StatePresent, nil
	case StatePresent, StateAbsent:
		return State(s), nil
	default:
		return "", errors.Join(
			fmt.Errorf("state must be %q or %q, got %q", StatePresent, StateAbsent, s),
			ErrParseState,
		)
	}
}

// -------------------------------------------------- DESIRED STATE ------------------------------------------------- //

var ErrValidateVirtualMachineSpec = errors.New("validating virtual machine spec")

// InferFromVolume names the volumes an instancetype or preference should be
// inferred from.
type InferFromVolume struct {
	Instancetype string `json:"instancetype,omitempty"`
	Preference   string `json:"preference,omitempty"`
}

// VirtualMachineSpec is the desired state of a single VirtualMachine. Name
// plus Namespace is the cluster-unique identity; GenerateName delegates
// naming to the server and can therefore only ever create.
type VirtualMachineSpec struct {
	// APIVersion overrides the kubevirt.io/v1 default.
	APIVersion   string
	Name         string
	GenerateName string
	Namespace    string
	Annotations  map[string]string
	Labels       map[string]string

	Instancetype    string
	Preference      string
	InferFromVolume InferFromVolume

	// Running defaults to true, matching the manifest the module has always
	// produced.
	Running *bool

	Interfaces []Document
	Networks   []Document
	Volumes    []Document

	// Spec carries arbitrary additional VirtualMachine spec fields. Its
	// entries replace rendered top-level spec keys wholesale.
	Spec Document
}

// Validate checks the argument invariants for the given target state.
func (s VirtualMachineSpec) Validate(state State) error {
	var errs []error

	if s.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}

	if s.Name == "" && s.GenerateName == "" {
		errs = append(errs, errors.New("one of name or generate_name is required"))
	}

	if s.Name != "" && s.GenerateName != "" {
		errs = append(errs, errors.New("name and generate_name are mutually exclusive"))
	}

	if state == StateAbsent && s.Name == "" {
		errs = append(errs, errors.New("state=absent requires name"))
	}

	if (len(s.Interfaces) > 0) != (len(s.Networks) > 0) {
		errs = append(errs, errors.New("interfaces and networks are required together"))
	}

	if len(errs) == 0 {
		return nil
	}

	return errors.Join(append(errs, ErrValidateVirtualMachineSpec)...)
}

// Manifest renders the desired VirtualMachine document. Labels and
// annotations propagate to the instance template metadata so they reach the
// VirtualMachineInstance objects created from it.
func (s VirtualMachineSpec) Manifest() (*unstructured.Unstructured, error) {
	apiVersion := s.APIVersion
	if apiVersion == "" {
		apiVersion = kubevirt.GroupVersion.String()
	}

	metadata := map[string]interface{}{"namespace": s.Namespace}
	if s.Name != "" {
		metadata["name"] = s.Name
	}

	if s.GenerateName != "" {
		metadata["generateName"] = s.GenerateName
	}

	if len(s.Annotations) > 0 {
		metadata["annotations"] = toDocument(s.Annotations)
	}

	if len(s.Labels) > 0 {
		metadata["labels"] = toDocument(s.Labels)
	}

	spec := Document{
		"running":  s.running(),
		"template": s.template(),
	}

	if m := matcherDocument(s.Instancetype, s.InferFromVolume.Instancetype); m != nil {
		spec["instancetype"] = m
	}

	if m := matcherDocument(s.Preference, s.InferFromVolume.Preference); m != nil {
		spec["preference"] = m
	}

	// running and runStrategy are mutually exclusive on the server side
	if _, ok := s.Spec["runStrategy"]; ok {
		delete(spec, "running")
	}

	for k, v := range s.Spec {
		spec[k] = v
	}

	obj := Document{
		"apiVersion": apiVersion,
		"kind":       kubevirt.VirtualMachineKind,
		"metadata":   metadata,
		"spec":       spec,
	}

	normalized, err := NormalizeDocument(obj)
	if err != nil {
		return nil, err
	}

	return &unstructured.Unstructured{Object: normalized}, nil
}

func (s VirtualMachineSpec) running() bool {
	if s.Running == nil {
		return true
	}

	return *s.Running
}

func (s VirtualMachineSpec) template() Document {
	devices := Document{}
	if len(s.Interfaces) > 0 {
		devices["interfaces"] = toDocumentSlice(s.Interfaces)
	}

	templateSpec := Document{
		"domain": Document{"devices": devices},
	}

	if len(s.Networks) > 0 {
		templateSpec["networks"] = toDocumentSlice(s.Networks)
	}

	if len(s.Volumes) > 0 {
		templateSpec["volumes"] = toDocumentSlice(s.Volumes)
	}

	template := Document{"spec": templateSpec}

	templateMeta := Document{}
	if len(s.Annotations) > 0 {
		templateMeta["annotations"] = toDocument(s.Annotations)
	}

	if len(s.Labels) > 0 {
		templateMeta["labels"] = toDocument(s.Labels)
	}

	if len(templateMeta) > 0 {
		template["metadata"] = templateMeta
	}

	return template
}

func matcherDocument(name, inferFromVolume string) Document {
	if name == "" && inferFromVolume == "" {
		return nil
	}

	m := Document{}
	if name != "" {
		m["name"] = name
	}

	if inferFromVolume != "" {
		m["inferFromVolume"] = inferFromVolume
	}

	return m
}

func toDocument(m map[string]string) Document {
	out := Document{}
	for k, v := range m {
		out[k] = v
	}

	return out
}

func toDocumentSlice(docs []Document) []interface{} {
	out := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		out = append(out, map[string]interface{}(doc))
	}

	return out
}

// -------------------------------------------------- RESULT -------------------------------------------------------- //

const (
	MethodCreate = "create"
	MethodPatch  = "patch"
	MethodDelete = "delete"
)

// ReconcileResult reports the outcome of one convergence pass. Changed is
// true only when a mutation was actually issued and accepted by the server.
type ReconcileResult struct {
	Changed bool
	// Method is the API verb executed: create, patch or delete. Empty when
	// the cluster already matched the desired state.
	Method string
	// Object is the resulting VirtualMachine. Nil after a deletion.
	Object *unstructured.Unstructured
	// Duration is the time spent waiting for readiness or disappearance.
	// Only set when waiting was requested.
	Duration time.Duration
}

// -------------------------------------------------- OPTIONS ------------------------------------------------------- //

const (
	DefaultWaitSleep   = 5 * time.Second
	DefaultWaitTimeout = 120 * time.Second
)

// ReconcileOptions control a single convergence pass.
type ReconcileOptions struct {
	State State
	// Wait blocks until the VirtualMachine reports the Ready condition
	// (state=present) or is gone (state=absent).
	Wait        bool
	WaitSleep   time.Duration
	WaitTimeout time.Duration
	// CheckMode computes the result without issuing any mutation.
	CheckMode bool
}

// WithDefaults fills in the default state and wait intervals.
func (o ReconcileOptions) WithDefaults() ReconcileOptions {
	if o.State == "" {
		o.State = StatePresent
	}

	if o.WaitSleep <= 0 {
		o.WaitSleep = DefaultWaitSleep
	}

	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}

	return o
}
