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

// Package kubevirt defines the kubevirt.io group/version coordinates and the
// readers used to interpret VirtualMachine and VirtualMachineInstance
// documents without a typed client scheme.
package kubevirt

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	Group   = "kubevirt.io"
	Version = "v1"

	VirtualMachineKind         = "VirtualMachine"
	VirtualMachineInstanceKind = "VirtualMachineInstance"

	ConditionReady      = "Ready"
	ConditionStatusTrue = "True"
)

var (
	GroupVersion = schema.GroupVersion{Group: Group, Version: Version}

	ErrParseAPIVersion = errors.New("parsing kubevirt api version")
)

// ParseGroupVersion parses an apiVersion override such as "kubevirt.io/v1".
// An empty string selects the default GroupVersion.
func ParseGroupVersion(apiVersion string) (schema.GroupVersion, error) {
	if apiVersion == "" {
		return GroupVersion, nil
	}

	gv, err := schema.ParseGroupVersion(apiVersion)
	if err != nil {
		return schema.GroupVersion{}, errors.Join(err, ErrParseAPIVersion)
	}

	if gv.Group == "" {
		return schema.GroupVersion{}, errors.Join(
			fmt.Errorf("apiVersion %q has no group", apiVersion),
			ErrParseAPIVersion,
		)
	}

	return gv, nil
}

// VirtualMachineGVK returns the VirtualMachine kind coordinates for the given
// apiVersion override, defaulting to kubevirt.io/v1.
func VirtualMachineGVK(apiVersion string) (schema.GroupVersionKind, error) {
	gv, err := ParseGroupVersion(apiVersion)
	if err != nil {
		return schema.GroupVersionKind{}, err
	}

	return gv.WithKind(VirtualMachineKind), nil
}

// VirtualMachineInstanceGVK returns the VirtualMachineInstance kind
// coordinates for the given apiVersion override.
func VirtualMachineInstanceGVK(apiVersion string) (schema.GroupVersionKind, error) {
	gv, err := ParseGroupVersion(apiVersion)
	if err != nil {
		return schema.GroupVersionKind{}, err
	}

	return gv.WithKind(VirtualMachineInstanceKind), nil
}

// Condition is one entry of an object's status.conditions.
type Condition struct {
	Type    string
	Status  string
	Reason  string
	Message string
}

// Conditions reads status.conditions from an unstructured object. A missing
// or malformed conditions list yields nil.
func Conditions(obj *unstructured.Unstructured) []Condition {
	if obj == nil {
		return nil
	}

	raw, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found {
		return nil
	}

	out := make([]Condition, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		out = append(out, Condition{
			Type:    stringAt(m, "type"),
			Status:  stringAt(m, "status"),
			Reason:  stringAt(m, "reason"),
			Message: stringAt(m, "message"),
		})
	}

	return out
}

// IsReady reports whether the object carries a Ready condition with status
// True.
func IsReady(obj *unstructured.Unstructured) bool {
	for _, cond := range Conditions(obj) {
		if cond.Type == ConditionReady {
			return cond.Status == ConditionStatusTrue
		}
	}

	return false
}

// Interface is one entry of a VirtualMachineInstance's status.interfaces.
type Interface struct {
	// Name is the network the interface is attached to.
	Name          string
	IPAddress     string
	IPAddresses   []string
	MAC           string
	InterfaceName string
	InfoSource    string
}

// Interfaces reads status.interfaces from a VirtualMachineInstance document.
func Interfaces(vmi *unstructured.Unstructured) []Interface {
	if vmi == nil {
		return nil
	}

	raw, found, err := unstructured.NestedSlice(vmi.Object, "status", "interfaces")
	if err != nil || !found {
		return nil
	}

	out := make([]Interface, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		iface := Interface{
			Name:          stringAt(m, "name"),
			IPAddress:     stringAt(m, "ipAddress"),
			MAC:           stringAt(m, "mac"),
			InterfaceName: stringAt(m, "interfaceName"),
			InfoSource:    stringAt(m, "infoSource"),
		}

		if addrs, ok := m["ipAddresses"].([]interface{}); ok {
			for _, addr := range addrs {
				if s, ok := addr.(string); ok {
					iface.IPAddresses = append(iface.IPAddresses, s)
				}
			}
		}

		out = append(out, iface)
	}

	return out
}

// PrimaryAddress returns the address a caller would dial to reach the VMI:
// the interface attached to networkName when set, otherwise the first
// interface reporting an IP. Empty when the VMI reports no usable address.
func PrimaryAddress(vmi *unstructured.Unstructured, networkName string) string {
	for _, iface := range Interfaces(vmi) {
		if networkName != "" {
			if iface.Name == networkName {
				return iface.IPAddress
			}

			continue
		}

		if iface.IPAddress != "" {
			return iface.IPAddress
		}
	}

	return ""
}

// Phase reads status.phase from a VirtualMachineInstance document.
func Phase(vmi *unstructured.Unstructured) string {
	if vmi == nil {
		return ""
	}

	phase, _, _ := unstructured.NestedString(vmi.Object, "status", "phase")

	return phase
}

// NetworkNames lists the network names an object declares, looking at the
// VirtualMachine template networks first and falling back to the
// VirtualMachineInstance spec networks.
func NetworkNames(obj *unstructured.Unstructured) []string {
	if obj == nil {
		return nil
	}

	paths := [][]string{
		{"spec", "template", "spec", "networks"},
		{"spec", "networks"},
	}

	for _, path := range paths {
		raw, found, err := unstructured.NestedSlice(obj.Object, path...)
		if err != nil || !found {
			continue
		}

		out := make([]string, 0, len(raw))
		for _, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}

			if name := stringAt(m, "name"); name != "" {
				out = append(out, name)
			}
		}

		return out
	}

	return nil
}

func stringAt(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)

	return s
}
