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

package adapter

import (
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/guidograzioli/kubernetes.kubevirt.old/pkg/kubevirt"
)

// NewVirtualMachine returns the Resource bound to the VirtualMachine kind of
// the given apiVersion. An empty apiVersion selects kubevirt.io/v1.
func NewVirtualMachine(c client.Client, apiVersion string) (Resource, error) {
	gvk, err := kubevirt.VirtualMachineGVK(apiVersion)
	if err != nil {
		return nil, err
	}

	return NewResource(c, gvk), nil
}

// NewVirtualMachineInstance returns the Resource bound to the
// VirtualMachineInstance kind of the given apiVersion.
func NewVirtualMachineInstance(c client.Client, apiVersion string) (Resource, error) {
	gvk, err := kubevirt.VirtualMachineInstanceGVK(apiVersion)
	if err != nil {
		return nil, err
	}

	return NewResource(c, gvk), nil
}
