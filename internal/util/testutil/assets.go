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

package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
)

const (
	Namespace = "default"
	VMName    = "vm-cirros"
	NodeName  = "node01"
	VMAddress = "10.244.196.152"
)

// NewScheme returns the runtime scheme fake clients use in tests. Only core
// types need registration; the kubevirt kinds travel as unstructured.
func NewScheme(t *testing.T) *runtime.Scheme {
	t.Helper()

	scheme := runtime.NewScheme()
	require.NoError(t, corev1.AddToScheme(scheme))

	return scheme
}

// NewVirtualMachine returns a VirtualMachine document the way the API server
// would store it after a create.
func NewVirtualMachine(namespace, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "kubevirt.io/v1",
		"kind":       "VirtualMachine",
		"metadata": map[string]interface{}{
			"name":            name,
			"namespace":       namespace,
			"uid":             uuid.NewString(),
			"resourceVersion": "1",
			"labels": map[string]interface{}{
				"kubevirt.io/vm": name,
			},
		},
		"spec": map[string]interface{}{
			"running": true,
			"template": map[string]interface{}{
				"spec": map[string]interface{}{
					"domain": map[string]interface{}{
						"devices": map[string]interface{}{},
					},
				},
			},
		},
	}}
}

// NewVirtualMachineInstance returns a running VirtualMachineInstance with
// one pod network interface carrying VMAddress.
func NewVirtualMachineInstance(namespace, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "kubevirt.io/v1",
		"kind":       "VirtualMachineInstance",
		"metadata": map[string]interface{}{
			"name":            name,
			"namespace":       namespace,
			"uid":             uuid.NewString(),
			"resourceVersion": "1",
			"labels": map[string]interface{}{
				"kubevirt.io/nodeName": NodeName,
				"kubevirt.io/vm":       name,
			},
		},
		"spec": map[string]interface{}{
			"domain": map[string]interface{}{
				"devices": map[string]interface{}{},
			},
			"networks": []interface{}{
				map[string]interface{}{"name": "default", "pod": map[string]interface{}{}},
			},
		},
		"status": map[string]interface{}{
			"phase":    "Running",
			"nodeName": NodeName,
			"interfaces": []interface{}{
				map[string]interface{}{
					"name":          "default",
					"ipAddress":     VMAddress,
					"ipAddresses":   []interface{}{VMAddress},
					"mac":           "52:54:00:a9:f6:10",
					"interfaceName": "eth0",
					"infoSource":    "domain, guest-agent",
				},
			},
			"guestOSInfo": map[string]interface{}{
				"id":            "cirros",
				"prettyName":    "CirrOS",
				"kernelRelease": "5.15",
			},
			"migrationMethod": "BlockMigration",
			"conditions": []interface{}{
				map[string]interface{}{"type": "Ready", "status": "True"},
			},
		},
	}}
}

// WithReadyCondition overwrites the object's Ready condition.
func WithReadyCondition(obj *unstructured.Unstructured, status string) *unstructured.Unstructured {
	conditions := []interface{}{
		map[string]interface{}{"type": "Ready", "status": status},
	}

	if err := unstructured.SetNestedSlice(obj.Object, conditions, "status", "conditions"); err != nil {
		panic(err)
	}

	return obj
}

// WithLabels merges labels into the object's metadata.
func WithLabels(obj *unstructured.Unstructured, labels map[string]string) *unstructured.Unstructured {
	merged := obj.GetLabels()
	if merged == nil {
		merged = map[string]string{}
	}

	for k, v := range labels {
		merged[k] = v
	}

	obj.SetLabels(merged)

	return obj
}

// NewNamespace returns a typed namespace object for fake clients.
func NewNamespace(name string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
}
