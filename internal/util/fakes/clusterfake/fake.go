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

// Package clusterfake is an in-memory stand-in for a cluster running the
// kubevirt.io/v1 API. It speaks enough of the Kubernetes wire protocol
// (discovery, CRUD, merge patches, label selectors) for real client-go
// based clients to operate against it, so engines can be exercised over
// HTTP without a cluster.
package clusterfake

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	k8stypes "k8s.io/apimachinery/pkg/types"
	utilrand "k8s.io/apimachinery/pkg/util/rand"
)

// resourceKinds maps the served resources to their kinds.
var resourceKinds = map[string]string{
	"virtualmachines":         "VirtualMachine",
	"virtualmachineinstances": "VirtualMachineInstance",
}

const generateNameSuffixLength = 5

// ClusterFake holds the object store behind the served API.
type ClusterFake struct {
	mu sync.RWMutex

	// objects is keyed by resource, then namespace, then name.
	objects    map[string]map[string]map[string]*unstructured.Unstructured
	namespaces map[string]struct{}

	resourceVersion uint64

	// pendingPatchConflicts makes the next patches fail with 409, so
	// clients can exercise their conflict handling.
	pendingPatchConflicts int
}

// New returns an empty fake cluster.
func New() *ClusterFake {
	f := &ClusterFake{
		objects:    map[string]map[string]map[string]*unstructured.Unstructured{},
		namespaces: map[string]struct{}{},
	}

	for resource := range resourceKinds {
		f.objects[resource] = map[string]map[string]*unstructured.Unstructured{}
	}

	return f
}

// SeedNamespaces registers namespaces without putting objects in them.
func (f *ClusterFake) SeedNamespaces(names ...string) *ClusterFake {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, name := range names {
		f.namespaces[name] = struct{}{}
	}

	return f
}

// Seed stores objects as if they had been created through the API. The
// resource is derived from the object kind; unknown kinds panic, they are
// programming errors in the test.
func (f *ClusterFake) Seed(objs ...*unstructured.Unstructured) *ClusterFake {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, obj := range objs {
		resource := resourceForKind(obj.GetKind())
		if resource == "" {
			panic(fmt.Sprintf("clusterfake: unsupported kind %q", obj.GetKind()))
		}

		stored := obj.DeepCopy()
		f.prepareMetadata(resource, stored)
		f.put(resource, stored)
	}

	return f
}

// Object retrieves a stored object for test inspection.
func (f *ClusterFake) Object(resource, namespace, name string) (*unstructured.Unstructured, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	obj, ok := f.objects[resource][namespace][name]
	if !ok {
		return nil, false
	}

	return obj.DeepCopy(), true
}

// ArmPatchConflicts makes the next count patch requests fail with 409.
func (f *ClusterFake) ArmPatchConflicts(count int) *ClusterFake {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pendingPatchConflicts = count

	return f
}

// -------------------------------------------------------- STORE --------------------------------------------------- //

// prepareMetadata fills the fields the API server owns. Callers hold the
// write lock.
func (f *ClusterFake) prepareMetadata(resource string, obj *unstructured.Unstructured) {
	if obj.GetName() == "" && obj.GetGenerateName() != "" {
		for {
			candidate := obj.GetGenerateName() + utilrand.String(generateNameSuffixLength)
			if _, exists := f.objects[resource][obj.GetNamespace()][candidate]; !exists {
				obj.SetName(candidate)

				break
			}
		}
	}

	if obj.GetUID() == "" {
		obj.SetUID(k8stypes.UID(uuid.NewString()))
	}

	if _, found, _ := unstructured.NestedString(obj.Object, "metadata", "creationTimestamp"); !found {
		_ = unstructured.SetNestedField(
			obj.Object, time.Now().UTC().Format(time.RFC3339), "metadata", "creationTimestamp")
	}

	f.resourceVersion++
	obj.SetResourceVersion(strconv.FormatUint(f.resourceVersion, 10))
}

// put stores the object and registers its namespace. Callers hold the
// write lock.
func (f *ClusterFake) put(resource string, obj *unstructured.Unstructured) {
	namespace := obj.GetNamespace()

	if f.objects[resource][namespace] == nil {
		f.objects[resource][namespace] = map[string]*unstructured.Unstructured{}
	}

	f.objects[resource][namespace][obj.GetName()] = obj
	f.namespaces[namespace] = struct{}{}
}

func (f *ClusterFake) namespaceNames() []string {
	names := make([]string, 0, len(f.namespaces))
	for name := range f.namespaces {
		names = append(names, name)
	}

	return names
}

func resourceForKind(kind string) string {
	for resource, k := range resourceKinds {
		if strings.EqualFold(k, kind) {
			return resource
		}
	}

	return ""
}

// SupportedKind reports whether Seed accepts objects of the given kind.
// Callers seeding from user-provided files should check before calling Seed.
func SupportedKind(kind string) bool {
	return resourceForKind(kind) != ""
}
