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

package clusterfake

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	jsonpatch "github.com/evanphx/json-patch/v5"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	groupVersion       = "kubevirt.io/v1"
	mergePatchMimeType = "application/merge-patch+json"
)

// Handler serves the fake cluster API. The handler is safe for concurrent
// use and can back an httptest.Server in tests or a plain http.Server in a
// long-lived test environment.
func (f *ClusterFake) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api", f.handleAPIVersions)
	mux.HandleFunc("GET /apis", f.handleAPIGroups)
	mux.HandleFunc("GET /api/v1", f.handleCoreResources)
	mux.HandleFunc("GET /apis/kubevirt.io/v1", f.handleGroupResources)

	mux.HandleFunc("GET /api/v1/namespaces", f.handleListNamespaces)

	mux.HandleFunc("GET /apis/kubevirt.io/v1/{resource}", f.handleListAllNamespaces)
	mux.HandleFunc("GET /apis/kubevirt.io/v1/namespaces/{namespace}/{resource}", f.handleList)
	mux.HandleFunc("POST /apis/kubevirt.io/v1/namespaces/{namespace}/{resource}", f.handleCreate)
	mux.HandleFunc("GET /apis/kubevirt.io/v1/namespaces/{namespace}/{resource}/{name}", f.handleGet)
	mux.HandleFunc("PATCH /apis/kubevirt.io/v1/namespaces/{namespace}/{resource}/{name}", f.handlePatch)
	mux.HandleFunc("DELETE /apis/kubevirt.io/v1/namespaces/{namespace}/{resource}/{name}", f.handleDelete)

	return mux
}

// ------------------------------------------------------ DISCOVERY ------------------------------------------------- //

func (f *ClusterFake) handleAPIVersions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metav1.APIVersions{
		TypeMeta: metav1.TypeMeta{Kind: "APIVersions"},
		Versions: []string{"v1"},
	})
}

func (f *ClusterFake) handleAPIGroups(w http.ResponseWriter, _ *http.Request) {
	version := metav1.GroupVersionForDiscovery{GroupVersion: groupVersion, Version: "v1"}

	writeJSON(w, http.StatusOK, metav1.APIGroupList{
		TypeMeta: metav1.TypeMeta{Kind: "APIGroupList", APIVersion: "v1"},
		Groups: []metav1.APIGroup{{
			Name:             "kubevirt.io",
			Versions:         []metav1.GroupVersionForDiscovery{version},
			PreferredVersion: version,
		}},
	})
}

func (f *ClusterFake) handleCoreResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metav1.APIResourceList{
		TypeMeta:     metav1.TypeMeta{Kind: "APIResourceList", APIVersion: "v1"},
		GroupVersion: "v1",
		APIResources: []metav1.APIResource{{
			Name:  "namespaces",
			Kind:  "Namespace",
			Verbs: metav1.Verbs{"get", "list"},
		}},
	})
}

func (f *ClusterFake) handleGroupResources(w http.ResponseWriter, _ *http.Request) {
	resources := make([]metav1.APIResource, 0, len(resourceKinds))
	for resource, kind := range resourceKinds {
		resources = append(resources, metav1.APIResource{
			Name:       resource,
			Kind:       kind,
			Namespaced: true,
			Verbs:      metav1.Verbs{"get", "list", "create", "patch", "delete"},
		})
	}

	sort.Slice(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })

	writeJSON(w, http.StatusOK, metav1.APIResourceList{
		TypeMeta:     metav1.TypeMeta{Kind: "APIResourceList", APIVersion: "v1"},
		GroupVersion: groupVersion,
		APIResources: resources,
	})
}

func (f *ClusterFake) handleListNamespaces(w http.ResponseWriter, _ *http.Request) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := f.namespaceNames()
	sort.Strings(names)

	items := make([]interface{}, 0, len(names))
	for _, name := range names {
		items = append(items, map[string]interface{}{
			"apiVersion": "v1",
			"kind":       "Namespace",
			"metadata":   map[string]interface{}{"name": name},
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "NamespaceList",
		"metadata":   map[string]interface{}{"resourceVersion": strconv.FormatUint(f.resourceVersion, 10)},
		"items":      items,
	})
}

// ------------------------------------------------------ RESOURCES ------------------------------------------------- //

func (f *ClusterFake) handleList(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")

	kind, ok := resourceKinds[resource]
	if !ok {
		writeStatus(w, unknownResourceStatus())

		return
	}

	selector, err := labels.Parse(r.URL.Query().Get("labelSelector"))
	if err != nil {
		writeStatus(w, apierrors.NewBadRequest(err.Error()).ErrStatus)

		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	items := f.collect(resource, r.PathValue("namespace"), selector)
	f.writeList(w, kind, items)
}

func (f *ClusterFake) handleListAllNamespaces(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")

	kind, ok := resourceKinds[resource]
	if !ok {
		writeStatus(w, unknownResourceStatus())

		return
	}

	selector, err := labels.Parse(r.URL.Query().Get("labelSelector"))
	if err != nil {
		writeStatus(w, apierrors.NewBadRequest(err.Error()).ErrStatus)

		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	items := f.collect(resource, "", selector)
	f.writeList(w, kind, items)
}

func (f *ClusterFake) handleGet(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")

	if _, ok := resourceKinds[resource]; !ok {
		writeStatus(w, unknownResourceStatus())

		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	obj, ok := f.objects[resource][r.PathValue("namespace")][r.PathValue("name")]
	if !ok {
		writeStatus(w, notFoundStatus(resource, r.PathValue("name")))

		return
	}

	writeJSON(w, http.StatusOK, obj.Object)
}

func (f *ClusterFake) handleCreate(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")

	if _, ok := resourceKinds[resource]; !ok {
		writeStatus(w, unknownResourceStatus())

		return
	}

	obj, err := readObject(r)
	if err != nil {
		writeStatus(w, apierrors.NewBadRequest(err.Error()).ErrStatus)

		return
	}

	if obj.GetName() == "" && obj.GetGenerateName() == "" {
		writeStatus(w, apierrors.NewBadRequest("name or generateName is required").ErrStatus)

		return
	}

	obj.SetNamespace(r.PathValue("namespace"))

	f.mu.Lock()
	defer f.mu.Unlock()

	if name := obj.GetName(); name != "" {
		if _, exists := f.objects[resource][obj.GetNamespace()][name]; exists {
			writeStatus(w, apierrors.NewAlreadyExists(groupResource(resource), name).ErrStatus)

			return
		}
	}

	f.prepareMetadata(resource, obj)
	f.put(resource, obj)

	writeJSON(w, http.StatusCreated, obj.Object)
}

func (f *ClusterFake) handlePatch(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	name := r.PathValue("name")

	if _, ok := resourceKinds[resource]; !ok {
		writeStatus(w, unknownResourceStatus())

		return
	}

	if contentType := r.Header.Get("Content-Type"); contentType != mergePatchMimeType {
		writeStatus(w, unsupportedMediaTypeStatus(contentType))

		return
	}

	patch, err := io.ReadAll(r.Body)
	if err != nil {
		writeStatus(w, apierrors.NewBadRequest(err.Error()).ErrStatus)

		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pendingPatchConflicts > 0 {
		f.pendingPatchConflicts--

		conflict := apierrors.NewConflict(
			groupResource(resource), name, fmt.Errorf("the object has been modified"))
		writeStatus(w, conflict.ErrStatus)

		return
	}

	existing, ok := f.objects[resource][r.PathValue("namespace")][name]
	if !ok {
		writeStatus(w, notFoundStatus(resource, name))

		return
	}

	original, err := json.Marshal(existing.Object)
	if err != nil {
		writeStatus(w, apierrors.NewInternalError(err).ErrStatus)

		return
	}

	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		writeStatus(w, apierrors.NewBadRequest(err.Error()).ErrStatus)

		return
	}

	patched := &unstructured.Unstructured{}
	if err := patched.UnmarshalJSON(merged); err != nil {
		writeStatus(w, apierrors.NewBadRequest(err.Error()).ErrStatus)

		return
	}

	// The patch must not move or rename the object.
	patched.SetNamespace(existing.GetNamespace())
	patched.SetName(existing.GetName())

	f.resourceVersion++
	patched.SetResourceVersion(strconv.FormatUint(f.resourceVersion, 10))
	f.put(resource, patched)

	writeJSON(w, http.StatusOK, patched.Object)
}

func (f *ClusterFake) handleDelete(w http.ResponseWriter, r *http.Request) {
	resource := r.PathValue("resource")
	name := r.PathValue("name")

	if _, ok := resourceKinds[resource]; !ok {
		writeStatus(w, unknownResourceStatus())

		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	namespace := r.PathValue("namespace")
	if _, ok := f.objects[resource][namespace][name]; !ok {
		writeStatus(w, notFoundStatus(resource, name))

		return
	}

	delete(f.objects[resource][namespace], name)

	writeJSON(w, http.StatusOK, metav1.Status{
		TypeMeta: metav1.TypeMeta{Kind: "Status", APIVersion: "v1"},
		Status:   metav1.StatusSuccess,
		Code:     http.StatusOK,
	})
}

// ------------------------------------------------------- UTILS ---------------------------------------------------- //

// collect returns matching objects sorted by namespace and name. Callers
// hold at least the read lock. An empty namespace selects all namespaces.
func (f *ClusterFake) collect(
	resource, namespace string,
	selector labels.Selector,
) []*unstructured.Unstructured {
	items := make([]*unstructured.Unstructured, 0)

	for ns, objs := range f.objects[resource] {
		if namespace != "" && ns != namespace {
			continue
		}

		for _, obj := range objs {
			if !selector.Matches(labels.Set(obj.GetLabels())) {
				continue
			}

			items = append(items, obj)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].GetNamespace() != items[j].GetNamespace() {
			return items[i].GetNamespace() < items[j].GetNamespace()
		}

		return items[i].GetName() < items[j].GetName()
	})

	return items
}

// writeList encodes objects as a typed list document. Callers hold at
// least the read lock.
func (f *ClusterFake) writeList(w http.ResponseWriter, kind string, items []*unstructured.Unstructured) {
	rawItems := make([]interface{}, 0, len(items))
	for _, item := range items {
		rawItems = append(rawItems, item.DeepCopy().Object)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"apiVersion": groupVersion,
		"kind":       kind + "List",
		"metadata":   map[string]interface{}{"resourceVersion": strconv.FormatUint(f.resourceVersion, 10)},
		"items":      rawItems,
	})
}

func readObject(r *http.Request) (*unstructured.Unstructured, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	obj := &unstructured.Unstructured{}
	if err := obj.UnmarshalJSON(body); err != nil {
		return nil, fmt.Errorf("decoding request body: %w", err)
	}

	return obj, nil
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	_ = json.NewEncoder(w).Encode(body)
}

// writeStatus encodes a failure the way the API server does, so client-go
// turns it back into the matching StatusError.
func writeStatus(w http.ResponseWriter, status metav1.Status) {
	status.TypeMeta = metav1.TypeMeta{Kind: "Status", APIVersion: "v1"}

	writeJSON(w, int(status.Code), status)
}

func groupResource(resource string) schema.GroupResource {
	return schema.GroupResource{Group: "kubevirt.io", Resource: resource}
}

func notFoundStatus(resource, name string) metav1.Status {
	return apierrors.NewNotFound(groupResource(resource), name).ErrStatus
}

func unknownResourceStatus() metav1.Status {
	return metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusNotFound,
		Reason:  metav1.StatusReasonNotFound,
		Message: "the server could not find the requested resource",
	}
}

func unsupportedMediaTypeStatus(contentType string) metav1.Status {
	return metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    http.StatusUnsupportedMediaType,
		Reason:  metav1.StatusReasonUnsupportedMediaType,
		Message: fmt.Sprintf("unsupported media type %q, use %q", contentType, mergePatchMimeType),
	}
}
