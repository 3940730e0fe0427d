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
	"context"
	"encoding/json"
	"errors"
	"net"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
)

var (
	// ErrNotFound reports that the object does not exist. Callers branch on
	// it; it is never swallowed here.
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrConflict      = errors.New("resource version conflict")
	ErrInvalid       = errors.New("resource rejected by the api server")
	ErrUnauthorized  = errors.New("credentials rejected")
	ErrForbidden     = errors.New("operation forbidden")
	ErrUnreachable   = errors.New("cluster unreachable")

	errResourceGet    = errors.New("getting resource")
	errResourceList   = errors.New("listing resources")
	errResourceCreate = errors.New("creating resource")
	errResourcePatch  = errors.New("patching resource")
	errResourceDelete = errors.New("deleting resource")
	errParseSelector  = errors.New("parsing label selector")
)

// ---------------------------------------------------- INTERFACES -------------------------------------------------- //

// Resource performs CRUD on one kind of schema-less objects. Implementations
// normalize API failures into the package's sentinel errors and never retry;
// retry budgets belong to the caller.
type Resource interface {
	// Get fetches an object by namespace and name. ErrNotFound when absent.
	Get(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error)
	// List returns the objects selected by opts.
	List(ctx context.Context, opts ListOptions) ([]unstructured.Unstructured, error)
	// Create submits a new object and returns the server's version of it.
	Create(ctx context.Context, manifest *unstructured.Unstructured) (*unstructured.Unstructured, error)
	// Patch applies a JSON merge patch and returns the patched object.
	Patch(ctx context.Context, namespace, name string, mergePatch types.Document) (*unstructured.Unstructured, error)
	// Delete removes the object. ErrNotFound when it was already gone.
	Delete(ctx context.Context, namespace, name string) error
}

// ListOptions scope a List call.
type ListOptions struct {
	// Namespace restricts the list to one namespace. Empty lists across all.
	Namespace string
	// LabelSelector is a label selector expression, e.g. "app=test".
	LabelSelector string
}

// --------------------------------------------------- CONSTRUCTORS ------------------------------------------------- //

// NewResource returns a Resource bound to the given kind.
func NewResource(c client.Client, gvk schema.GroupVersionKind) Resource {
	return &resource{
		client: c,
		gvk:    gvk,
	}
}

// --------------------------------------------- CONCRETE IMPLEMENTATION -------------------------------------------- //

type resource struct {
	client client.Client
	gvk    schema.GroupVersionKind
}

func (r *resource) Get(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error) {
	obj := r.new()
	key := client.ObjectKey{Namespace: namespace, Name: name}

	if err := r.client.Get(ctx, key, obj); err != nil {
		return nil, normalizeError(err, errResourceGet)
	}

	return obj, nil
}

func (r *resource) List(ctx context.Context, opts ListOptions) ([]unstructured.Unstructured, error) {
	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(r.gvk.GroupVersion().WithKind(r.gvk.Kind + "List"))

	listOpts := make([]client.ListOption, 0, 2)
	if opts.Namespace != "" {
		listOpts = append(listOpts, client.InNamespace(opts.Namespace))
	}

	if opts.LabelSelector != "" {
		selector, err := labels.Parse(opts.LabelSelector)
		if err != nil {
			return nil, errors.Join(err, errParseSelector, errResourceList)
		}

		listOpts = append(listOpts, client.MatchingLabelsSelector{Selector: selector})
	}

	if err := r.client.List(ctx, list, listOpts...); err != nil {
		return nil, normalizeError(err, errResourceList)
	}

	return list.Items, nil
}

func (r *resource) Create(ctx context.Context, manifest *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	obj := manifest.DeepCopy()
	if err := r.client.Create(ctx, obj); err != nil {
		return nil, normalizeError(err, errResourceCreate)
	}

	return obj, nil
}

func (r *resource) Patch(ctx context.Context, namespace, name string, mergePatch types.Document) (*unstructured.Unstructured, error) {
	raw, err := json.Marshal(mergePatch)
	if err != nil {
		return nil, errors.Join(err, errResourcePatch)
	}

	obj := r.new()
	obj.SetNamespace(namespace)
	obj.SetName(name)

	if err := r.client.Patch(ctx, obj, client.RawPatch(k8stypes.MergePatchType, raw)); err != nil {
		return nil, normalizeError(err, errResourcePatch)
	}

	return obj, nil
}

func (r *resource) Delete(ctx context.Context, namespace, name string) error {
	obj := r.new()
	obj.SetNamespace(namespace)
	obj.SetName(name)

	if err := r.client.Delete(ctx, obj); err != nil {
		return normalizeError(err, errResourceDelete)
	}

	return nil
}

func (r *resource) new() *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(r.gvk)

	return obj
}

// --------------------------------------------------- UTILS -------------------------------------------------------- //

// normalizeError attaches the sentinel matching the API failure class so
// callers can branch with errors.Is.
func normalizeError(err error, wrap error) error {
	if err == nil {
		return nil
	}

	switch {
	case apierrors.IsNotFound(err):
		err = errors.Join(err, ErrNotFound)
	case apierrors.IsAlreadyExists(err):
		err = errors.Join(err, ErrAlreadyExists)
	case apierrors.IsConflict(err):
		err = errors.Join(err, ErrConflict)
	case apierrors.IsInvalid(err) || apierrors.IsBadRequest(err):
		err = errors.Join(err, ErrInvalid)
	case apierrors.IsUnauthorized(err):
		err = errors.Join(err, ErrUnauthorized)
	case apierrors.IsForbidden(err):
		err = errors.Join(err, ErrForbidden)
	case isUnreachable(err):
		err = errors.Join(err, ErrUnreachable)
	}

	return errors.Join(err, wrap)
}

func isUnreachable(err error) bool {
	if apierrors.IsServerTimeout(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}
