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
	"errors"
	"sort"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

var errNamespaceList = errors.New("listing namespaces")

// Namespace enumerates the namespaces the connection is authorized to see.
type Namespace interface {
	List(ctx context.Context) ([]string, error)
}

// NewNamespace returns a Namespace backed by the cluster.
func NewNamespace(c client.Client) Namespace {
	return &namespace{client: c}
}

type namespace struct {
	client client.Client
}

func (n *namespace) List(ctx context.Context) ([]string, error) {
	list := new(corev1.NamespaceList)
	if err := n.client.List(ctx, list); err != nil {
		return nil, normalizeError(err, errNamespaceList)
	}

	names := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		names = append(names, item.Name)
	}

	sort.Strings(names)

	return names, nil
}
