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
	"encoding/json"
	"sort"
)

// -------------------------------------------------- CONNECTION ---------------------------------------------------- //

// Connection describes how to reach one cluster and which scope of it to
// inventory. The zero value selects the ambient kubeconfig with all
// authorized namespaces.
type Connection struct {
	// Name labels the connection's top level inventory group. Derived from
	// the server host when empty.
	Name string `json:"name,omitempty"`

	// Kubeconfig is a path to a kubeconfig file. The sentinel "in-cluster"
	// selects the in-cluster service account configuration.
	Kubeconfig string `json:"kubeconfig,omitempty"`
	Context    string `json:"context,omitempty"`

	Host          string `json:"host,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	ClientCert    string `json:"client_cert,omitempty"`
	ClientKey     string `json:"client_key,omitempty"`
	CACert        string `json:"ca_cert,omitempty"`
	ValidateCerts *bool  `json:"validate_certs,omitempty"`

	// Namespaces restricts the build to the listed namespaces. Empty means
	// every namespace the credentials can list.
	Namespaces    []string `json:"namespaces,omitempty"`
	LabelSelector string   `json:"label_selector,omitempty"`

	// NetworkName picks the interface whose network carries the host address.
	NetworkName string `json:"network_name,omitempty"`
	APIVersion  string `json:"api_version,omitempty"`
}

// DefaultHostFormat is the hostname pattern applied when the configuration
// does not set one. Supported tokens: {namespace}, {name}, {uid}.
const DefaultHostFormat = "{namespace}-{name}"

// InventoryConfig is the configuration of one inventory build.
type InventoryConfig struct {
	Connections []Connection `json:"connections,omitempty"`
	HostFormat  string       `json:"host_format,omitempty"`
}

// -------------------------------------------------- TREE ---------------------------------------------------------- //

// InventoryGroup is the read model of one group: sorted hosts and child
// group names.
type InventoryGroup struct {
	Hosts    []string `json:"hosts,omitempty"`
	Children []string `json:"children,omitempty"`
}

// InventoryTree is the host/group/vars document produced by a build. Groups
// exist only once a host or child is placed in them and every grouped host
// owns a hostvars entry, so the rendered document never contains empty
// groups or vars-less hosts.
type InventoryTree struct {
	hostvars map[string]Document
	groups   map[string]*groupSet
}

type groupSet struct {
	hosts    map[string]struct{}
	children map[string]struct{}
}

// NewInventoryTree returns an empty tree.
func NewInventoryTree() *InventoryTree {
	return &InventoryTree{
		hostvars: map[string]Document{},
		groups:   map[string]*groupSet{},
	}
}

// AddHost registers a host and merges facts over any facts recorded for it
// earlier, later entries winning per fact key.
func (t *InventoryTree) AddHost(name string, facts Document) {
	existing, ok := t.hostvars[name]
	if !ok {
		existing = Document{}
		t.hostvars[name] = existing
	}

	for k, v := range facts {
		existing[k] = v
	}
}

// AddHostToGroup places a host in a group, creating the group and, if
// needed, the host's vars entry.
func (t *InventoryTree) AddHostToGroup(group, host string) {
	if _, ok := t.hostvars[host]; !ok {
		t.hostvars[host] = Document{}
	}

	t.ensureGroup(group).hosts[host] = struct{}{}
}

// AddChildGroup links child under parent, creating both groups.
func (t *InventoryTree) AddChildGroup(parent, child string) {
	t.ensureGroup(child)
	t.ensureGroup(parent).children[child] = struct{}{}
}

// HostFacts returns the facts of a host.
func (t *InventoryTree) HostFacts(name string) (Document, bool) {
	facts, ok := t.hostvars[name]

	return facts, ok
}

// Hosts returns all registered hostnames, sorted.
func (t *InventoryTree) Hosts() []string {
	return sortedKeys(t.hostvars)
}

// Group materializes the read model of one group.
func (t *InventoryTree) Group(name string) (InventoryGroup, bool) {
	set, ok := t.groups[name]
	if !ok {
		return InventoryGroup{}, false
	}

	return InventoryGroup{
		Hosts:    sortedKeys(set.hosts),
		Children: sortedKeys(set.children),
	}, true
}

// GroupNames returns all group names, sorted.
func (t *InventoryTree) GroupNames() []string {
	return sortedKeys(t.groups)
}

// MarshalJSON renders the tree in the dynamic inventory wire shape: a _meta
// key holding hostvars plus one key per group.
func (t *InventoryTree) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"_meta": map[string]interface{}{"hostvars": t.hostvars},
	}

	for name := range t.groups {
		group, _ := t.Group(name)
		out[name] = group
	}

	return json.Marshal(out)
}

func (t *InventoryTree) ensureGroup(name string) *groupSet {
	set, ok := t.groups[name]
	if !ok {
		set = &groupSet{hosts: map[string]struct{}{}, children: map[string]struct{}{}}
		t.groups[name] = set
	}

	return set
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
