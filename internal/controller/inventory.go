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

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/adapter"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
	"github.com/guidograzioli/kubernetes.kubevirt.old/pkg/kubevirt"
)

var (
	ErrBuildInventory = errors.New("building inventory")

	errConnectionClients = errors.New("constructing connection clients")
	errListNamespaces    = errors.New("listing namespaces")
)

const (
	fmtListVirtualMachines         = "listing virtualmachines in namespace %q"
	fmtListVirtualMachineInstances = "listing virtualmachineinstances in namespace %q"
)

// VirtualMachineInstance status fields exported as host facts. Collections
// default to empty values so consumers can index them unconditionally.
var (
	vmiStatusMapFacts = map[string]string{
		"activePods":  "vmi_active_pods",
		"guestOSInfo": "vmi_guest_os_info",
	}
	vmiStatusListFacts = map[string]string{
		"conditions":                "vmi_conditions",
		"interfaces":                "vmi_interfaces",
		"phaseTransitionTimestamps": "vmi_phase_transition_timestamps",
		"volumeStatus":              "vmi_volume_status",
	}
	vmiStatusScalarFacts = map[string]string{
		"launcherContainerImageVersion": "vmi_launcher_container_image_version",
		"migrationMethod":               "vmi_migration_method",
		"migrationTransport":            "vmi_migration_transport",
		"nodeName":                      "vmi_node_name",
		"phase":                         "vmi_phase",
		"qosClass":                      "vmi_qos_class",
		"virtualMachineRevisionName":    "vmi_virtual_machine_revision_name",
	}
)

// ---------------------------------------------------- INTERFACES -------------------------------------------------- //

// Inventory aggregates VirtualMachines across one or more clusters into an
// Ansible inventory tree.
type Inventory interface {
	Build(ctx context.Context, cfg types.InventoryConfig) (*types.InventoryTree, error)
}

// ConnectionClients bundles the adapters the aggregator reads one cluster
// through. Host carries the API server URL and names the cluster group when
// the connection itself is unnamed.
type ConnectionClients struct {
	VirtualMachine         adapter.Resource
	VirtualMachineInstance adapter.Resource
	Namespace              adapter.Namespace
	Host                   string
}

// ClientFactory resolves a connection into live cluster clients.
type ClientFactory func(conn types.Connection) (ConnectionClients, error)

// --------------------------------------------------- CONSTRUCTORS ------------------------------------------------- //

// NewInventory returns an Inventory resolving clusters through the given
// factory.
func NewInventory(factory ClientFactory) Inventory {
	return &inventory{factory: factory}
}

// --------------------------------------------- CONCRETE IMPLEMENTATION -------------------------------------------- //

type inventory struct {
	factory ClientFactory
}

func (i *inventory) Build(ctx context.Context, cfg types.InventoryConfig) (*types.InventoryTree, error) {
	hostFormat := cfg.HostFormat
	if hostFormat == "" {
		hostFormat = types.DefaultHostFormat
	}

	connections := cfg.Connections
	if len(connections) == 0 {
		// No connection block means local defaults.
		connections = []types.Connection{{}}
	}

	tree := types.NewInventoryTree()

	// Connections apply in order so facts from later connections win.
	for _, conn := range connections {
		if err := i.addConnection(ctx, tree, conn, hostFormat); err != nil {
			return nil, errors.Join(err, ErrBuildInventory)
		}
	}

	return tree, nil
}

func (i *inventory) addConnection(
	ctx context.Context,
	tree *types.InventoryTree,
	conn types.Connection,
	hostFormat string,
) error {
	clients, err := i.factory(conn)
	if err != nil {
		return errors.Join(err, errConnectionClients)
	}

	clusterGroup := sanitizeGroupName(clusterName(conn, clients.Host))

	namespaces := conn.Namespaces
	if len(namespaces) == 0 {
		namespaces, err = clients.Namespace.List(ctx)
		if err != nil {
			return errors.Join(err, errListNamespaces)
		}
	}

	slog.InfoContext(ctx, "inventory_connection",
		"cluster_group", clusterGroup,
		"namespaces", len(namespaces),
	)

	for _, namespace := range namespaces {
		if err := addNamespace(ctx, tree, clients, conn, clusterGroup, namespace, hostFormat); err != nil {
			return err
		}
	}

	return nil
}

func addNamespace(
	ctx context.Context,
	tree *types.InventoryTree,
	clients ConnectionClients,
	conn types.Connection,
	clusterGroup, namespace, hostFormat string,
) error {
	opts := adapter.ListOptions{Namespace: namespace, LabelSelector: conn.LabelSelector}

	vms, err := clients.VirtualMachine.List(ctx, opts)
	if err != nil {
		return errors.Join(err, fmt.Errorf(fmtListVirtualMachines, namespace))
	}

	if len(vms) == 0 {
		return nil
	}

	vmis, err := clients.VirtualMachineInstance.List(ctx, opts)
	if err != nil {
		return errors.Join(err, fmt.Errorf(fmtListVirtualMachineInstances, namespace))
	}

	vmiByName := make(map[string]*unstructured.Unstructured, len(vmis))
	for idx := range vmis {
		vmiByName[vmis[idx].GetName()] = &vmis[idx]
	}

	namespaceGroup := sanitizeGroupName("namespace_" + namespace)
	vmsGroup := sanitizeGroupName(namespaceGroup + "_vms")

	tree.AddChildGroup(clusterGroup, namespaceGroup)
	tree.AddChildGroup(namespaceGroup, vmsGroup)

	for idx := range vms {
		vm := &vms[idx]
		addVirtualMachine(tree, conn, vm, vmiByName[vm.GetName()], vmsGroup, hostFormat)
	}

	slog.DebugContext(ctx, "inventory_namespace",
		"namespace", namespace,
		"hosts", len(vms),
	)

	return nil
}

// addVirtualMachine registers one VirtualMachine as a host. A missing
// VirtualMachineInstance or address does not exclude the host, it only
// limits its facts.
func addVirtualMachine(
	tree *types.InventoryTree,
	conn types.Connection,
	vm, vmi *unstructured.Unstructured,
	vmsGroup, hostFormat string,
) {
	hostname := formatHostname(hostFormat, vm)

	labels := vm.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}

	annotations := vm.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}

	facts := types.Document{
		"ansible_connection": "ssh",
		"object_type":        "vm",
		"labels":             labels,
		"annotations":        annotations,
		"resource_version":   vm.GetResourceVersion(),
		"uid":                string(vm.GetUID()),
	}

	if vmi != nil {
		appendInstanceFacts(facts, vmi)

		if address := kubevirt.PrimaryAddress(vmi, conn.NetworkName); address != "" {
			facts["ansible_host"] = address
		}
	}

	tree.AddHost(hostname, facts)
	tree.AddHostToGroup(vmsGroup, hostname)

	for key, value := range labels {
		tree.AddHostToGroup(sanitizeGroupName(fmt.Sprintf("label_%s_%s", key, value)), hostname)
	}

	for _, network := range kubevirt.NetworkNames(vm) {
		tree.AddHostToGroup(sanitizeGroupName("network_"+network), hostname)
	}
}

func appendInstanceFacts(facts types.Document, vmi *unstructured.Unstructured) {
	for field, fact := range vmiStatusMapFacts {
		value, found, err := unstructured.NestedFieldCopy(vmi.Object, "status", field)
		if !found || err != nil {
			value = map[string]interface{}{}
		}

		facts[fact] = value
	}

	for field, fact := range vmiStatusListFacts {
		value, found, err := unstructured.NestedFieldCopy(vmi.Object, "status", field)
		if !found || err != nil {
			value = []interface{}{}
		}

		facts[fact] = value
	}

	for field, fact := range vmiStatusScalarFacts {
		value, found, err := unstructured.NestedFieldCopy(vmi.Object, "status", field)
		if !found || err != nil {
			continue
		}

		facts[fact] = value
	}
}

// -------------------------------------------------------- UTILS --------------------------------------------------- //

func clusterName(conn types.Connection, host string) string {
	if conn.Name != "" {
		return conn.Name
	}

	return defaultClusterName(host)
}

// defaultClusterName derives a group name from the API server URL, e.g.
// https://cluster.example:6443 becomes cluster-example_6443.
func defaultClusterName(host string) string {
	name := strings.TrimPrefix(host, "https://")
	name = strings.TrimPrefix(name, "http://")
	name = strings.ReplaceAll(name, ".", "-")

	return strings.ReplaceAll(name, ":", "_")
}

func formatHostname(format string, obj *unstructured.Unstructured) string {
	return strings.NewReplacer(
		"{namespace}", obj.GetNamespace(),
		"{name}", obj.GetName(),
		"{uid}", string(obj.GetUID()),
	).Replace(format)
}

// sanitizeGroupName keeps group names inventory-safe: every character
// outside [A-Za-z0-9_] becomes an underscore.
func sanitizeGroupName(name string) string {
	var b strings.Builder

	b.Grow(len(name))

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}
