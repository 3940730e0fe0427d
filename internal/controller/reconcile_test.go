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

//go:build unit

package controller_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/adapter"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/controller"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/testutil"
	"github.com/guidograzioli/kubernetes.kubevirt.old/pkg/kubevirt"
)

var virtualMachineGR = schema.GroupResource{Group: kubevirt.Group, Resource: "virtualmachines"}

func newReconciler(
	t *testing.T,
	funcs *interceptor.Funcs,
	objs ...client.Object,
) (controller.Reconciler, client.WithWatch) {
	t.Helper()

	builder := fake.NewClientBuilder().
		WithScheme(testutil.NewScheme(t)).
		WithObjects(objs...)

	if funcs != nil {
		builder = builder.WithInterceptorFuncs(*funcs)
	}

	cl := builder.Build()

	vm, err := adapter.NewVirtualMachine(cl, "")
	require.NoError(t, err)

	return controller.NewReconciler(vm), cl
}

func getVirtualMachine(
	ctx context.Context,
	cl client.Client,
	namespace, name string,
) (*unstructured.Unstructured, error) {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(schema.GroupVersionKind{
		Group:   kubevirt.Group,
		Version: kubevirt.Version,
		Kind:    kubevirt.VirtualMachineKind,
	})

	err := cl.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, obj)

	return obj, err
}

func fastWait() types.ReconcileOptions {
	return types.ReconcileOptions{
		Wait:        true,
		WaitSleep:   time.Millisecond,
		WaitTimeout: 100 * time.Millisecond,
	}
}

func TestReconcileCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a missing virtual machine", func(t *testing.T) {
		reconciler, cl := newReconciler(t, nil)
		desired := types.VirtualMachineSpec{
			Name:      "testvm",
			Namespace: testutil.Namespace,
			Labels:    map[string]string{"app": "web"},
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)

		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodCreate, result.Method)
		require.NotNil(t, result.Object)
		assert.Equal(t, "testvm", result.Object.GetName())

		stored, err := getVirtualMachine(ctx, cl, testutil.Namespace, "testvm")
		require.NoError(t, err)
		assert.Equal(t, "web", stored.GetLabels()["app"])
	})

	t.Run("is idempotent on the second pass", func(t *testing.T) {
		reconciler, _ := newReconciler(t, nil)
		desired := types.VirtualMachineSpec{
			Name:      "testvm",
			Namespace: testutil.Namespace,
			Labels:    map[string]string{"app": "web"},
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)
		require.True(t, result.Changed)

		result, err = reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)

		assert.False(t, result.Changed)
		assert.Empty(t, result.Method)
		assert.NotNil(t, result.Object)
	})

	t.Run("honors generate_name", func(t *testing.T) {
		reconciler, _ := newReconciler(t, nil)
		desired := types.VirtualMachineSpec{
			GenerateName: "web-",
			Namespace:    testutil.Namespace,
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)

		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodCreate, result.Method)
		require.NotNil(t, result.Object)
		assert.True(t, strings.HasPrefix(result.Object.GetName(), "web-"))
		assert.Greater(t, len(result.Object.GetName()), len("web-"))
	})

	t.Run("check mode does not create", func(t *testing.T) {
		reconciler, cl := newReconciler(t, nil)
		desired := types.VirtualMachineSpec{Name: "testvm", Namespace: testutil.Namespace}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{CheckMode: true})
		require.NoError(t, err)

		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodCreate, result.Method)
		assert.NotNil(t, result.Object)

		_, err = getVirtualMachine(ctx, cl, testutil.Namespace, "testvm")
		assert.True(t, apierrors.IsNotFound(err))
	})
}

func TestReconcilePatch(t *testing.T) {
	ctx := context.Background()

	t.Run("adds labels without touching existing ones", func(t *testing.T) {
		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, _ := newReconciler(t, nil, seed)
		desired := types.VirtualMachineSpec{
			Name:      testutil.VMName,
			Namespace: testutil.Namespace,
			Labels:    map[string]string{"app": "web"},
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)

		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodPatch, result.Method)
		require.NotNil(t, result.Object)
		assert.Equal(t, "web", result.Object.GetLabels()["app"])
		assert.Equal(t, testutil.VMName, result.Object.GetLabels()["kubevirt.io/vm"])

		templateLabels, _, err := unstructured.NestedStringMap(
			result.Object.Object, "spec", "template", "metadata", "labels")
		require.NoError(t, err)
		assert.Equal(t, "web", templateLabels["app"])

		result, err = reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)
		assert.False(t, result.Changed)
	})

	t.Run("sends a minimal merge patch", func(t *testing.T) {
		var patches [][]byte

		funcs := &interceptor.Funcs{
			Patch: func(
				ctx context.Context,
				cl client.WithWatch,
				obj client.Object,
				patch client.Patch,
				opts ...client.PatchOption,
			) error {
				data, err := patch.Data(obj)
				if err != nil {
					return err
				}

				patches = append(patches, data)

				return cl.Patch(ctx, obj, patch, opts...)
			},
		}

		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, _ := newReconciler(t, funcs, seed)
		desired := types.VirtualMachineSpec{
			Name:      testutil.VMName,
			Namespace: testutil.Namespace,
			Labels:    map[string]string{"app": "web"},
		}

		_, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)
		require.Len(t, patches, 1)

		var patch map[string]interface{}
		require.NoError(t, json.Unmarshal(patches[0], &patch))

		// Only the differing fields travel: the new label at both spots,
		// nothing else.
		assert.Len(t, patch, 2)
		assert.Equal(t,
			map[string]interface{}{"labels": map[string]interface{}{"app": "web"}},
			patch["metadata"])
		assert.Equal(t,
			map[string]interface{}{"template": map[string]interface{}{
				"metadata": map[string]interface{}{
					"labels": map[string]interface{}{"app": "web"},
				},
			}},
			patch["spec"])
	})

	t.Run("explicit null removes a field", func(t *testing.T) {
		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		require.NoError(t, unstructured.SetNestedField(
			seed.Object, "LiveMigrate", "spec", "evictionStrategy"))

		reconciler, _ := newReconciler(t, nil, seed)
		desired := types.VirtualMachineSpec{
			Name:      testutil.VMName,
			Namespace: testutil.Namespace,
			Spec:      types.Document{"evictionStrategy": nil},
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)

		assert.True(t, result.Changed)
		require.NotNil(t, result.Object)

		_, found, err := unstructured.NestedString(result.Object.Object, "spec", "evictionStrategy")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("absent desired fields are not removals", func(t *testing.T) {
		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		require.NoError(t, unstructured.SetNestedField(
			seed.Object, "LiveMigrate", "spec", "evictionStrategy"))

		reconciler, _ := newReconciler(t, nil, seed)
		desired := types.VirtualMachineSpec{
			Name:      testutil.VMName,
			Namespace: testutil.Namespace,
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)

		assert.False(t, result.Changed)

		strategy, _, err := unstructured.NestedString(result.Object.Object, "spec", "evictionStrategy")
		require.NoError(t, err)
		assert.Equal(t, "LiveMigrate", strategy)
	})

	t.Run("numeric types compare equal across encodings", func(t *testing.T) {
		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		require.NoError(t, unstructured.SetNestedField(
			seed.Object, float64(3), "spec", "priority"))

		reconciler, _ := newReconciler(t, nil, seed)
		desired := types.VirtualMachineSpec{
			Name:      testutil.VMName,
			Namespace: testutil.Namespace,
			Spec:      types.Document{"priority": 3},
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)

		assert.False(t, result.Changed)
		assert.Empty(t, result.Method)
	})

	t.Run("check mode reports the patch without sending it", func(t *testing.T) {
		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, cl := newReconciler(t, nil, seed)
		desired := types.VirtualMachineSpec{
			Name:      testutil.VMName,
			Namespace: testutil.Namespace,
			Labels:    map[string]string{"app": "web"},
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{CheckMode: true})
		require.NoError(t, err)

		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodPatch, result.Method)

		stored, err := getVirtualMachine(ctx, cl, testutil.Namespace, testutil.VMName)
		require.NoError(t, err)
		assert.NotContains(t, stored.GetLabels(), "app")
	})
}

func TestReconcileConflict(t *testing.T) {
	ctx := context.Background()

	conflictErr := apierrors.NewConflict(
		virtualMachineGR, testutil.VMName, fmt.Errorf("the object has been modified"))

	t.Run("retries once after a conflict", func(t *testing.T) {
		patchCalls := 0

		funcs := &interceptor.Funcs{
			Patch: func(
				ctx context.Context,
				cl client.WithWatch,
				obj client.Object,
				patch client.Patch,
				opts ...client.PatchOption,
			) error {
				patchCalls++
				if patchCalls == 1 {
					return conflictErr
				}

				return cl.Patch(ctx, obj, patch, opts...)
			},
		}

		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, _ := newReconciler(t, funcs, seed)
		desired := types.VirtualMachineSpec{
			Name:      testutil.VMName,
			Namespace: testutil.Namespace,
			Labels:    map[string]string{"app": "web"},
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)

		assert.Equal(t, 2, patchCalls)
		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodPatch, result.Method)
		assert.Equal(t, "web", result.Object.GetLabels()["app"])
	})

	t.Run("reports no change when the conflicting writer converged", func(t *testing.T) {
		patchCalls := 0

		funcs := &interceptor.Funcs{
			Patch: func(
				ctx context.Context,
				cl client.WithWatch,
				obj client.Object,
				patch client.Patch,
				opts ...client.PatchOption,
			) error {
				patchCalls++
				// The competing writer lands the same change first.
				if err := cl.Patch(ctx, obj, patch, opts...); err != nil {
					return err
				}

				return conflictErr
			},
		}

		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, _ := newReconciler(t, funcs, seed)
		desired := types.VirtualMachineSpec{
			Name:      testutil.VMName,
			Namespace: testutil.Namespace,
			Labels:    map[string]string{"app": "web"},
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.NoError(t, err)

		assert.Equal(t, 1, patchCalls)
		assert.False(t, result.Changed)
		assert.Empty(t, result.Method)
		require.NotNil(t, result.Object)
		assert.Equal(t, "web", result.Object.GetLabels()["app"])
	})

	t.Run("surfaces a second conflict", func(t *testing.T) {
		funcs := &interceptor.Funcs{
			Patch: func(
				context.Context, client.WithWatch, client.Object, client.Patch, ...client.PatchOption,
			) error {
				return conflictErr
			},
		}

		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, _ := newReconciler(t, funcs, seed)
		desired := types.VirtualMachineSpec{
			Name:      testutil.VMName,
			Namespace: testutil.Namespace,
			Labels:    map[string]string{"app": "web"},
		}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.Error(t, err)

		assert.ErrorIs(t, err, adapter.ErrConflict)
		assert.ErrorIs(t, err, controller.ErrReconcile)
		assert.False(t, result.Changed)
	})
}

func TestReconcileWait(t *testing.T) {
	ctx := context.Background()

	t.Run("returns once the ready condition is observed", func(t *testing.T) {
		gets := 0

		funcs := &interceptor.Funcs{
			Get: func(
				ctx context.Context,
				cl client.WithWatch,
				key client.ObjectKey,
				obj client.Object,
				opts ...client.GetOption,
			) error {
				if err := cl.Get(ctx, key, obj, opts...); err != nil {
					return err
				}

				gets++
				if u, ok := obj.(*unstructured.Unstructured); ok && gets > 2 {
					testutil.WithReadyCondition(u, kubevirt.ConditionStatusTrue)
				}

				return nil
			},
		}

		reconciler, _ := newReconciler(t, funcs)
		desired := types.VirtualMachineSpec{Name: "testvm", Namespace: testutil.Namespace}

		result, err := reconciler.Reconcile(ctx, desired, fastWait())
		require.NoError(t, err)

		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodCreate, result.Method)
		require.NotNil(t, result.Object)
		assert.True(t, kubevirt.IsReady(result.Object))
	})

	t.Run("times out while not ready", func(t *testing.T) {
		reconciler, _ := newReconciler(t, nil)
		desired := types.VirtualMachineSpec{Name: "testvm", Namespace: testutil.Namespace}

		result, err := reconciler.Reconcile(ctx, desired, fastWait())
		require.Error(t, err)

		assert.ErrorIs(t, err, controller.ErrWaitTimeout)
		assert.ErrorIs(t, err, controller.ErrReconcile)
		// The create still happened.
		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodCreate, result.Method)
	})

	t.Run("waits for deletion", func(t *testing.T) {
		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, _ := newReconciler(t, nil, seed)
		desired := types.VirtualMachineSpec{Name: testutil.VMName, Namespace: testutil.Namespace}

		opts := fastWait()
		opts.State = types.StateAbsent

		result, err := reconciler.Reconcile(ctx, desired, opts)
		require.NoError(t, err)

		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodDelete, result.Method)
		assert.Nil(t, result.Object)
	})

	t.Run("times out while the object lingers", func(t *testing.T) {
		funcs := &interceptor.Funcs{
			Delete: func(
				context.Context, client.WithWatch, client.Object, ...client.DeleteOption,
			) error {
				// Accepted but stuck behind a finalizer.
				return nil
			},
		}

		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, _ := newReconciler(t, funcs, seed)
		desired := types.VirtualMachineSpec{Name: testutil.VMName, Namespace: testutil.Namespace}

		opts := fastWait()
		opts.State = types.StateAbsent

		result, err := reconciler.Reconcile(ctx, desired, opts)
		require.Error(t, err)

		assert.ErrorIs(t, err, controller.ErrWaitTimeout)
		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodDelete, result.Method)
	})
}

func TestReconcileAbsent(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes an existing virtual machine", func(t *testing.T) {
		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, cl := newReconciler(t, nil, seed)
		desired := types.VirtualMachineSpec{Name: testutil.VMName, Namespace: testutil.Namespace}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{State: types.StateAbsent})
		require.NoError(t, err)

		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodDelete, result.Method)
		assert.Nil(t, result.Object)

		_, err = getVirtualMachine(ctx, cl, testutil.Namespace, testutil.VMName)
		assert.True(t, apierrors.IsNotFound(err))
	})

	t.Run("is a no-op when already absent", func(t *testing.T) {
		reconciler, _ := newReconciler(t, nil)
		desired := types.VirtualMachineSpec{Name: testutil.VMName, Namespace: testutil.Namespace}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{State: types.StateAbsent})
		require.NoError(t, err)

		assert.False(t, result.Changed)
		assert.Empty(t, result.Method)
	})

	t.Run("tolerates losing the delete race", func(t *testing.T) {
		funcs := &interceptor.Funcs{
			Delete: func(
				context.Context, client.WithWatch, client.Object, ...client.DeleteOption,
			) error {
				return apierrors.NewNotFound(virtualMachineGR, testutil.VMName)
			},
		}

		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, _ := newReconciler(t, funcs, seed)
		desired := types.VirtualMachineSpec{Name: testutil.VMName, Namespace: testutil.Namespace}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{State: types.StateAbsent})
		require.NoError(t, err)

		assert.False(t, result.Changed)
	})

	t.Run("check mode does not delete", func(t *testing.T) {
		seed := testutil.NewVirtualMachine(testutil.Namespace, testutil.VMName)
		reconciler, cl := newReconciler(t, nil, seed)
		desired := types.VirtualMachineSpec{Name: testutil.VMName, Namespace: testutil.Namespace}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{
			State:     types.StateAbsent,
			CheckMode: true,
		})
		require.NoError(t, err)

		assert.True(t, result.Changed)
		assert.Equal(t, types.MethodDelete, result.Method)

		_, err = getVirtualMachine(ctx, cl, testutil.Namespace, testutil.VMName)
		assert.NoError(t, err)
	})
}

func TestReconcileErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects an invalid desired state", func(t *testing.T) {
		reconciler, _ := newReconciler(t, nil)
		desired := types.VirtualMachineSpec{GenerateName: "web-", Namespace: testutil.Namespace}

		_, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{State: types.StateAbsent})
		require.Error(t, err)

		assert.ErrorIs(t, err, types.ErrValidateVirtualMachineSpec)
		assert.ErrorIs(t, err, controller.ErrReconcile)
	})

	t.Run("surfaces permission errors", func(t *testing.T) {
		funcs := &interceptor.Funcs{
			Get: func(
				context.Context, client.WithWatch, client.ObjectKey, client.Object, ...client.GetOption,
			) error {
				return apierrors.NewForbidden(
					virtualMachineGR, testutil.VMName, fmt.Errorf("rbac denied"))
			},
		}

		reconciler, _ := newReconciler(t, funcs)
		desired := types.VirtualMachineSpec{Name: testutil.VMName, Namespace: testutil.Namespace}

		result, err := reconciler.Reconcile(ctx, desired, types.ReconcileOptions{})
		require.Error(t, err)

		assert.ErrorIs(t, err, adapter.ErrForbidden)
		assert.False(t, result.Changed)
	})
}
