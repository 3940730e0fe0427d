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
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/adapter"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
	"github.com/guidograzioli/kubernetes.kubevirt.old/pkg/kubevirt"
)

var (
	ErrReconcile = errors.New("reconciling virtual machine")
	// ErrWaitTimeout reports that the wait deadline expired. The mutation
	// already happened; callers must not roll back the changed result.
	ErrWaitTimeout = errors.New("timed out waiting on virtual machine")

	errRenderManifest = errors.New("rendering manifest")
	errCreateConflict = errors.New("create raced with another writer")
	errPatchConflict  = errors.New("patch conflicted twice")
)

const (
	fmtTimedOutReady = "virtualmachine %s/%s: not ready after %s"
	fmtTimedOutGone  = "virtualmachine %s/%s: not deleted after %s"
)

// unreachableBackoff bounds the retries around the initial fetch when the
// cluster does not answer.
var unreachableBackoff = wait.Backoff{
	Steps:    3,
	Duration: 500 * time.Millisecond,
	Factor:   2,
	Jitter:   0.1,
}

// ---------------------------------------------------- INTERFACES -------------------------------------------------- //

// Reconciler converges one VirtualMachine toward a desired state.
type Reconciler interface {
	// Reconcile performs a single convergence pass. On wait timeouts the
	// returned result is still meaningful: the mutation happened and Changed
	// stays true alongside the returned error.
	Reconcile(ctx context.Context, desired types.VirtualMachineSpec, opts types.ReconcileOptions) (types.ReconcileResult, error)
}

// --------------------------------------------------- CONSTRUCTORS ------------------------------------------------- //

// NewReconciler returns a Reconciler operating through the given
// VirtualMachine resource adapter.
func NewReconciler(vm adapter.Resource) Reconciler {
	return &reconciler{vm: vm}
}

// --------------------------------------------- CONCRETE IMPLEMENTATION -------------------------------------------- //

type reconciler struct {
	vm adapter.Resource
}

func (r *reconciler) Reconcile(
	ctx context.Context,
	desired types.VirtualMachineSpec,
	opts types.ReconcileOptions,
) (types.ReconcileResult, error) {
	opts = opts.WithDefaults()

	if err := desired.Validate(opts.State); err != nil {
		return types.ReconcileResult{}, errors.Join(err, ErrReconcile)
	}

	if opts.State == types.StateAbsent {
		return r.reconcileAbsent(ctx, desired, opts)
	}

	return r.reconcilePresent(ctx, desired, opts)
}

// -------------------------------------------------------- PRESENT ------------------------------------------------- //

func (r *reconciler) reconcilePresent(
	ctx context.Context,
	desired types.VirtualMachineSpec,
	opts types.ReconcileOptions,
) (types.ReconcileResult, error) {
	manifest, err := desired.Manifest()
	if err != nil {
		return types.ReconcileResult{}, errors.Join(err, errRenderManifest, ErrReconcile)
	}

	// Server-side name generation cannot address an existing object, it
	// always creates.
	observed, err := r.getExisting(ctx, desired)
	if err != nil {
		return types.ReconcileResult{}, errors.Join(err, ErrReconcile)
	}

	var result types.ReconcileResult

	switch {
	case observed == nil:
		result, err = r.create(ctx, manifest, opts)
	default:
		result, err = r.patch(ctx, manifest, observed, opts)
	}

	if err != nil {
		return result, err
	}

	if !opts.Wait || opts.CheckMode || result.Method == "" {
		return result, nil
	}

	start := time.Now()
	ready, err := r.awaitReady(ctx, result.Object.GetNamespace(), result.Object.GetName(), opts)
	result.Duration = time.Since(start).Round(time.Second)

	if ready != nil {
		result.Object = ready
	}

	if err != nil {
		return result, errors.Join(err, ErrReconcile)
	}

	return result, nil
}

func (r *reconciler) getExisting(
	ctx context.Context,
	desired types.VirtualMachineSpec,
) (*unstructured.Unstructured, error) {
	if desired.Name == "" {
		return nil, nil
	}

	observed, err := r.get(ctx, desired.Namespace, desired.Name)
	if errors.Is(err, adapter.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return observed, nil
}

func (r *reconciler) create(
	ctx context.Context,
	manifest *unstructured.Unstructured,
	opts types.ReconcileOptions,
) (types.ReconcileResult, error) {
	if opts.CheckMode {
		return types.ReconcileResult{
			Changed: true,
			Method:  types.MethodCreate,
			Object:  manifest,
		}, nil
	}

	created, err := r.vm.Create(ctx, manifest)
	if errors.Is(err, adapter.ErrAlreadyExists) {
		return types.ReconcileResult{}, errors.Join(err, errCreateConflict, ErrReconcile)
	}

	if err != nil {
		return types.ReconcileResult{}, errors.Join(err, ErrReconcile)
	}

	slog.InfoContext(ctx, "virtualmachine_created",
		"namespace", created.GetNamespace(),
		"name", created.GetName(),
	)

	return types.ReconcileResult{
		Changed: true,
		Method:  types.MethodCreate,
		Object:  created,
	}, nil
}

func (r *reconciler) patch(
	ctx context.Context,
	manifest, observed *unstructured.Unstructured,
	opts types.ReconcileOptions,
) (types.ReconcileResult, error) {
	namespace, name := observed.GetNamespace(), observed.GetName()

	patch, err := managedFieldsPatch(manifest, observed)
	if err != nil {
		return types.ReconcileResult{}, errors.Join(err, ErrReconcile)
	}

	if len(patch) == 0 {
		slog.InfoContext(ctx, "virtualmachine_unchanged", "namespace", namespace, "name", name)

		return types.ReconcileResult{Object: observed}, nil
	}

	if opts.CheckMode {
		return types.ReconcileResult{
			Changed: true,
			Method:  types.MethodPatch,
			Object:  observed,
		}, nil
	}

	patched, err := r.vm.Patch(ctx, namespace, name, patch)
	if errors.Is(err, adapter.ErrConflict) {
		var converged bool

		patched, converged, err = r.retryPatchOnce(ctx, manifest, namespace, name)
		if err != nil {
			return types.ReconcileResult{}, err
		}

		if converged {
			// The other writer brought the object in line with us.
			return types.ReconcileResult{Object: patched}, nil
		}
	} else if err != nil {
		return types.ReconcileResult{}, errors.Join(err, ErrReconcile)
	}

	slog.InfoContext(ctx, "virtualmachine_patched",
		"namespace", namespace,
		"name", name,
	)

	return types.ReconcileResult{
		Changed: true,
		Method:  types.MethodPatch,
		Object:  patched,
	}, nil
}

// retryPatchOnce refetches and rediffs after a conflict. The converged
// return reports that the refetched object already matched the desired
// state and no second patch was sent.
func (r *reconciler) retryPatchOnce(
	ctx context.Context,
	manifest *unstructured.Unstructured,
	namespace, name string,
) (*unstructured.Unstructured, bool, error) {
	slog.InfoContext(ctx, "virtualmachine_patch_conflict", "namespace", namespace, "name", name)

	observed, err := r.get(ctx, namespace, name)
	if err != nil {
		return nil, false, errors.Join(err, ErrReconcile)
	}

	patch, err := managedFieldsPatch(manifest, observed)
	if err != nil {
		return nil, false, errors.Join(err, ErrReconcile)
	}

	if len(patch) == 0 {
		return observed, true, nil
	}

	patched, err := r.vm.Patch(ctx, namespace, name, patch)
	if err != nil {
		return nil, false, errors.Join(err, errPatchConflict, ErrReconcile)
	}

	return patched, false, nil
}

// -------------------------------------------------------- ABSENT -------------------------------------------------- //

func (r *reconciler) reconcileAbsent(
	ctx context.Context,
	desired types.VirtualMachineSpec,
	opts types.ReconcileOptions,
) (types.ReconcileResult, error) {
	namespace, name := desired.Namespace, desired.Name

	_, err := r.get(ctx, namespace, name)
	if errors.Is(err, adapter.ErrNotFound) {
		return types.ReconcileResult{}, nil
	}

	if err != nil {
		return types.ReconcileResult{}, errors.Join(err, ErrReconcile)
	}

	if opts.CheckMode {
		return types.ReconcileResult{Changed: true, Method: types.MethodDelete}, nil
	}

	err = r.vm.Delete(ctx, namespace, name)
	if errors.Is(err, adapter.ErrNotFound) {
		// Vanished between the fetch and the delete.
		return types.ReconcileResult{}, nil
	}

	if err != nil {
		return types.ReconcileResult{}, errors.Join(err, ErrReconcile)
	}

	slog.InfoContext(ctx, "virtualmachine_deleted", "namespace", namespace, "name", name)

	result := types.ReconcileResult{Changed: true, Method: types.MethodDelete}

	if !opts.Wait {
		return result, nil
	}

	start := time.Now()
	err = r.awaitGone(ctx, namespace, name, opts)
	result.Duration = time.Since(start).Round(time.Second)

	if err != nil {
		return result, errors.Join(err, ErrReconcile)
	}

	return result, nil
}

// -------------------------------------------------------- WAIT ---------------------------------------------------- //

func (r *reconciler) awaitReady(
	ctx context.Context,
	namespace, name string,
	opts types.ReconcileOptions,
) (*unstructured.Unstructured, error) {
	slog.InfoContext(ctx, "virtualmachine_await_ready",
		"namespace", namespace,
		"name", name,
		"timeout", opts.WaitTimeout.String(),
	)

	var latest *unstructured.Unstructured

	err := wait.PollUntilContextTimeout(ctx, opts.WaitSleep, opts.WaitTimeout, true,
		func(ctx context.Context) (bool, error) {
			obj, err := r.vm.Get(ctx, namespace, name)

			switch {
			case errors.Is(err, adapter.ErrNotFound), errors.Is(err, adapter.ErrUnreachable):
				// Keep polling through creation lag and apiserver blips.
				return false, nil
			case err != nil:
				return false, err
			}

			latest = obj

			return kubevirt.IsReady(obj), nil
		})

	if wait.Interrupted(err) {
		return latest, errors.Join(
			fmt.Errorf(fmtTimedOutReady, namespace, name, opts.WaitTimeout),
			ErrWaitTimeout,
		)
	}

	return latest, err
}

func (r *reconciler) awaitGone(
	ctx context.Context,
	namespace, name string,
	opts types.ReconcileOptions,
) error {
	slog.InfoContext(ctx, "virtualmachine_await_gone",
		"namespace", namespace,
		"name", name,
		"timeout", opts.WaitTimeout.String(),
	)

	err := wait.PollUntilContextTimeout(ctx, opts.WaitSleep, opts.WaitTimeout, true,
		func(ctx context.Context) (bool, error) {
			_, err := r.vm.Get(ctx, namespace, name)

			switch {
			case errors.Is(err, adapter.ErrNotFound):
				return true, nil
			case errors.Is(err, adapter.ErrUnreachable):
				return false, nil
			case err != nil:
				return false, err
			}

			return false, nil
		})

	if wait.Interrupted(err) {
		return errors.Join(
			fmt.Errorf(fmtTimedOutGone, namespace, name, opts.WaitTimeout),
			ErrWaitTimeout,
		)
	}

	return err
}

// -------------------------------------------------------- UTILS --------------------------------------------------- //

// get wraps the adapter fetch with a bounded backoff across unreachable
// clusters.
func (r *reconciler) get(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error) {
	var obj *unstructured.Unstructured

	err := retry.OnError(unreachableBackoff,
		func(err error) bool { return errors.Is(err, adapter.ErrUnreachable) },
		func() error {
			var err error
			obj, err = r.vm.Get(ctx, namespace, name)

			return err
		})
	if err != nil {
		return nil, err
	}

	return obj, nil
}
