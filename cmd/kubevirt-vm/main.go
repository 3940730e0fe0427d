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

// kubevirt-vm converges one VirtualMachine to a desired state described by
// an argument document and reports the outcome as JSON on stdout, the wire
// shape task runners consume. Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/adapter"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/controller"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/k8s"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/logging"
)

const Name = "kubevirt-vm"

// Exit codes
const (
	exitSuccess = 0
	exitError   = 1
)

var (
	Version        = "dev" //nolint:gochecknoglobals // set by ldflags
	CommitSHA      = "n/a" //nolint:gochecknoglobals // set by ldflags
	BuildTimestamp = "n/a" //nolint:gochecknoglobals // set by ldflags
)

// moduleResult is the success document written to stdout.
type moduleResult struct {
	Changed bool `json:"changed"`
	// Method is the API verb executed: create, patch or delete. Absent when
	// the cluster already matched the desired state.
	Method string `json:"method,omitempty"`
	// Result is the final VirtualMachine document. Absent after a deletion.
	Result types.Document `json:"result,omitempty"`
	// Duration is the time spent waiting, in seconds.
	Duration int `json:"duration,omitempty"`
}

// moduleFailure is the failure document written to stdout. Changed stays
// true when the mutation happened but a later wait failed.
type moduleFailure struct {
	Failed  bool   `json:"failed"`
	Msg     string `json:"msg"`
	Changed bool   `json:"changed"`
}

// ------------------------------------------------- Main ----------------------------------------------------------- //

func main() {
	logging.SetupDefault()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet(Name, flag.ExitOnError)
	check := fs.Bool("check", false, "report the pending change without applying it")
	version := fs.Bool("version", false, "print version information and exit")
	_ = fs.Parse(args) // Error is handled by flag.ExitOnError

	if *version {
		_, _ = fmt.Fprintf(stdout, "%s %s (%s) %s\n", Name, Version, CommitSHA, BuildTimestamp)

		return exitSuccess
	}

	params, err := LoadParams(fs.Arg(0), stdin)
	if err != nil {
		slog.ErrorContext(ctx, "loading parameters", "error", err.Error())

		return fail(stdout, err, false)
	}

	opts, err := params.Options(*check)
	if err != nil {
		slog.ErrorContext(ctx, "parsing options", "error", err.Error())

		return fail(stdout, err, false)
	}

	restConfig, err := k8s.NewRestConfig(params.Connection())
	if err != nil {
		slog.ErrorContext(ctx, "creating kube rest config", "error", err.Error())

		return fail(stdout, err, false)
	}

	cl, err := k8s.NewClient(restConfig)
	if err != nil {
		slog.ErrorContext(ctx, "creating kube client", "error", err.Error())

		return fail(stdout, err, false)
	}

	vm, err := adapter.NewVirtualMachine(cl, params.APIVersion)
	if err != nil {
		slog.ErrorContext(ctx, "creating virtualmachine adapter", "error", err.Error())

		return fail(stdout, err, false)
	}

	result, err := controller.NewReconciler(vm).Reconcile(ctx, params.Desired(), opts)
	if err != nil {
		slog.ErrorContext(ctx, "reconciling virtualmachine", "error", err.Error())

		// A timed out wait still reports the mutation that happened.
		return fail(stdout, err, result.Changed)
	}

	return succeed(stdout, result)
}

func succeed(stdout io.Writer, result types.ReconcileResult) int {
	out := moduleResult{Changed: result.Changed, Method: result.Method}

	if result.Object != nil {
		out.Result = result.Object.Object
	}

	if result.Duration > 0 {
		out.Duration = int(result.Duration.Seconds())
	}

	if err := writeJSON(stdout, out); err != nil {
		slog.Error("encoding result", "error", err.Error())

		return exitError
	}

	return exitSuccess
}

func fail(stdout io.Writer, failure error, changed bool) int {
	out := moduleFailure{Failed: true, Msg: failure.Error(), Changed: changed}

	if err := writeJSON(stdout, out); err != nil {
		slog.Error("encoding result", "error", err.Error())
	}

	return exitError
}

func writeJSON(w io.Writer, body interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(body)
}
