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

// kubevirt-inventory aggregates the VirtualMachines of one or more clusters
// into a dynamic inventory document on stdout. It speaks the inventory
// script protocol: --list prints the whole tree, --host the variables of a
// single host. Logs go to stderr.
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

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/controller"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/k8s"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/logging"
)

const Name = "kubevirt-inventory"

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

// ------------------------------------------------- Main ----------------------------------------------------------- //

func main() {
	logging.SetupDefault()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(run(ctx, os.Args[1:], os.Stdout))
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet(Name, flag.ExitOnError)
	list := fs.Bool("list", false, "print the full inventory tree")
	host := fs.String("host", "", "print the variables of one host")
	configPath := fs.String("config", "", "path to the inventory configuration file")
	version := fs.Bool("version", false, "print version information and exit")
	_ = fs.Parse(args) // Error is handled by flag.ExitOnError

	if *version {
		_, _ = fmt.Fprintf(stdout, "%s %s (%s) %s\n", Name, Version, CommitSHA, BuildTimestamp)

		return exitSuccess
	}

	if !*list && *host == "" {
		printUsage()

		return exitError
	}

	config, err := LoadConfig(*configPath)
	if err != nil {
		slog.ErrorContext(ctx, "loading configuration", "error", err.Error())

		return exitError
	}

	tree, err := controller.NewInventory(k8s.NewConnectionClients).Build(ctx, config)
	if err != nil {
		slog.ErrorContext(ctx, "building inventory", "error", err.Error())

		return exitError
	}

	if *host != "" {
		// Unknown hosts answer an empty document per the script protocol.
		facts, ok := tree.HostFacts(*host)
		if !ok {
			facts = types.Document{}
		}

		return writeJSON(ctx, stdout, facts)
	}

	return writeJSON(ctx, stdout, tree)
}

func writeJSON(ctx context.Context, stdout io.Writer, body interface{}) int {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(body); err != nil {
		slog.ErrorContext(ctx, "encoding inventory", "error", err.Error())

		return exitError
	}

	return exitSuccess
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [options]

Options:
  --list
      Print the full inventory tree as JSON

  --host string
      Print the variables of one host as JSON

  --config string
      Path to the inventory configuration file (YAML or JSON)

  --version
      Print version information and exit

Environment Variables:
  %s  Inventory configuration file path, used when --config is not given

Exit Codes:
  0  Success
  1  Error (invalid arguments, unreachable cluster, bad configuration)
`, Name, ConfigPathEnvKey)
}
