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

// kubevirt-testenv serves an in-memory kubevirt.io/v1 cluster API, so the
// module and inventory binaries can be exercised end to end without a
// cluster.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/fakes/clusterfake"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/gracefulshutdown"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/httputil"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/logging"
	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/tlsutil"
)

const (
	Name             = "kubevirt-testenv"
	ConfigPathEnvKey = "KUBEVIRT_TESTENV_CONFIG_PATH"
)

var (
	Version        = "dev" //nolint:gochecknoglobals // set by ldflags
	CommitSHA      = "n/a" //nolint:gochecknoglobals // set by ldflags
	BuildTimestamp = "n/a" //nolint:gochecknoglobals // set by ldflags
)

// ------------------------------------------------- Main ----------------------------------------------------------- //

func main() {
	_, _ = fmt.Fprintf(
		os.Stdout,
		"Starting %s version %s (%s) %s\n",
		Name,
		Version,
		CommitSHA,
		BuildTimestamp,
	)

	logging.SetupDefault()

	gs := gracefulshutdown.New(Name)
	ctx := gs.Context()

	// --------------------------------------------- Config --------------------------------------------------------- //

	config, err := LoadConfig(os.Getenv(ConfigPathEnvKey))
	if err != nil {
		slog.ErrorContext(ctx, "loading testenv configuration", "error", err.Error())
		gs.Shutdown(1)
	}

	// --------------------------------------------- Cluster -------------------------------------------------------- //

	fixtures, err := LoadFixtures(config.FixturesPath)
	if err != nil {
		slog.ErrorContext(ctx, "loading fixtures", "error", err.Error())
		gs.Shutdown(1)
	}

	fake := clusterfake.New().SeedNamespaces(config.Namespaces...).Seed(fixtures...)

	requestCounter := newRequestCounter()
	prometheus.MustRegister(requestCounter)

	var apiHandler http.Handler = countRequests(requestCounter, fake.Handler())
	if config.APIServer.Username != "" {
		apiHandler = httputil.BasicAuth(apiHandler,
			func(username, password string, _ *http.Request) (bool, error) {
				return username == config.APIServer.Username && password == config.APIServer.Password, nil
			})
	}

	apiTLS, err := tlsutil.BuildTLSConfig(&config.APIServer.TLS)
	if err != nil {
		slog.ErrorContext(ctx, "building cluster api TLS configuration", "error", err.Error())
		gs.Shutdown(1)
	}

	apiServer := &http.Server{ //nolint:exhaustruct
		Addr:              fmt.Sprintf(":%d", config.APIServer.Port),
		Handler:           apiHandler,
		TLSConfig:         apiTLS,
		ReadHeaderTimeout: time.Second,
	}

	// --------------------------------------------- Metrics -------------------------------------------------------- //

	metricsHandler := http.NewServeMux()
	metricsHandler.Handle(config.MetricsServer.Path, promhttp.Handler())

	metrics := &http.Server{ //nolint:exhaustruct
		Addr:              fmt.Sprintf(":%d", config.MetricsServer.Port),
		Handler:           metricsHandler,
		ReadHeaderTimeout: time.Second,
	}

	// --------------------------------------------- Probes --------------------------------------------------------- //

	probesHandler := http.NewServeMux()

	probesHandler.Handle(config.ProbesServer.LivenessPath, http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	probesHandler.Handle(config.ProbesServer.ReadinessPath, http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	probes := &http.Server{ //nolint:exhaustruct
		Addr:              fmt.Sprintf(":%d", config.ProbesServer.Port),
		Handler:           probesHandler,
		ReadHeaderTimeout: time.Second,
	}

	// --------------------------------------------- Run Server ----------------------------------------------------- //

	slog.InfoContext(ctx, "serving fake cluster api",
		"port", config.APIServer.Port,
		"namespaces", len(config.Namespaces),
		"fixtures", len(fixtures),
		"basic_auth", config.APIServer.Username != "",
		"tls", config.APIServer.TLS.Enabled,
	)

	httputil.Serve(map[string]*http.Server{
		"cluster": apiServer,
		"metrics": metrics,
		"probes":  probes,
	}, gs)

	slog.Info("✅ gracefully stopped", "binary", Name)
}
