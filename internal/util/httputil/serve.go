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

package httputil

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/util/gracefulshutdown"
)

type contextKey string

// serverNameContextKey carries the server name into request contexts.
const serverNameContextKey contextKey = "server-name"

const shutdownDeadline = time.Minute

// Serve runs the given servers until the shutdown context fires, then drains
// them. It blocks and only returns once every server stopped.
func Serve(servers map[string]*http.Server, gs *gracefulshutdown.GracefulShutdown) {
	for name, server := range servers {
		ctx := context.WithValue(gs.Context(), serverNameContextKey, name)

		server.BaseContext = func(_ net.Listener) context.Context {
			return ctx
		}

		gs.WaitGroup().Add(1)

		go func() {
			if err := listenAndServe(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "❌ received error", "error", err)

				// Done() must run before Shutdown, which blocks on the group.
				gs.WaitGroup().Done()
				gs.Shutdown(1)

				return
			}

			gs.WaitGroup().Done()
			gs.Shutdown(0)
		}()
	}

	gs.Ready()

	<-gs.Context().Done()

	drain(servers)
}

// listenAndServe serves TLS when the server carries a TLS config. Cert and
// key come from TLSConfig.Certificates, hence the empty path arguments.
func listenAndServe(server *http.Server) error {
	if server.TLSConfig != nil {
		return server.ListenAndServeTLS("", "")
	}

	return server.ListenAndServe()
}

func drain(servers map[string]*http.Server) {
	for name, server := range servers {
		go func() {
			ctx := context.WithValue(context.Background(), serverNameContextKey, name)

			ctx, cancel := context.WithDeadline(ctx, time.Now().Add(shutdownDeadline))
			defer cancel()

			if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "❌ received error while shutting down server", "error", err)

				return
			}

			slog.Info("✅ gracefully shut down server", "server", name)
		}()
	}
}
