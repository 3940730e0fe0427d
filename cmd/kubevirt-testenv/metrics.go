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

package main

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// newRequestCounter returns the counter tracking cluster API requests, with
// the same resource/verb partitioning a real apiserver reports.
func newRequestCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{ //nolint:exhaustruct
			Name: "kubevirt_testenv_api_requests_total",
			Help: "Number of cluster API requests served, partitioned by resource and verb.",
		},
		[]string{"resource", "verb"},
	)
}

// countRequests increments counter for every request before handing it to
// next.
func countRequests(counter *prometheus.CounterVec, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resource, verb := requestLabels(r)
		counter.WithLabelValues(resource, verb).Inc()

		next.ServeHTTP(w, r)
	})
}

// requestLabels derives the resource and verb labels from the request path
// grammar: /api/v1/... for the core group, /apis/<group>/<version>/... for
// the rest, with an optional namespaces/<namespace> scope before the
// resource segment.
func requestLabels(r *http.Request) (string, string) {
	segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	var rest []string

	switch {
	case len(segments) > 2 && segments[0] == "api":
		rest = segments[2:]
	case len(segments) > 3 && segments[0] == "apis":
		rest = segments[3:]
	default:
		return "discovery", "get"
	}

	resource := rest[0]
	named := len(rest) > 1

	if rest[0] == "namespaces" && len(rest) > 2 {
		resource = rest[2]
		named = len(rest) > 3
	}

	return resource, verbFor(r.Method, named)
}

func verbFor(method string, named bool) string {
	switch method {
	case http.MethodGet:
		if named {
			return "get"
		}

		return "list"
	case http.MethodPost:
		return "create"
	case http.MethodPut:
		return "update"
	case http.MethodPatch:
		return "patch"
	case http.MethodDelete:
		if named {
			return "delete"
		}

		return "deletecollection"
	default:
		return strings.ToLower(method)
	}
}
