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
	"net/http"
)

// BasicAuth is a middleware that performs basic authentication.
func BasicAuth(
	next http.Handler,
	validator func(username, password string, r *http.Request) (bool, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { //nolint:varnamelen
		// An absent or malformed Authorization header yields ok=false.
		username, password, ok := r.BasicAuth()
		if ok {
			if ok, err := validator(username, password, r); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			} else if ok {
				next.ServeHTTP(w, r)

				return
			}
		}

		w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)
		http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
	}
}
