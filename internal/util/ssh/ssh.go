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

// Package ssh probes and commands guests over SSH, the transport the
// inventory hands to automation through ansible_host.
package ssh

import "context"

// Runner executes a command on a remote host.
type Runner interface {
	Run(ctx context.Context, cmd string) (stdout, stderr string, err error)
}
