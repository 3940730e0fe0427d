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
	"errors"
	"reflect"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
)

var errBuildMergePatch = errors.New("building merge patch")

// managedFieldsPatch computes the JSON merge patch moving the observed
// object toward the desired manifest, restricted to the caller-managed
// fields: metadata labels, metadata annotations and the spec document.
// Server-populated fields (status, resourceVersion, uid, timestamps,
// managedFields) never participate. An empty patch means the object already
// matches.
func managedFieldsPatch(desired, observed *unstructured.Unstructured) (types.Document, error) {
	want, err := types.NormalizeDocument(desired.Object)
	if err != nil {
		return nil, errors.Join(err, errBuildMergePatch)
	}

	have, err := types.NormalizeDocument(observed.Object)
	if err != nil {
		return nil, errors.Join(err, errBuildMergePatch)
	}

	patch := types.Document{}

	metaPatch := types.Document{}
	for _, key := range []string{"labels", "annotations"} {
		wantMeta, _, _ := unstructured.NestedMap(want, "metadata", key)
		if len(wantMeta) == 0 {
			continue
		}

		haveMeta, _, _ := unstructured.NestedMap(have, "metadata", key)
		if haveMeta == nil {
			haveMeta = map[string]interface{}{}
		}

		if sub := diffDocuments(wantMeta, haveMeta); len(sub) > 0 {
			metaPatch[key] = sub
		}
	}

	if len(metaPatch) > 0 {
		patch["metadata"] = metaPatch
	}

	wantSpec, _, _ := unstructured.NestedMap(want, "spec")
	if len(wantSpec) > 0 {
		haveSpec, _, _ := unstructured.NestedMap(have, "spec")
		if haveSpec == nil {
			haveSpec = map[string]interface{}{}
		}

		if sub := diffDocuments(wantSpec, haveSpec); len(sub) > 0 {
			patch["spec"] = sub
		}
	}

	return patch, nil
}

// diffDocuments returns the minimal merge patch between two mappings. Keys
// absent from desired are left alone, never removed. An explicit nil in
// desired is a removal marker and passes through, RFC 7386 deletes the key.
// Mappings recurse; any other differing value is taken from desired
// wholesale.
func diffDocuments(desired, observed map[string]interface{}) map[string]interface{} {
	patch := map[string]interface{}{}

	for key, want := range desired {
		have, exists := observed[key]

		if want == nil {
			if exists {
				patch[key] = nil
			}

			continue
		}

		wantMap, wantIsMap := want.(map[string]interface{})
		haveMap, haveIsMap := have.(map[string]interface{})

		if exists && wantIsMap && haveIsMap {
			if sub := diffDocuments(wantMap, haveMap); len(sub) > 0 {
				patch[key] = sub
			}

			continue
		}

		if !exists || !valueEqual(want, have) {
			patch[key] = want
		}
	}

	return patch
}

// valueEqual compares two document leaves. Numbers compare by value across
// the int64/float64 split JSON decoding produces.
func valueEqual(want, have interface{}) bool {
	if wantNum, ok := numericValue(want); ok {
		haveNum, ok := numericValue(have)

		return ok && wantNum == haveNum
	}

	return reflect.DeepEqual(want, have)
}

func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
