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

package types

import (
	"encoding/json"
	"errors"

	"k8s.io/apimachinery/pkg/runtime"
	utiljson "k8s.io/apimachinery/pkg/util/json"
)

var errNormalizeDocument = errors.New("normalizing document")

// Document is a schema-less structured value: the shape the API server hands
// back for custom resources without a registered Go type, and the shape user
// supplied manifests take after parsing.
type Document = map[string]interface{}

// NormalizeDocument round-trips a document through the API server's JSON
// number model. Values parsed from YAML carry float64 numbers while values
// decoded from the API carry int64; normalizing both sides makes them
// comparable.
func NormalizeDocument(doc Document) (Document, error) {
	if doc == nil {
		return nil, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Join(err, errNormalizeDocument)
	}

	out := Document{}
	if err := utiljson.Unmarshal(raw, &out); err != nil {
		return nil, errors.Join(err, errNormalizeDocument)
	}

	return out, nil
}

// DeepCopyDocument returns a deep copy of the document.
func DeepCopyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}

	return runtime.DeepCopyJSON(doc)
}
