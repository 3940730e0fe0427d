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
	"errors"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/guidograzioli/kubernetes.kubevirt.old/internal/types"
)

const ConfigPathEnvKey = "KUBEVIRT_INVENTORY_CONFIG"

var errLoadConfig = errors.New("loading inventory configuration")

// LoadConfig reads the inventory configuration as YAML or JSON. The given
// path wins over the KUBEVIRT_INVENTORY_CONFIG environment variable; when
// neither is set the zero configuration applies, which inventories every
// namespace of the ambient kubeconfig's cluster.
func LoadConfig(path string) (types.InventoryConfig, error) {
	if path == "" {
		path = os.Getenv(ConfigPathEnvKey)
	}

	config := types.InventoryConfig{}
	if path == "" {
		return config, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return config, errors.Join(err, errLoadConfig)
	}

	if err := yaml.UnmarshalStrict(raw, &config); err != nil {
		return config, errors.Join(err, errLoadConfig)
	}

	return config, nil
}
