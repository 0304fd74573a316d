package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadStorageFile reads a storage configuration document such as:
//
//	backend: redis
//	params:
//	  addr: 127.0.0.1:6379
//	  key_prefix: "brokerauth:token:"
func LoadStorageFile(path string) (StorageConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return StorageConfig{}, fmt.Errorf("failed to open storage config: %w", err)
	}
	defer file.Close()

	var storage StorageConfig
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&storage); err != nil {
		return StorageConfig{}, fmt.Errorf("failed to decode storage config: %w", err)
	}
	return storage, nil
}

// Merge returns s overlaid with the non-empty values of other.
func (s StorageConfig) Merge(other StorageConfig) StorageConfig {
	out := StorageConfig{Backend: s.Backend, Params: make(map[string]string, len(s.Params)+len(other.Params))}
	for k, v := range s.Params {
		out.Params[k] = v
	}
	if other.Backend != "" {
		out.Backend = other.Backend
	}
	for k, v := range other.Params {
		if v != "" {
			out.Params[k] = v
		}
	}
	return out
}
