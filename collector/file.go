// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package collector

import (
	"context"

	"github.com/z5labs/otlpstdout/config"
)

type fileConfig struct {
	Destinations []rawDestination `config:"destinations"`
}

// FileStore loads destinations from a YAML file of the form:
//
//	destinations:
//	  - name: primary
//	    endpoint: https://collector.example.com
//	    auth: x-api-key=secret
//	    exclude: ^/aws/lambda/noisy-.*
type FileStore struct {
	path string
}

// NewFileStore returns a [FileStore] reading path on every Load.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements the [Store] interface. Unlike [SecretsManagerStore] an
// invalid entry fails the whole file.
func (s *FileStore) Load(ctx context.Context) ([]Destination, error) {
	cfg, err := config.Read(ctx, config.YAML[fileConfig](config.ReadFile(s.path)))
	if err != nil {
		return nil, err
	}

	dests := make([]Destination, 0, len(cfg.Destinations))
	for _, raw := range cfg.Destinations {
		d, err := raw.destination()
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	if len(dests) == 0 {
		return nil, ErrNoDestinations
	}
	return dests, nil
}
