// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

// Package registry is the static, process-init-time stand-in for the
// spec's external module registry: named worker factories registered via
// Register/RegisterMulti, the same idiom the teacher used for its
// build-tag-gated component wrappers (SPEC_FULL.md §10.2).
package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tomtom215/ward/internal/worker"
)

// Factory constructs a single named worker module.
type Factory func() (worker.Worker, error)

// MultiFactory constructs a module that contributes more than one worker.
// names gives the insertion order of the keys in workers; config's `mod:a,b`
// subset syntax selects from these names.
type MultiFactory func() (names []string, workers map[string]worker.Worker, err error)

type entry struct {
	single Factory
	multi  MultiFactory
}

var (
	mu      sync.RWMutex
	entries = make(map[string]entry)
)

// Register adds a single-worker module factory under name. Intended to be
// called from an init() in the module's own file.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	entries[name] = entry{single: f}
}

// RegisterMulti adds a multi-worker module factory under name.
func RegisterMulti(name string, f MultiFactory) {
	mu.Lock()
	defer mu.Unlock()
	entries[name] = entry{multi: f}
}

// Build resolves a configuration's `modules` list into an ordered set of
// named workers, applying any `mod:a,b` subset selection. The returned
// names slice preserves insertion order across modules and, within a
// multi-worker module, the module's own declared order.
func Build(moduleSpecs []string) (names []string, workers map[string]worker.Worker, err error) {
	workers = make(map[string]worker.Worker)

	mu.RLock()
	defer mu.RUnlock()

	for _, spec := range moduleSpecs {
		moduleName, subset := parseModuleSpec(spec)
		e, ok := entries[moduleName]
		if !ok {
			return nil, nil, fmt.Errorf("registry: unknown module %q", moduleName)
		}

		switch {
		case e.single != nil:
			w, buildErr := e.single()
			if buildErr != nil {
				return nil, nil, fmt.Errorf("registry: module %q: %w", moduleName, buildErr)
			}
			names = append(names, moduleName)
			workers[moduleName] = w

		case e.multi != nil:
			subNames, subWorkers, buildErr := e.multi()
			if buildErr != nil {
				return nil, nil, fmt.Errorf("registry: module %q: %w", moduleName, buildErr)
			}
			for _, sub := range subNames {
				if len(subset) > 0 {
					if _, want := subset[sub]; !want {
						continue
					}
				}
				full := moduleName + ":" + sub
				names = append(names, full)
				workers[full] = subWorkers[sub]
			}
		}
	}
	return names, workers, nil
}

// parseModuleSpec splits "mod" or "mod:a,b" into the module name and an
// optional subset-selection set.
func parseModuleSpec(spec string) (string, map[string]struct{}) {
	idx := strings.Index(spec, ":")
	if idx < 0 {
		return spec, nil
	}
	name := spec[:idx]
	rest := spec[idx+1:]
	if rest == "" {
		return name, nil
	}
	parts := strings.Split(rest, ",")
	set := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			set[p] = struct{}{}
		}
	}
	return name, set
}
