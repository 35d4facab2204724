// Ward - Process Supervisor and Hot-Reload Controller
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ward

package registry

import (
	"errors"
	"testing"

	"github.com/tomtom215/ward/internal/worker"
)

type stubWorker struct{ worker.Base }

func (stubWorker) Prepare() error                          { return nil }
func (stubWorker) Start() error                             { return nil }
func (stubWorker) Pause() error                             { return nil }
func (stubWorker) Stop() error                              { return nil }
func (stubWorker) Transitions() *worker.TransitionTable     { return worker.NewBuilder(nil, nil, nil, nil).MustBuild() }

func TestParseModuleSpec(t *testing.T) {
	cases := []struct {
		spec       string
		wantName   string
		wantSubset []string
	}{
		{"mod", "mod", nil},
		{"mod:a,b", "mod", []string{"a", "b"}},
		{"mod:", "mod", nil},
		{"mod:a, b ,", "mod", []string{"a", "b"}},
	}
	for _, c := range cases {
		name, subset := parseModuleSpec(c.spec)
		if name != c.wantName {
			t.Errorf("parseModuleSpec(%q) name = %q, want %q", c.spec, name, c.wantName)
		}
		if len(subset) != len(c.wantSubset) {
			t.Errorf("parseModuleSpec(%q) subset = %v, want %v", c.spec, subset, c.wantSubset)
			continue
		}
		for _, s := range c.wantSubset {
			if _, ok := subset[s]; !ok {
				t.Errorf("parseModuleSpec(%q) subset missing %q", c.spec, s)
			}
		}
	}
}

func TestBuildSingleModule(t *testing.T) {
	Register("test-single", func() (worker.Worker, error) {
		return &stubWorker{}, nil
	})

	names, workers, err := Build([]string{"test-single"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(names) != 1 || names[0] != "test-single" {
		t.Fatalf("names = %v, want [test-single]", names)
	}
	if _, ok := workers["test-single"]; !ok {
		t.Fatalf("workers missing test-single")
	}
}

func TestBuildMultiModuleWithSubset(t *testing.T) {
	RegisterMulti("test-multi", func() ([]string, map[string]worker.Worker, error) {
		names := []string{"a", "b", "c"}
		workers := map[string]worker.Worker{
			"a": &stubWorker{}, "b": &stubWorker{}, "c": &stubWorker{},
		}
		return names, workers, nil
	})

	names, workers, err := Build([]string{"test-multi:a,c"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v, want 2 entries", names)
	}
	if names[0] != "test-multi:a" || names[1] != "test-multi:c" {
		t.Errorf("names = %v, want [test-multi:a test-multi:c] in order", names)
	}
	if len(workers) != 2 {
		t.Errorf("workers = %v, want 2 entries", workers)
	}
}

func TestBuildUnknownModule(t *testing.T) {
	if _, _, err := Build([]string{"does-not-exist"}); err == nil {
		t.Fatal("expected error for unknown module")
	}
}

func TestBuildPropagatesFactoryError(t *testing.T) {
	Register("test-failing", func() (worker.Worker, error) {
		return nil, errors.New("boom")
	})
	if _, _, err := Build([]string{"test-failing"}); err == nil {
		t.Fatal("expected error propagated from factory")
	}
}
