package main

import (
	"testing"
	"time"

	"cmdweaver/internal/config"
	"cmdweaver/internal/executor"
)

func TestExecOptionsDefaultsFromConfig(t *testing.T) {
	c := config.DefaultConfig()
	opts := execOptions(c, false, false, 0, 0)

	if opts.MaxParallel != c.Executor.EffectiveMaxParallel() {
		t.Errorf("max parallel not taken from config: %d", opts.MaxParallel)
	}
	if opts.NodeTimeout != c.Executor.NodeTimeout.Std() {
		t.Errorf("node timeout not taken from config: %v", opts.NodeTimeout)
	}
	if opts.Mode == executor.ModeStrict {
		t.Error("strict must default off")
	}
	if opts.DryRun {
		t.Error("dry run must default off")
	}
}

func TestExecOptionsFlagOverrides(t *testing.T) {
	c := config.DefaultConfig()
	opts := execOptions(c, true, true, 2, config.Duration(5*time.Second))

	if !opts.DryRun {
		t.Error("dry-run flag ignored")
	}
	if opts.Mode != executor.ModeStrict {
		t.Error("strict flag ignored")
	}
	if opts.MaxParallel != 2 {
		t.Errorf("max-parallel flag ignored: %d", opts.MaxParallel)
	}
	if opts.NodeTimeout != 5*time.Second {
		t.Errorf("timeout flag ignored: %v", opts.NodeTimeout)
	}
}

func TestThresholdOrDefault(t *testing.T) {
	if got := thresholdOrDefault(false, 0); got != -1 {
		t.Errorf("unset threshold must become the sentinel, got %v", got)
	}
	if got := thresholdOrDefault(true, 0); got != 0 {
		t.Errorf("explicit threshold 0 must pass through, got %v", got)
	}
	if got := thresholdOrDefault(true, 0.5); got != 0.5 {
		t.Errorf("explicit threshold must pass through, got %v", got)
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"solve": false, "query": false, "index": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}
