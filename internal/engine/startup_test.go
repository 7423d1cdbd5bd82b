package engine

import (
	"context"
	"io"
	"testing"
)

type fakeEngine struct {
	running bool
	models  map[string]bool
	pulled  []string
}

func (f *fakeEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	return "", nil
}
func (f *fakeEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (f *fakeEngine) IsRunning(_ context.Context) bool { return f.running }
func (f *fakeEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range f.models {
		names = append(names, n)
	}
	return names, nil
}
func (f *fakeEngine) HasModel(_ context.Context, name string) bool { return f.models[name] }
func (f *fakeEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	f.pulled = append(f.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	f := &fakeEngine{
		running: true,
		models:  map[string]bool{"qwen2.5:3b": true, "nomic-embed-text": true},
	}
	if err := EnsureReady(context.Background(), f, "qwen2.5:3b", "nomic-embed-text", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(f.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", f.pulled)
	}
}

func TestEnsureReady_PullsMissingModels(t *testing.T) {
	f := &fakeEngine{
		running: true,
		models:  map[string]bool{"qwen2.5:3b": true},
	}
	if err := EnsureReady(context.Background(), f, "qwen2.5:3b", "nomic-embed-text", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(f.pulled) != 1 || f.pulled[0] != "nomic-embed-text" {
		t.Errorf("pulled = %v, want [nomic-embed-text]", f.pulled)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	f := &fakeEngine{running: false}
	if err := EnsureReady(context.Background(), f, "qwen2.5:3b", "nomic-embed-text", io.Discard); err == nil {
		t.Fatal("expected error when engine is not running")
	}
}

func TestEnsureReady_SameModelOnce(t *testing.T) {
	f := &fakeEngine{running: true, models: map[string]bool{}}
	if err := EnsureReady(context.Background(), f, "qwen2.5:3b", "qwen2.5:3b", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(f.pulled) != 1 {
		t.Errorf("model shared by both roles should be pulled once, got %v", f.pulled)
	}
}
