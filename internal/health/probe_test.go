package health

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

var (
	up   = Fixed(true, "")
	down = func(reason string) Probe { return Fixed(false, reason) }
)

func TestFixed(t *testing.T) {
	if err := Fixed(true, "ignored").Check(context.Background()); err != nil {
		t.Fatalf("ok probe failed: %v", err)
	}
	if err := Fixed(false, "").Check(context.Background()); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("default reason = %v", err)
	}
	if err := Fixed(false, "migrating").Check(context.Background()); err == nil || err.Error() != "migrating" {
		t.Fatalf("reason = %v", err)
	}
}

func TestAll(t *testing.T) {
	tests := []struct {
		name    string
		probes  []Probe
		wantErr []string
	}{
		{"empty", nil, nil},
		{"all pass", []Probe{up, up}, nil},
		{"nil skipped", []Probe{nil, up, nil}, nil},
		{"one down", []Probe{up, down("store: timeout")}, []string{"store: timeout"}},
		{"reports every failure", []Probe{down("store: refused"), up, down("redis: refused")}, []string{"store: refused", "redis: refused"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := All(tt.probes...).Check(context.Background())
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected failure")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("err %q missing %q", err, want)
				}
			}
		})
	}
}

func TestAny(t *testing.T) {
	calls := 0
	counting := CheckFunc(func(context.Context) error { calls++; return nil })

	if err := Any(down("a"), up, counting).Check(context.Background()); err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 0 {
		t.Fatal("Any kept evaluating after a pass")
	}
	if err := Any(down("a"), down("b")).Check(context.Background()); err == nil || err.Error() != "b" {
		t.Fatalf("all down err = %v, want last", err)
	}
	if err := Any(nil, nil).Check(context.Background()); err == nil || err.Error() != "no healthy probes" {
		t.Fatalf("no probes err = %v", err)
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("zero gate closed: %v", err)
	}
	g.Set("")
	if err := p.Check(context.Background()); err == nil || err.Error() != "draining" {
		t.Fatalf("default reason = %v", err)
	}
	g.Set("deploy")
	if err := p.Check(context.Background()); err == nil || err.Error() != "deploy" {
		t.Fatalf("reason = %v", err)
	}
	g.Clear()
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("cleared gate: %v", err)
	}
}

func TestShutdownGate_Concurrent(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); g.Set("draining"); g.Clear() }()
		go func() { defer wg.Done(); _ = p.Check(context.Background()) }()
	}
	wg.Wait()
}

func TestReadinessComposition(t *testing.T) {
	var g ShutdownGate
	store := &fakePinger{}
	ready := All(g.Probe(), Dependency("store", store, 0))

	if err := ready.Check(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	store.err = errors.New("connection refused")
	if err := ready.Check(context.Background()); err == nil || err.Error() != "store: connection refused" {
		t.Fatalf("store down = %v", err)
	}
	store.err = nil
	g.Set("draining")
	if err := ready.Check(context.Background()); err == nil || err.Error() != "draining" {
		t.Fatalf("draining = %v", err)
	}
}
