// ABOUTME: Tests for the system info provider.
// ABOUTME: Checks operation routing and result field presence on the host.

package sysinfo

import (
	"context"
	"testing"
)

func TestCapabilities(t *testing.T) {
	p := New(nil)
	caps := p.Capabilities()
	if len(caps) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(caps))
	}
	if caps[0].Name != "inspect" {
		t.Errorf("inspect must be the default operation, got %q first", caps[0].Name)
	}
}

func TestExecute(t *testing.T) {
	p := New(nil)
	ctx := context.Background()

	t.Run("memory report has the expected fields", func(t *testing.T) {
		result, err := p.Execute(ctx, "memory", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m := result.(map[string]any)
		for _, field := range []string{"total_bytes", "used_bytes", "available_bytes", "used_percent"} {
			if _, ok := m[field]; !ok {
				t.Errorf("missing field %q in %v", field, m)
			}
		}
		if _, ok := m["swap_total_bytes"]; ok {
			t.Error("swap details should require include_details")
		}
	})

	t.Run("memory details include swap", func(t *testing.T) {
		result, err := p.Execute(ctx, "memory", map[string]any{"include_details": true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m := result.(map[string]any)
		if _, ok := m["swap_total_bytes"]; !ok {
			t.Errorf("expected swap details in %v", m)
		}
	})

	t.Run("inspect defaults to system info", func(t *testing.T) {
		result, err := p.Execute(ctx, "inspect", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m := result.(map[string]any)
		if _, ok := m["hostname"]; !ok {
			t.Errorf("expected host info in %v", m)
		}
	})

	t.Run("inspect disk reports usage of root", func(t *testing.T) {
		result, err := p.Execute(ctx, "inspect", map[string]any{"info_type": "disk"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m := result.(map[string]any)
		if m["path"] != "/" {
			t.Errorf("expected root path, got %v", m["path"])
		}
	})

	t.Run("rejects an unknown info_type", func(t *testing.T) {
		if _, err := p.Execute(ctx, "inspect", map[string]any{"info_type": "gpu"}); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("rejects an unknown operation", func(t *testing.T) {
		if _, err := p.Execute(ctx, "reboot", nil); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestInit(t *testing.T) {
	if err := New(nil).Init(context.Background()); err != nil {
		t.Fatalf("init should succeed on this host: %v", err)
	}
}
