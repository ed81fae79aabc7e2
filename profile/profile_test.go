package profile

import (
	"errors"
	"testing"

	"github.com/lucidmem/recall/core"
)

func TestByName(t *testing.T) {
	p, err := ByName("balanced")
	if err != nil {
		t.Fatalf("ByName(balanced) failed: %v", err)
	}
	if p.Dimensions != 384 {
		t.Errorf("balanced dimensions = %d, want 384", p.Dimensions)
	}

	_, err = ByName("turbo")
	if !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("unknown profile should wrap ErrConfiguration, got %v", err)
	}
}

func TestSelectFor(t *testing.T) {
	tests := []struct {
		name string
		info HostInfo
		want string
	}{
		{"big gpu host", HostInfo{MemoryGB: 32, CPUs: 16, Accelerator: true}, "performance"},
		{"big host no gpu", HostInfo{MemoryGB: 32, CPUs: 16}, "balanced"},
		{"small host", HostInfo{MemoryGB: 6, CPUs: 2}, "conservative"},
		{"tiny host", HostInfo{MemoryGB: 1, CPUs: 1}, "minimal"},
		{"unprobeable host", HostInfo{}, "minimal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := selectFor(tt.info)
			if got.Name != tt.want {
				t.Errorf("selectFor(%+v) = %q, want %q", tt.info, got.Name, tt.want)
			}
		})
	}
}

func TestMinimalDisablesVectorSearch(t *testing.T) {
	p := selectFor(HostInfo{})
	if p.VectorSearch {
		t.Error("minimal profile must not enable vector search")
	}
}
