package debugconfig

import "testing"

func TestSetAndEnabled(t *testing.T) {
	Set([]string{CPU, FPU})
	if !Enabled(CPU) || !Enabled(FPU) {
		t.Fatalf("expected cpu and fpu to be enabled")
	}
	if Enabled(MMU) {
		t.Fatalf("did not expect mmu to be enabled")
	}
	Set(nil)
	if Enabled(CPU) {
		t.Fatalf("expected categories to be cleared")
	}
}
