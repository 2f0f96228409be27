package memory

import "testing"

func TestTrackerSetCodeAndWriteInvalidates(t *testing.T) {
	r := New(1 << 16)
	r.SMC.SetCode(0x100)
	if !r.SMC.ChunkHasCode(0x100) {
		t.Fatalf("expected chunk containing 0x100 to be marked as code")
	}
	if !r.SMC.PageHasCode(0x100) {
		t.Fatalf("expected page containing 0x100 to be marked as code")
	}

	r.WriteByte(0x100, 0xCC)

	if r.SMC.ChunkHasCode(0x100) {
		t.Fatalf("expected chunk to be cleared after a write landed on it")
	}
	pending := r.SMC.DrainPending()
	if len(pending) != 1 || pending[0] != 0 {
		t.Fatalf("expected one pending page at 0, got %v", pending)
	}
	if more := r.SMC.DrainPending(); len(more) != 0 {
		t.Fatalf("expected DrainPending to clear the pending queue")
	}
}

func TestTrackerWriteWithoutCodeIsNotPending(t *testing.T) {
	r := New(1 << 16)
	r.WriteDword(0x200, 0xDEADBEEF)
	if pending := r.SMC.DrainPending(); len(pending) != 0 {
		t.Fatalf("expected no pending invalidation for a chunk never marked as code, got %v", pending)
	}
}

func TestTrackerResetClearsCodeMarks(t *testing.T) {
	r := New(1 << 16)
	r.SMC.SetCode(0x300)
	r.SMC.Reset()
	if r.SMC.ChunkHasCode(0x300) {
		t.Fatalf("expected Reset to clear code marks")
	}
}

func TestReadWriteRoundTrips(t *testing.T) {
	r := New(1 << 16)
	r.WriteByte(0, 0xAB)
	r.WriteWord(2, 0x1234)
	r.WriteDword(4, 0xCAFEBABE)
	r.WriteQword(8, 0x0102030405060708)
	r.Write128(16, [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})

	if r.ReadByte(0) != 0xAB {
		t.Fatalf("ReadByte mismatch")
	}
	if r.ReadWord(2) != 0x1234 {
		t.Fatalf("ReadWord mismatch")
	}
	if r.ReadDword(4) != 0xCAFEBABE {
		t.Fatalf("ReadDword mismatch")
	}
	if r.ReadQword(8) != 0x0102030405060708 {
		t.Fatalf("ReadQword mismatch")
	}
	v := r.Read128(16)
	for i, b := range v {
		if b != byte(i+1) {
			t.Fatalf("Read128[%d] = %d, want %d", i, b, i+1)
		}
	}
}
