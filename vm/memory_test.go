package vm

import "testing"

func TestChunkAlignment(t *testing.T) {
	c, err := NewChunk(ChunkReadWrite)
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	defer c.Release()

	if c.Base()%ChunkSize != 0 {
		t.Errorf("chunk base %#x is not aligned to %#x", c.Base(), ChunkSize)
	}
	if c.Limit()-c.Base() != ChunkSize {
		t.Errorf("chunk spans %d bytes, want %d", c.Limit()-c.Base(), ChunkSize)
	}
	if c.Executable() {
		t.Error("read-write chunk reports executable")
	}
}

func TestChunkBaseMasking(t *testing.T) {
	c, err := NewChunk(ChunkReadWrite)
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	defer c.Release()

	// Any interior address masks back to the chunk base.
	for _, offset := range []uintptr{0, 8, 4096, ChunkSize - 8} {
		addr := c.Base() + offset
		if got := chunkBase(addr); got != c.Base() {
			t.Errorf("chunkBase(%#x) = %#x, want %#x", addr, got, c.Base())
		}
		if !c.Contains(addr) {
			t.Errorf("Contains(%#x) = false", addr)
		}
	}
}

func TestAllocationRange(t *testing.T) {
	c, err := NewChunk(ChunkReadWrite)
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	defer c.Release()

	r := &c.alloc
	first := r.Allocate(24)
	if first != c.Base() {
		t.Errorf("first allocation at %#x, want chunk base %#x", first, c.Base())
	}
	second := r.Allocate(10)
	if second != first+24 {
		t.Errorf("second allocation at %#x, want %#x", second, first+24)
	}
	// 10 rounds up to 16.
	third := r.Allocate(8)
	if third != second+16 {
		t.Errorf("third allocation at %#x, want %#x", third, second+16)
	}
}

func TestAllocationRangeExhaustion(t *testing.T) {
	r := &AllocationRange{base: 0x1000, limit: 0x1020}
	if addr := r.Allocate(64); addr != 0 {
		t.Fatalf("oversized allocation returned %#x, want 0", addr)
	}
	// Failure must not move the base.
	if addr := r.Allocate(32); addr != 0x1000 {
		t.Fatalf("allocation after failure returned %#x, want 0x1000", addr)
	}
	if addr := r.Allocate(8); addr != 0 {
		t.Fatalf("allocation past limit returned %#x, want 0", addr)
	}
}

func TestBitmap(t *testing.T) {
	b := NewBitmap(130)
	if b.Len() != 130 {
		t.Fatalf("Len = %d, want 130", b.Len())
	}
	for _, i := range []int{0, 1, 63, 64, 129} {
		b.Set(i, true)
	}
	if b.Count() != 5 {
		t.Errorf("Count = %d, want 5", b.Count())
	}
	if !b.At(64) || b.At(65) {
		t.Error("bit 64 should be set, bit 65 clear")
	}
	b.Set(64, false)
	if b.At(64) {
		t.Error("bit 64 should be clear after reset")
	}
}
