package vm

import "testing"

func TestTaggedNumberRoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40), MaxTaggedNumber, MinTaggedNumber}
	for _, n := range values {
		tag := TaggedFromNumber(n)
		if !tag.IsNumber() {
			t.Errorf("TaggedFromNumber(%d).IsNumber() = false", n)
		}
		if tag.IsPointer() {
			t.Errorf("TaggedFromNumber(%d).IsPointer() = true", n)
		}
		if got := tag.Number(); got != n {
			t.Errorf("Number() = %d, want %d", got, n)
		}
	}
}

func TestTaggedPointerRoundTrip(t *testing.T) {
	addrs := []uintptr{0, 8, 0x100000, 0x7FFF_FFF8}
	for _, addr := range addrs {
		tag := TaggedFromPointer(addr)
		if !tag.IsPointer() {
			t.Errorf("TaggedFromPointer(%#x).IsPointer() = false", addr)
		}
		if tag.IsNumber() {
			t.Errorf("TaggedFromPointer(%#x).IsNumber() = true", addr)
		}
		if got := tag.Pointer(); got != addr {
			t.Errorf("Pointer() = %#x, want %#x", got, addr)
		}
	}
}

func TestTaggedExactlyOneKind(t *testing.T) {
	for _, tag := range []Tagged{TaggedFromNumber(7), TaggedFromPointer(0x1000)} {
		if tag.IsNumber() == tag.IsPointer() {
			t.Errorf("tag %#x: IsNumber and IsPointer agree", uint64(tag))
		}
	}
}

func TestTaggedRejectsUnaligned(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("TaggedFromPointer accepted an unaligned address")
		}
	}()
	TaggedFromPointer(0x1002)
}

func TestTaggedRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("TaggedFromNumber accepted an out-of-range value")
		}
	}()
	TaggedFromNumber(MaxTaggedNumber + 1)
}
