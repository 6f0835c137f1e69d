package sharedarray

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNew_Basic(t *testing.T) {
	a := New[int32](4)
	if a.Refs() != 1 {
		t.Fatalf("Refs() = %d, want 1", a.Refs())
	}
	if a.Cap() != 4 || a.Len() != 0 {
		t.Fatalf("Cap/Len = %d/%d, want 4/0", a.Cap(), a.Len())
	}
	if !a.Append(1, 2, 3) {
		t.Fatal("Append within capacity failed")
	}
	if a.Append(4, 5) {
		t.Fatal("Append past capacity should fail")
	}
	if diff := cmp.Diff([]int32{1, 2, 3}, a.Elements()); diff != "" {
		t.Fatalf("Elements mismatch (-want +got):\n%s", diff)
	}
	if len(a.Raw()) != 4 {
		t.Fatalf("Raw len = %d, want 4", len(a.Raw()))
	}
}

func TestNullTerminated(t *testing.T) {
	a := New[uint16](3, NullTerminated())
	if len(a.Raw()) != 4 {
		t.Fatalf("Raw len = %d, want capacity+1", len(a.Raw()))
	}
	a.Append(7, 8, 9)
	if a.Raw()[3] != 0 {
		t.Fatal("terminator should stay zero")
	}
	a.SetLen(1)
	if a.Raw()[1] != 0 {
		t.Fatal("SetLen should write terminator at new length")
	}
}

func TestRelease_FreesExactlyOnce(t *testing.T) {
	var frees atomic.Int32
	const retainers = 8

	a := New[byte](16, OnFree(func() { frees.Add(1) }))
	for i := 1; i < retainers; i++ {
		a.Retain()
	}

	var wg sync.WaitGroup
	for i := 0; i < retainers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Release()
		}()
	}
	wg.Wait()

	if got := frees.Load(); got != 1 {
		t.Fatalf("freed %d times, want 1", got)
	}
	if a.Refs() != 0 {
		t.Fatalf("Refs() = %d, want 0", a.Refs())
	}
}

func TestRelease_ReturnsRemaining(t *testing.T) {
	a := New[int](1)
	a.Retain()
	if n := a.Release(); n != 1 {
		t.Fatalf("Release() = %d, want 1", n)
	}
	if n := a.Release(); n != 0 {
		t.Fatalf("Release() = %d, want 0", n)
	}
}

func TestRelease_AfterFreePanics(t *testing.T) {
	a := New[int](1)
	a.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	a.Release()
}

func TestEmptySentinel(t *testing.T) {
	e := Empty[float64]()
	if e != Empty[float64]() {
		t.Fatal("Empty should return one instance per type")
	}
	if !e.IsEmptySentinel() {
		t.Fatal("IsEmptySentinel() = false")
	}
	if New[float64](0) != e {
		t.Fatal("zero capacity should return the sentinel")
	}

	before := e.Refs()
	if before >= 0 {
		t.Fatalf("sentinel count %d should be negative", before)
	}
	for i := 0; i < 100; i++ {
		e.Retain()
		e.Release()
		e.Release()
	}
	if e.Refs() != before {
		t.Fatalf("sentinel count changed: %d -> %d", before, e.Refs())
	}
	if e.Len() != 0 || e.Elements() != nil {
		t.Fatal("sentinel should be empty")
	}
}

func TestEmptySentinel_DistinctPerType(t *testing.T) {
	a := any(Empty[int32]())
	b := any(Empty[int64]())
	if a == b {
		t.Fatal("sentinels of different types must differ")
	}
}

func TestText(t *testing.T) {
	s := Text("hello")
	defer s.Release()

	if s.String() != "hello" {
		t.Fatalf("String() = %q", s.String())
	}
	if !s.IsNullTerminated() {
		t.Fatal("text should be null-terminated")
	}
	raw := s.Raw()
	if raw[len(raw)-1] != 0 {
		t.Fatal("missing terminator")
	}
	if Text("") != Empty[byte]() {
		t.Fatal("empty text should be the sentinel")
	}
}

func TestFrom(t *testing.T) {
	src := []int{1, 2, 3}
	a := From(src)
	src[0] = 99
	if a.Elements()[0] != 1 {
		t.Fatal("From should copy values")
	}
	a.Release()
}

func TestRef_CloseIsIdempotent(t *testing.T) {
	var frees int
	a := New[int](2, OnFree(func() { frees++ }))
	owner := Adopt(a)

	ref := Acquire(a)
	if a.Refs() != 2 {
		t.Fatalf("Refs() = %d, want 2", a.Refs())
	}
	ref.Close()
	ref.Close()
	if a.Refs() != 1 {
		t.Fatalf("Refs() = %d after double Close, want 1", a.Refs())
	}

	owner.Close()
	if frees != 1 {
		t.Fatalf("frees = %d, want 1", frees)
	}
}

func TestUseAfterFreePanics(t *testing.T) {
	a := New[int](2)
	a.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	_ = a.Elements()
}
