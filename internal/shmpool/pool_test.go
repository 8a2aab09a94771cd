package shmpool

import "testing"

func TestBucketSizeRoundsUpToPowerOfTwo(t *testing.T) {
	cases := map[int64]int64{0: 0, 1: 1, 2: 2, 3: 4, 5: 8, 1024: 1024, 1025: 2048}
	for in, want := range cases {
		if got := bucketSize(in); got != want {
			t.Errorf("bucketSize(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPoolReusesReleasedAllocation(t *testing.T) {
	p := NewPool(InlineAllocator{}, 1<<20)

	a, err := p.Get(100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first := &a.Data[0]
	a.Release()

	b, err := p.Get(100)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if &b.Data[0] != first {
		t.Fatal("expected second Get to reuse the released allocation's backing array")
	}
}

func TestPoolEvictsUnderMemoryPressure(t *testing.T) {
	p := NewPool(InlineAllocator{}, 256) // tiny budget: one 256-byte bucket fits, not 128+256

	a, _ := p.Get(100) // bucket 128
	a.Release()
	if p.PooledBytes() != 128 {
		t.Fatalf("PooledBytes = %d, want 128", p.PooledBytes())
	}

	b, _ := p.Get(200) // bucket 256, evicts the 128 bucket once released
	b.Release()
	if p.PooledBytes() != 256 {
		t.Fatalf("PooledBytes = %d, want 256 after evicting the smaller bucket", p.PooledBytes())
	}
}

func TestPoolGetAllocatesNewWhenEmpty(t *testing.T) {
	p := NewPool(InlineAllocator{}, 1<<20)
	a, err := p.Get(64)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(a.Data) != 64 {
		t.Fatalf("Data len = %d, want 64", len(a.Data))
	}
}

func TestInlineAllocatorSizeExact(t *testing.T) {
	a, err := InlineAllocator{}.Alloc(42)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(a.Data) != 42 {
		t.Fatalf("Data len = %d, want 42", len(a.Data))
	}
	a.Release() // no-op for inline; must not panic
}

func TestNewAllocatorUnknownKind(t *testing.T) {
	if _, err := New("bogus"); err == nil {
		t.Fatal("expected error for unknown allocator kind")
	}
}

func TestNewAllocatorKinds(t *testing.T) {
	if _, err := New("inline"); err != nil {
		t.Fatalf("New(inline): %v", err)
	}
	if _, err := New(""); err != nil {
		t.Fatalf("New(\"\"): %v", err)
	}
}
