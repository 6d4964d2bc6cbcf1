package store

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPutGetDelete_NoTTL(t *testing.T) {
	s := New(1 << 20) // 1MB

	type row struct {
		k string
		v []byte
	}
	data := []row{
		{"a", []byte("alpha")},
		{"b", []byte("beta")},
		{"c", []byte("gamma")},
	}

	for _, r := range data {
		s.Put(r.k, r.v, 0) // ttl=0 -> no expiry
	}

	if got := s.Len(); got != len(data) {
		t.Fatalf("Len = %d, want %d", got, len(data))
	}

	for _, r := range data {
		got, ok := s.Get(r.k)
		if !ok {
			t.Fatalf("Get(%q) !ok", r.k)
		}
		if !bytes.Equal(got, r.v) {
			t.Fatalf("Get(%q) = %q, want %q", r.k, got, r.v)
		}
	}

	if ok := s.Delete("b"); !ok {
		t.Fatalf("Delete(b) = false, want true")
	}
	if _, ok := s.Get("b"); ok {
		t.Fatalf("Get(b) ok after delete")
	}
}

func TestOverwriteKeepsLen(t *testing.T) {
	s := New(1 << 20)
	s.Put("x", []byte("one"), 0)
	s.Put("x", []byte("two"), 0)
	if got := s.Len(); got != 1 {
		t.Fatalf("Len after overwrite = %d, want 1", got)
	}
	v, ok := s.Get("x")
	if !ok || string(v) != "two" {
		t.Fatalf("Get(x) = %q,%v want two,true", v, ok)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(1 << 20)

	s.Put("k", []byte("v"), 50*time.Millisecond)
	time.Sleep(90 * time.Millisecond)

	if _, ok := s.Get("k"); ok {
		t.Fatalf("expected key to expire")
	}
}

func TestEvictionByCapacity_LRU(t *testing.T) {
	s := New(9)

	s.Put("a", []byte("1234"), 0) // ~4
	s.Put("b", []byte("56"), 0)   // ~2  total ~6

	if _, ok := s.Get("a"); !ok {
		t.Fatalf("precondition failed: expected to get a before eviction")
	}

	s.Put("c", []byte("7890"), 0) // ~4, evicts least-recent "b"

	if _, ok := s.Get("a"); !ok {
		t.Fatalf("expected a to remain")
	}
	if _, ok := s.Get("c"); !ok {
		t.Fatalf("expected c to be present")
	}
	if _, ok := s.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
}

func TestConcurrentAccess_NoRaces(t *testing.T) {
	s := New(1 << 20)

	var wg sync.WaitGroup
	const G = 32
	const N = 2000

	errCh := make(chan error, G)
	var stop atomic.Bool

	for gid := range G {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			for i := range N {
				if stop.Load() {
					return
				}
				k := fmt.Sprintf("k-%d-%d", gid, i)
				v := fmt.Appendf(nil, "v-%d", i)

				s.Put(k, v, 0)

				got, ok := s.Get(k)
				if !ok {
					errCh <- fmt.Errorf("missing key=%s right after Put", k)
					stop.Store(true)
					return
				}
				if !bytes.Equal(got, v) {
					errCh <- fmt.Errorf("mismatch for key=%s", k)
					stop.Store(true)
					return
				}

				if i%7 == 0 {
					s.Delete(k)
				}
			}
		}(gid)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrency test failed: %v", err)
	}
}

func TestHandlePutGetDelete(t *testing.T) {
	s := New(1 << 20)

	putResp := Handle(s, Request{Op: OpPut, Key: "k", Value: []byte("v")})
	if !putResp.Found {
		t.Fatalf("put response Found = false, want true")
	}

	getResp := Handle(s, Request{Op: OpGet, Key: "k"})
	if !getResp.Found || string(getResp.Value) != "v" {
		t.Fatalf("get response = %+v, want found v", getResp)
	}

	delResp := Handle(s, Request{Op: OpDelete, Key: "k"})
	if !delResp.Found {
		t.Fatalf("delete response Found = false, want true (key existed)")
	}

	missResp := Handle(s, Request{Op: OpGet, Key: "k"})
	if missResp.Found {
		t.Fatalf("get after delete Found = true, want false")
	}
}

func TestHandleUnknownOp(t *testing.T) {
	s := New(1 << 20)
	resp := Handle(s, Request{Op: "bogus", Key: "k"})
	if resp.Err == "" {
		t.Fatalf("expected Err set for unknown op")
	}
}
