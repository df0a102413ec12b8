package atom

import (
	"fmt"
	"runtime"
	"slices"
	"sync"
	"testing"
)

// MemoryAllocationMetrics captures memory statistics for benchmarking
type MemoryAllocationMetrics struct {
	Allocs        uint64
	TotalAlloc    uint64
	NumGC         uint32
	GCCPUFraction float64
}

// getMemoryMetrics captures current memory statistics
func getMemoryMetrics() MemoryAllocationMetrics {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return MemoryAllocationMetrics{
		Allocs:        m.Mallocs,
		TotalAlloc:    m.TotalAlloc,
		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,
	}
}

func reportMemory(b *testing.B, before, after MemoryAllocationMetrics) {
	b.ReportMetric(float64(after.Allocs-before.Allocs)/float64(b.N), "mallocs/op")
	b.ReportMetric(float64(after.TotalAlloc-before.TotalAlloc)/float64(b.N), "heap-B/op")
	b.ReportMetric(float64(after.NumGC-before.NumGC), "gc-cycles")
}

func BenchmarkRegisterLoad(b *testing.B) {
	reg := NewRegister(account{Owner: "ada", Balance: 10})

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = reg.Load()
		}
	})
}

func BenchmarkRegisterUpdate(b *testing.B) {
	for _, writers := range []int{1, 4, 16} {
		b.Run(fmt.Sprintf("writers=%d", writers), func(b *testing.B) {
			reg := NewRegister(0)
			before := getMemoryMetrics()
			b.ResetTimer()

			var wg sync.WaitGroup
			per := b.N/writers + 1
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < per; i++ {
						_, _ = reg.Update(func(x int) int { return x + 1 })
					}
				}()
			}
			wg.Wait()

			b.StopTimer()
			reportMemory(b, before, getMemoryMetrics())
			stats := reg.Stats()
			b.ReportMetric(float64(stats.Conflicts)/float64(stats.Swaps), "conflicts/swap")
		})
	}
}

func BenchmarkRegisterUpdate_WithExtensions(b *testing.B) {
	scope := NewScope(WithExtension(&BaseExtension{name: "noop"}))
	defer scope.Dispose()
	reg := NewRegister(0, WithScope(scope))

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = reg.Update(func(x int) int { return x + 1 })
	}
}

func BenchmarkSchemaDerive(b *testing.B) {
	a := account{Owner: "ada", Balance: 10}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		a = accountSchema.Derive(a, balanceProp.With(a.Balance+1))
	}
}

func BenchmarkSchemaHash(b *testing.B) {
	a := account{Owner: "ada", Balance: 10}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = accountSchema.Hash(a)
	}
}

func BenchmarkCopyOnWriteSlice(b *testing.B) {
	for _, size := range []int{16, 256, 4096} {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			reg := NewRegister(make([]int, size))
			before := getMemoryMetrics()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_, _ = reg.Update(func(v []int) []int {
					next := slices.Clone(v)
					next[i%size]++
					return next
				})
			}

			b.StopTimer()
			reportMemory(b, before, getMemoryMetrics())
		})
	}
}

func TestMemoryMetrics_RetainedSnapshotsAreCollected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping memory test in short mode")
	}

	reg := NewRegister(make([]byte, 1<<16))
	for i := 0; i < 64; i++ {
		_, err := reg.Update(func(v []byte) []byte { return slices.Clone(v) })
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}

	before := getMemoryMetrics()
	after := getMemoryMetrics()
	if after.NumGC <= before.NumGC {
		t.Errorf("expected GC to run between samples, got %d -> %d", before.NumGC, after.NumGC)
	}
	if len(reg.Load()) != 1<<16 {
		t.Errorf("expected current snapshot to survive collection")
	}
}
