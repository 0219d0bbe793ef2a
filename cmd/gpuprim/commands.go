package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpuprim"
	"github.com/gogpu/gpuprim/gpucore"
)

// printer groups digits in the counts the commands report.
var printer = message.NewPrinter(language.English)

func newRand(ctx *cli.Context) *rand.Rand {
	seed := uint64(ctx.Int64("seed"))
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func report(ctx *cli.Context, name string, n uint32, elapsed time.Duration, detail string) {
	printer.Fprintf(ctx.App.Writer, "%s: %d elements in %v, %s\n", name, n, elapsed.Round(time.Microsecond), detail)
}

func parseReduceOp(s string) (gpuprim.ReduceOp, error) {
	for _, op := range []gpuprim.ReduceOp{gpuprim.ReduceAdd, gpuprim.ReduceMin, gpuprim.ReduceMax} {
		if op.String() == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown reduce operator %q", s)
}

func hostReduce(op gpuprim.ReduceOp, vals []uint32) uint32 {
	switch op {
	case gpuprim.ReduceMin:
		return slices.Min(vals)
	case gpuprim.ReduceMax:
		return slices.Max(vals)
	default:
		var sum uint32
		for _, v := range vals {
			sum += v
		}
		return sum
	}
}

func runReduce(ctx *cli.Context) error {
	n := uint32(ctx.Uint("n"))
	if n == 0 {
		return errors.New("--n must be positive")
	}
	op, err := parseReduceOp(ctx.String("op"))
	if err != nil {
		return err
	}

	pc, closeAll, err := openContext(ctx)
	if err != nil {
		return err
	}
	defer closeAll()
	rc, cancel := runContext()
	defer cancel()

	rng := newRand(ctx)
	vals := make([]uint32, n)
	for i := range vals {
		vals[i] = rng.Uint32()
	}

	buf, err := pc.AllocDeviceOnly("reduce data", gpucore.BufferUsageScratch, 4*uint64(gpuprim.NextPow2(n)))
	if err != nil {
		return err
	}
	defer buf.Release()
	if err := pc.WriteBuffer(buf.Get(), 0, gpuprim.EncodeUint32s(vals)); err != nil {
		return err
	}

	args := gpuprim.ReduceArgs{Op: op, Elem: gpuprim.ElemU32, Buffer: buf.Get(), Length: n, Blocks: 1}
	start := time.Now()
	err = pc.Run(rc, "reduce", func(rec *gpuprim.Recorder) error {
		return gpuprim.Reduce(rec, args)
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	got, err := pc.ReadUint32s(rc, buf.Get(), gpuprim.ReduceResultIndex(args, 0), 1)
	if err != nil {
		return err
	}
	if want := hostReduce(op, vals); got[0] != want {
		return fmt.Errorf("reduce %s: device says %d, host says %d", op, got[0], want)
	}
	report(ctx, "reduce "+op.String(), n, elapsed, printer.Sprintf("result %d", got[0]))
	return nil
}

func runScan(ctx *cli.Context) error {
	n := uint32(ctx.Uint("n"))
	if n < gpuprim.MinScanLength || !gpuprim.IsPow2(n) {
		return fmt.Errorf("--n %d is not a power of two", n)
	}

	pc, closeAll, err := openContext(ctx)
	if err != nil {
		return err
	}
	defer closeAll()
	rc, cancel := runContext()
	defer cancel()

	rng := newRand(ctx)
	vals := make([]uint32, n)
	for i := range vals {
		vals[i] = rng.Uint32N(1 << 10)
	}

	buf, err := pc.AllocDeviceOnly("scan data", gpucore.BufferUsageScratch, 4*uint64(n))
	if err != nil {
		return err
	}
	defer buf.Release()
	if err := pc.WriteBuffer(buf.Get(), 0, gpuprim.EncodeUint32s(vals)); err != nil {
		return err
	}

	start := time.Now()
	err = pc.Run(rc, "scan", func(rec *gpuprim.Recorder) error {
		return gpuprim.Scan(rec, gpuprim.ScanArgs{Buffer: buf.Get(), Length: n, Blocks: 1})
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	got, err := pc.ReadUint32s(rc, buf.Get(), 0, n)
	if err != nil {
		return err
	}
	var sum uint32
	for i, v := range vals {
		if got[i] != sum {
			return fmt.Errorf("scan: element %d is %d, want %d", i, got[i], sum)
		}
		sum += v
	}
	report(ctx, "scan", n, elapsed, printer.Sprintf("total %d", sum))
	return nil
}

func runSort(ctx *cli.Context) error {
	n := uint32(ctx.Uint("n"))
	switch algo := ctx.String("algo"); algo {
	case "radix":
		if !gpuprim.IsPow2(n) || n < gpuprim.WorkgroupSize {
			return fmt.Errorf("radix sort needs a power of two of at least %d keys, got %d", gpuprim.WorkgroupSize, n)
		}
		return runRadixSort(ctx, n)
	case "bucket":
		if n == 0 {
			return errors.New("--n must be positive")
		}
		return runBucketSort(ctx, n)
	default:
		return fmt.Errorf("unknown sort algorithm %q", algo)
	}
}

func runRadixSort(ctx *cli.Context, n uint32) error {
	pc, closeAll, err := openContext(ctx)
	if err != nil {
		return err
	}
	defer closeAll()
	rc, cancel := runContext()
	defer cancel()

	rng := newRand(ctx)
	keys := make([]uint32, n)
	for i := range keys {
		keys[i] = rng.Uint32()
	}

	keyBuf, err := pc.AllocDeviceOnly("radix keys", gpucore.BufferUsageScratch, 4*uint64(n))
	if err != nil {
		return err
	}
	defer keyBuf.Release()
	s1, err := pc.AllocDeviceOnly("radix scratch1", gpucore.BufferUsageScratch, gpuprim.RadixScratch1Size(n))
	if err != nil {
		return err
	}
	defer s1.Release()
	s2, err := pc.AllocDeviceOnly("radix scratch2", gpucore.BufferUsageScratch, gpuprim.RadixScratch2Size(n))
	if err != nil {
		return err
	}
	defer s2.Release()
	if err := pc.WriteBuffer(keyBuf.Get(), 0, gpuprim.EncodeUint32s(keys)); err != nil {
		return err
	}

	start := time.Now()
	err = pc.Run(rc, "radix sort", func(rec *gpuprim.Recorder) error {
		return gpuprim.RadixSort(rec, gpuprim.RadixSortArgs{
			Keys: keyBuf.Get(), Length: n, Scratch1: s1.Get(), Scratch2: s2.Get(),
		})
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	got, err := pc.ReadUint32s(rc, keyBuf.Get(), 0, n)
	if err != nil {
		return err
	}
	slices.Sort(keys)
	if i := firstMismatch(got, keys); i >= 0 {
		return fmt.Errorf("radix sort: key %d is %d, want %d", i, got[i], keys[i])
	}
	report(ctx, "radix sort", n, elapsed, "sorted")
	return nil
}

func firstMismatch(a, b []uint32) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}

func comparePairs(a, b gpuprim.Pair) int {
	if c := cmp.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return cmp.Compare(a.Value, b.Value)
}

func runBucketSort(ctx *cli.Context, n uint32) error {
	pc, closeAll, err := openContext(ctx)
	if err != nil {
		return err
	}
	defer closeAll()
	rc, cancel := runContext()
	defer cancel()

	rng := newRand(ctx)
	pairs := make([]gpuprim.Pair, n)
	for i := range pairs {
		pairs[i] = gpuprim.Pair{Key: rng.Uint32N(gpuprim.BucketKeySize), Value: uint32(i)}
	}

	pairBuf, err := pc.AllocDeviceOnly("bucket pairs", gpucore.BufferUsageScratch, gpuprim.PairSize*uint64(n))
	if err != nil {
		return err
	}
	defer pairBuf.Release()
	scratch, err := pc.AllocDeviceOnly("bucket scratch", gpucore.BufferUsageScratch, gpuprim.BucketSortScratchSize(n))
	if err != nil {
		return err
	}
	defer scratch.Release()
	if err := pc.WriteBuffer(pairBuf.Get(), 0, gpuprim.EncodePairs(pairs)); err != nil {
		return err
	}

	start := time.Now()
	err = pc.Run(rc, "bucket sort", func(rec *gpuprim.Recorder) error {
		return gpuprim.BucketSort(rec, gpuprim.BucketSortArgs{Pairs: pairBuf.Get(), Length: n, Scratch: scratch.Get()})
	})
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	data, err := pc.ReadBuffer(rc, pairBuf.Get(), 0, gpuprim.PairSize*uint64(n))
	if err != nil {
		return err
	}
	got := gpuprim.DecodePairs(data)
	for i := 1; i < len(got); i++ {
		if got[i-1].Key > got[i].Key {
			return fmt.Errorf("bucket sort: key %d at %d follows key %d", got[i].Key, i, got[i-1].Key)
		}
	}
	// Equal keys may come back in any order; compare as multisets.
	slices.SortFunc(got, comparePairs)
	slices.SortFunc(pairs, comparePairs)
	if !slices.Equal(got, pairs) {
		return errors.New("bucket sort: output is not a permutation of the input")
	}
	report(ctx, "bucket sort", n, elapsed, "sorted")
	return nil
}
