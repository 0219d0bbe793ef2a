package refgpu

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/gpuprim/shaders"
)

const wgSize = shaders.WorkgroupSize

type kernelEntry struct {
	fn Kernel
	// serial kernels emulate atomics with plain loads and stores and must
	// see their workgroups one at a time.
	serial bool
}

var kernels = map[string]kernelEntry{
	shaders.ReduceKernel("add", "u32"):  {fn: reduceKernel(u32Elem(0, func(a, b uint32) uint32 { return a + b }))},
	shaders.ReduceKernel("min", "u32"):  {fn: reduceKernel(u32Elem(math.MaxUint32, func(a, b uint32) uint32 { return min(a, b) }))},
	shaders.ReduceKernel("max", "u32"):  {fn: reduceKernel(u32Elem(0, func(a, b uint32) uint32 { return max(a, b) }))},
	shaders.ReduceKernel("add", "vec4"): {fn: reduceKernel(vec4Elem(0, func(a, b float32) float32 { return a + b }))},
	shaders.ReduceKernel("min", "vec4"): {fn: reduceKernel(vec4Elem(math.MaxFloat32, func(a, b float32) float32 { return min(a, b) }))},
	shaders.ReduceKernel("max", "vec4"): {fn: reduceKernel(vec4Elem(-math.MaxFloat32, func(a, b float32) float32 { return max(a, b) }))},

	shaders.ScanDownGlobal:  {fn: scanDownGlobal},
	shaders.ScanDownLocal:   {fn: scanDownLocal},
	shaders.BucketCount:     {fn: bucketCount, serial: true},
	shaders.BucketScatter:   {fn: bucketScatter, serial: true},
	shaders.RadixCount:      {fn: radixCount},
	shaders.RadixDigitScan:  {fn: radixDigitScan},
	shaders.RadixReorder:    {fn: radixReorder},
	shaders.BVHBuild:        {fn: bvhBuild},
	shaders.LightDiscretize: {fn: lightDiscretize},
	shaders.LightLeafInit:   {fn: lightLeafInit},
}

// HasKernel reports whether a kernel name has a Go mirror.
func HasKernel(name string) bool {
	_, ok := kernels[name]
	return ok
}

func loadU32(b []byte, i uint32) uint32 {
	return binary.LittleEndian.Uint32(b[4*uint64(i):])
}

func storeU32(b []byte, i, v uint32) {
	binary.LittleEndian.PutUint32(b[4*uint64(i):], v)
}

func loadF32(b []byte, i uint32) float32 {
	return math.Float32frombits(loadU32(b, i))
}

func storeF32(b []byte, i uint32, v float32) {
	storeU32(b, i, math.Float32bits(v))
}

type vec3 [3]float32

type vec4 [4]float32

func loadVec4(b []byte, i uint32) vec4 {
	return vec4{loadF32(b, 4*i), loadF32(b, 4*i+1), loadF32(b, 4*i+2), loadF32(b, 4*i+3)}
}

func storeVec4(b []byte, i uint32, v vec4) {
	for c := uint32(0); c < 4; c++ {
		storeF32(b, 4*i+c, v[c])
	}
}

// elem describes the element type of one reduce variant.
type elem[T any] struct {
	identity T
	combine  func(a, b T) T
	load     func(b []byte, i uint32) T
	store    func(b []byte, i uint32, v T)
}

func u32Elem(identity uint32, op func(a, b uint32) uint32) elem[uint32] {
	return elem[uint32]{identity: identity, combine: op, load: loadU32, store: storeU32}
}

func vec4Elem(identity float32, op func(a, b float32) float32) elem[vec4] {
	return elem[vec4]{
		identity: vec4{identity, identity, identity, identity},
		combine: func(a, b vec4) vec4 {
			return vec4{op(a[0], b[0]), op(a[1], b[1]), op(a[2], b[2]), op(a[3], b[3])}
		},
		load:  loadVec4,
		store: storeVec4,
	}
}

func reduceKernel[T any](e elem[T]) Kernel {
	return func(inv *Invocation, wg [3]uint32) {
		data := inv.Binding(0)
		var (
			offset      = inv.Param(0)
			length      = inv.Param(1)
			stride      = inv.Param(2)
			count       = inv.Param(3)
			levels      = inv.Param(4)
			blockStride = inv.Param(5)
		)
		base := offset + wg[1]*blockStride

		var partial [wgSize]T
		for t := uint32(0); t < wgSize; t++ {
			leaf := wg[0]*wgSize + t
			idx := (leaf+1)*stride - 1
			v := e.identity
			if leaf < count && (stride > 1 || idx < length) {
				v = e.load(data, base+idx)
			}
			partial[t] = v
		}
		for l := uint32(0); l < levels; l++ {
			span := uint32(1) << (l + 1)
			for t := span - 1; t < wgSize; t += span {
				partial[t] = e.combine(partial[t-span/2], partial[t])
			}
		}
		for t := uint32(0); t < wgSize; t++ {
			leaf := wg[0]*wgSize + t
			if leaf < count {
				e.store(data, base+(leaf+1)*stride-1, partial[t])
			}
		}
	}
}

func scanDownGlobal(inv *Invocation, wg [3]uint32) {
	data := inv.Binding(0)
	var (
		offset      = inv.Param(0)
		stride      = inv.Param(1)
		pairs       = inv.Param(2)
		clearLast   = inv.Param(3)
		blockStride = inv.Param(4)
	)
	base := offset + wg[1]*blockStride
	for t := uint32(0); t < wgSize; t++ {
		k := wg[0]*wgSize + t
		if k >= pairs {
			break
		}
		left := base + (2*k+1)*stride - 1
		right := base + (2*k+2)*stride - 1
		r := loadU32(data, right)
		if clearLast != 0 {
			r = 0
		}
		l := loadU32(data, left)
		storeU32(data, left, r)
		storeU32(data, right, l+r)
	}
}

func scanDownLocal(inv *Invocation, wg [3]uint32) {
	data := inv.Binding(0)
	var (
		offset      = inv.Param(0)
		topStride   = inv.Param(1)
		chunk       = inv.Param(2)
		clearLast   = inv.Param(3)
		blockStride = inv.Param(4)
	)
	base := offset + wg[1]*blockStride + wg[0]*chunk

	var tree [2 * wgSize]uint32
	for i := uint32(0); i < chunk; i++ {
		tree[i] = loadU32(data, base+i)
	}
	if clearLast != 0 {
		tree[chunk-1] = 0
	}
	for s := topStride; s > 0; s >>= 1 {
		pairs := chunk / (2 * s)
		for t := uint32(0); t < pairs && t < wgSize; t++ {
			left := (2*t+1)*s - 1
			right := (2*t+2)*s - 1
			l, r := tree[left], tree[right]
			tree[left] = r
			tree[right] = l + r
		}
	}
	for i := uint32(0); i < chunk; i++ {
		storeU32(data, base+i, tree[i])
	}
}

func bucketCount(inv *Invocation, wg [3]uint32) {
	pairs, scratch := inv.Binding(0), inv.Binding(1)
	offset, length, countsOffset := inv.Param(0), inv.Param(1), inv.Param(2)
	for t := uint32(0); t < wgSize; t++ {
		i := wg[0]*wgSize + t
		if i >= length {
			break
		}
		key := loadU32(pairs, 2*(offset+i))
		slot := countsOffset + key
		storeU32(scratch, slot, loadU32(scratch, slot)+1)
	}
}

func bucketScatter(inv *Invocation, wg [3]uint32) {
	pairs, scratch := inv.Binding(0), inv.Binding(1)
	offset, length, countsOffset := inv.Param(0), inv.Param(1), inv.Param(2)
	for t := uint32(0); t < wgSize; t++ {
		i := wg[0]*wgSize + t
		if i >= length {
			break
		}
		key := loadU32(pairs, 2*(offset+i))
		value := loadU32(pairs, 2*(offset+i)+1)
		counter := countsOffset + key
		slot := loadU32(scratch, counter)
		storeU32(scratch, counter, slot+1)
		storeU32(scratch, 2*slot, key)
		storeU32(scratch, 2*slot+1, value)
	}
}

func radixCount(inv *Invocation, wg [3]uint32) {
	keys, hist := inv.Binding(0), inv.Binding(1)
	shift, numWG := inv.Param(0), inv.Param(1)

	var counts [16]uint32
	for t := uint32(0); t < wgSize; t++ {
		key := loadU32(keys, wg[0]*wgSize+t)
		counts[(key>>shift)&15]++
	}
	for d := uint32(0); d < 16; d++ {
		storeU32(hist, d*numWG+wg[0], counts[d])
	}
}

func radixDigitScan(inv *Invocation, _ [3]uint32) {
	hist := inv.Binding(0)
	numWG := inv.Param(0)

	var totals [16]uint32
	for d := uint32(0); d < 16; d++ {
		totals[d] = loadU32(hist, d*numWG+numWG-1)
	}
	var sum uint32
	for d := uint32(0); d < 16; d++ {
		storeU32(hist, 16*numWG+d, sum)
		sum += totals[d]
	}
}

func radixReorder(inv *Invocation, wg [3]uint32) {
	src, hist, dst := inv.Binding(0), inv.Binding(1), inv.Binding(2)
	shift, numWG := inv.Param(0), inv.Param(1)

	var seen [16]uint32
	for t := uint32(0); t < wgSize; t++ {
		key := loadU32(src, wg[0]*wgSize+t)
		digit := (key >> shift) & 15
		rank := seen[digit]
		seen[digit]++
		pos := loadU32(hist, 16*numWG+digit) + loadU32(hist, digit*numWG+wg[0]) + rank
		storeU32(dst, pos, key)
	}
}

// BVH node words: bmin xyz, tag, bmax xyz, payload.
const (
	nodeWords   = 8
	leafTag     = 0xFFFFFFFE
	invalidTag  = 0xFFFFFFFF
	nodeTagWord = 3
)

type node struct {
	bmin, bmax   vec3
	tag, payload uint32
}

func loadNode(b []byte, i uint32) node {
	w := i * nodeWords
	return node{
		bmin:    vec3{loadF32(b, w), loadF32(b, w+1), loadF32(b, w+2)},
		tag:     loadU32(b, w+nodeTagWord),
		bmax:    vec3{loadF32(b, w+4), loadF32(b, w+5), loadF32(b, w+6)},
		payload: loadU32(b, w+7),
	}
}

func storeNode(b []byte, i uint32, n node) {
	w := i * nodeWords
	for c := uint32(0); c < 3; c++ {
		storeF32(b, w+c, n.bmin[c])
		storeF32(b, w+4+c, n.bmax[c])
	}
	storeU32(b, w+nodeTagWord, n.tag)
	storeU32(b, w+7, n.payload)
}

func invalidNode() node {
	const m = math.MaxFloat32
	return node{bmin: vec3{m, m, m}, tag: invalidTag, bmax: vec3{-m, -m, -m}}
}

func bvhBuild(inv *Invocation, wg [3]uint32) {
	nodes := inv.Binding(0)
	srcLevel, dstLevel, srcCount, dstCount := inv.Param(0), inv.Param(1), inv.Param(2), inv.Param(3)
	for t := uint32(0); t < wgSize; t++ {
		p := wg[0]*wgSize + t
		if p >= dstCount {
			break
		}
		first := 32 * p
		parent := invalidNode()
		var valid uint32
		for c := uint32(0); c < 32; c++ {
			ci := first + c
			if ci >= srcCount {
				break
			}
			child := loadNode(nodes, srcLevel+ci)
			if child.tag == invalidTag {
				continue
			}
			for a := 0; a < 3; a++ {
				parent.bmin[a] = min(parent.bmin[a], child.bmin[a])
				parent.bmax[a] = max(parent.bmax[a], child.bmax[a])
			}
			valid++
		}
		if valid > 0 {
			parent.tag = srcLevel + first
			parent.payload = valid
		}
		storeNode(nodes, dstLevel+p, parent)
	}
}

func morton(x, y, z uint32) uint32 {
	var code uint32
	for b := uint32(0); b < 4; b++ {
		code |= ((x >> b) & 1) << (3 * b)
		code |= ((y >> b) & 1) << (3*b + 1)
		code |= ((z >> b) & 1) << (3*b + 2)
	}
	return code
}

func lightDiscretize(inv *Invocation, wg [3]uint32) {
	positions, scratch := inv.Binding(0), inv.Binding(1)
	length, boundsOffset := inv.Param(0), inv.Param(1)
	for t := uint32(0); t < wgSize; t++ {
		i := wg[0]*wgSize + t
		if i >= length {
			break
		}
		p := loadVec4(positions, i)
		var cell [3]uint32
		for a := uint32(0); a < 3; a++ {
			lo := loadF32(scratch, boundsOffset+a)
			hi := loadF32(scratch, boundsOffset+4+a)
			extent := max(hi-lo, float32(1e-30))
			q := (p[a] - lo) / extent * 16
			f := float32(math.Floor(float64(q)))
			cell[a] = uint32(min(max(f, 0), 15))
		}
		storeU32(scratch, 2*i, morton(cell[0], cell[1], cell[2]))
		storeU32(scratch, 2*i+1, i)
	}
}

func lightLeafInit(inv *Invocation, wg [3]uint32) {
	lights, positions, pairs, nodes := inv.Binding(0), inv.Binding(1), inv.Binding(2), inv.Binding(3)
	length, padded := inv.Param(0), inv.Param(1)
	for t := uint32(0); t < wgSize; t++ {
		i := wg[0]*wgSize + t
		if i >= padded {
			break
		}
		if i >= length {
			storeNode(nodes, i, invalidNode())
			continue
		}
		idx := loadU32(pairs, 2*i+1)
		p := loadVec4(positions, idx)
		r := loadF32(lights, 4*idx+3)
		storeNode(nodes, i, node{
			bmin:    vec3{p[0] - r, p[1] - r, p[2] - r},
			tag:     leafTag,
			bmax:    vec3{p[0] + r, p[1] + r, p[2] + r},
			payload: idx,
		})
	}
}
