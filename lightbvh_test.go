package gpuprim

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpuprim/gpucore"
)

type lightScene struct {
	lights    []PointLight
	positions [][3]float32
}

func randomLights(n int) lightScene {
	r := testRand()
	var s lightScene
	for i := 0; i < n; i++ {
		s.positions = append(s.positions, [3]float32{r.Float32(), r.Float32(), r.Float32()})
		s.lights = append(s.lights, PointLight{
			Color:  [3]float32{1, 1, 1},
			Radius: 0.01 + 0.05*r.Float32(),
		})
	}
	return s
}

// mortonKeys computes the grid key of every light the way the
// discretization kernel does.
func (s lightScene) mortonKeys() []uint32 {
	lo := [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	hi := [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, p := range s.positions {
		for a := 0; a < 3; a++ {
			lo[a] = min(lo[a], p[a])
			hi[a] = max(hi[a], p[a])
		}
	}
	keys := make([]uint32, len(s.positions))
	for i, p := range s.positions {
		var cell [3]uint32
		for a := 0; a < 3; a++ {
			extent := max(hi[a]-lo[a], float32(1e-30))
			q := (p[a] - lo[a]) / extent * 16
			f := float32(math.Floor(float64(q)))
			cell[a] = uint32(min(max(f, 0), 15))
		}
		keys[i] = MortonCode(cell[0], cell[1], cell[2])
	}
	return keys
}

func buildLightBVH(t *testing.T, pc *Context, s lightScene) (*gpucore.Buffer, uint32) {
	t.Helper()
	n := uint32(len(s.lights))
	lights := uploadBuffer(t, pc, "lights", EncodePointLights(s.lights), 0)
	positions := uploadBuffer(t, pc, "positions", EncodePositions(s.positions), 0)
	s1 := allocBuffer(t, pc, "light scratch1", LightBVHScratch1Size(n))
	s2 := allocBuffer(t, pc, "light scratch2", LightBVHScratch2Size(n))

	var root uint32
	run(t, pc, "light bvh", func(rec *Recorder) error {
		var err error
		root, err = BuildLightBVH(rec, LightBVHArgs{
			Lights:    lights,
			Positions: positions,
			Count:     n,
			Scratch1:  s1,
			Scratch2:  s2,
		})
		return err
	})
	return s1, root
}

func TestBuildLightBVH(t *testing.T) {
	for _, n := range []int{1, 31, 32, 100, 1500} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			pc, _ := newTestContext(t)
			s := randomLights(n)
			buf, root := buildLightBVH(t, pc, s)

			leafCount := LightBVHLeafCount(uint32(n))
			require.Equal(t, LightBVHRootIndex(uint32(n)), root)
			nodes, err := pc.ReadBVHNodes(context.Background(), buf, 0, root+1)
			require.NoError(t, err)
			checkBVH(t, nodes, leafCount)

			keys := s.mortonKeys()
			seen := make([]bool, n)
			var prevKey uint32
			for i, leaf := range nodes[:leafCount] {
				if i >= n {
					assert.True(t, leaf.IsInvalid(), "padding leaf %d", i)
					continue
				}
				require.True(t, leaf.IsLeaf(), "leaf %d is %v", i, leaf)
				idx := leaf.Payload
				require.Less(t, idx, uint32(n))
				assert.False(t, seen[idx], "light %d appears twice", idx)
				seen[idx] = true

				assert.GreaterOrEqual(t, keys[idx], prevKey, "leaf %d out of Morton order", i)
				prevKey = keys[idx]

				p, r := s.positions[idx], s.lights[idx].Radius
				for a := 0; a < 3; a++ {
					assert.Equal(t, p[a]-r, leaf.Min[a])
					assert.Equal(t, p[a]+r, leaf.Max[a])
				}
				assert.True(t, nodes[root].Contains(leaf), "root does not contain light %d", idx)
			}
			assert.NotContains(t, seen, false, "every light has a leaf")
		})
	}
}

func TestBuildLightBVHCoversUnitCube(t *testing.T) {
	pc, _ := newTestContext(t)
	s := randomLights(200)
	for c := 0; c < 8; c++ {
		s.positions = append(s.positions, [3]float32{float32(c & 1), float32(c >> 1 & 1), float32(c >> 2 & 1)})
		s.lights = append(s.lights, PointLight{Color: [3]float32{1, 1, 1}, Radius: 0.01})
	}
	buf, root := buildLightBVH(t, pc, s)

	nodes, err := pc.ReadBVHNodes(context.Background(), buf, 0, root+1)
	require.NoError(t, err)
	checkBVH(t, nodes, LightBVHLeafCount(uint32(len(s.lights))))
	cube := BVHNode{Max: [3]float32{1, 1, 1}}
	assert.True(t, nodes[root].Contains(cube), "root %v does not contain the unit cube", nodes[root])
}

func TestBuildLightBVHSingleLight(t *testing.T) {
	pc, _ := newTestContext(t)
	s := lightScene{
		lights:    []PointLight{{Color: [3]float32{1, 0, 0}, Radius: 0.5}},
		positions: [][3]float32{{1, 2, 3}},
	}
	buf, root := buildLightBVH(t, pc, s)
	assert.Equal(t, uint32(32), root)

	nodes, err := pc.ReadBVHNodes(context.Background(), buf, 0, 33)
	require.NoError(t, err)
	assert.True(t, nodes[0].IsLeaf())
	assert.Equal(t, uint32(0), nodes[0].Payload)
	assert.Equal(t, [3]float32{0.5, 1.5, 2.5}, nodes[root].Min)
	assert.Equal(t, [3]float32{1.5, 2.5, 3.5}, nodes[root].Max)
	assert.Equal(t, uint32(1), nodes[root].Payload)
}

func TestBuildLightBVHPreconditions(t *testing.T) {
	pc, _ := newTestContext(t)
	const n = 64
	lights := allocBuffer(t, pc, "lights", n*PointLightSize)
	positions := allocBuffer(t, pc, "positions", n*PositionSize)
	s1 := allocBuffer(t, pc, "s1", LightBVHScratch1Size(n))
	s2 := allocBuffer(t, pc, "s2", LightBVHScratch2Size(n))
	small := allocBuffer(t, pc, "small", LightBVHScratch1Size(n)-16)
	rec, err := pc.NewRecorder("panics", nil)
	require.NoError(t, err)

	args := LightBVHArgs{Lights: lights, Positions: positions, Scratch1: s1, Scratch2: s2}
	assert.Panics(t, func() { _, _ = BuildLightBVH(rec, args) }, "no lights")

	args.Count = n
	args.Scratch1 = small
	assert.Panics(t, func() { _, _ = BuildLightBVH(rec, args) }, "scratch1 too small")

	args.Scratch1 = s1
	args.Count = n + 1
	assert.Panics(t, func() { _, _ = BuildLightBVH(rec, args) }, "lights overflow")
}
