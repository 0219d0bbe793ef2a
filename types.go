package gpuprim

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BVH node tags.
const (
	// LeafTag marks a leaf. Its payload is the light index.
	LeafTag uint32 = 0xFFFFFFFE

	// InvalidTag marks padding. Its box is inverted and contains nothing.
	InvalidTag uint32 = 0xFFFFFFFF
)

// Sizes of the GPU-side structs in bytes.
const (
	BVHNodeSize    = 32
	PairSize       = 8
	PointLightSize = 16
	PositionSize   = 16
)

// BVHNode is one node of the flat BVH, laid out as the shaders see it.
//
// Tag is LeafTag, InvalidTag, or the index of the node's first child in
// the level below; internal nodes keep their valid child count in Payload.
type BVHNode struct {
	Min     [3]float32
	Tag     uint32
	Max     [3]float32
	Payload uint32
}

// IsLeaf reports whether the node is a leaf.
func (n BVHNode) IsLeaf() bool { return n.Tag == LeafTag }

// IsInvalid reports whether the node is padding.
func (n BVHNode) IsInvalid() bool { return n.Tag == InvalidTag }

// Contains reports whether o's box lies inside n's box.
func (n BVHNode) Contains(o BVHNode) bool {
	for a := 0; a < 3; a++ {
		if o.Min[a] < n.Min[a] || o.Max[a] > n.Max[a] {
			return false
		}
	}
	return true
}

func (n BVHNode) String() string {
	switch n.Tag {
	case LeafTag:
		return fmt.Sprintf("leaf(%d) %v-%v", n.Payload, n.Min, n.Max)
	case InvalidTag:
		return "invalid"
	default:
		return fmt.Sprintf("node(first=%d, n=%d) %v-%v", n.Tag, n.Payload, n.Min, n.Max)
	}
}

// DecodeBVHNodes decodes a node buffer read back from the device.
func DecodeBVHNodes(b []byte) ([]BVHNode, error) {
	if len(b)%BVHNodeSize != 0 {
		return nil, fmt.Errorf("gpuprim: %d bytes is not a whole number of BVH nodes", len(b))
	}
	nodes := make([]BVHNode, len(b)/BVHNodeSize)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, nodes); err != nil {
		return nil, fmt.Errorf("gpuprim: decode BVH nodes: %w", err)
	}
	return nodes, nil
}

// Pair is a (key, value) pair as sorted by BucketSort.
type Pair struct {
	Key   uint32
	Value uint32
}

// EncodePairs encodes pairs for upload.
func EncodePairs(pairs []Pair) []byte {
	out, _ := binary.Append(nil, binary.LittleEndian, pairs)
	return out
}

// DecodePairs decodes pairs read back from the device.
func DecodePairs(b []byte) []Pair {
	pairs := make([]Pair, len(b)/PairSize)
	_, _ = binary.Decode(b, binary.LittleEndian, pairs)
	return pairs
}

// PointLight is a light's shading data. Positions live in a separate
// buffer of vec4 values.
type PointLight struct {
	Color  [3]float32
	Radius float32
}

// EncodePointLights encodes lights for upload.
func EncodePointLights(lights []PointLight) []byte {
	out, _ := binary.Append(nil, binary.LittleEndian, lights)
	return out
}

// EncodePositions encodes positions as vec4 values with w = 1.
func EncodePositions(positions [][3]float32) []byte {
	vec := make([][4]float32, len(positions))
	for i, p := range positions {
		vec[i] = [4]float32{p[0], p[1], p[2], 1}
	}
	out, _ := binary.Append(nil, binary.LittleEndian, vec)
	return out
}

// EncodeUint32s encodes u32 values for upload.
func EncodeUint32s(vals []uint32) []byte {
	out, _ := binary.Append(nil, binary.LittleEndian, vals)
	return out
}

// DecodeUint32s decodes u32 values read back from the device.
func DecodeUint32s(b []byte) []uint32 {
	vals := make([]uint32, len(b)/4)
	_, _ = binary.Decode(b, binary.LittleEndian, vals)
	return vals
}

// MortonCode interleaves the low 4 bits of x, y and z into the 12-bit key
// the light discretization kernel computes: bit b of x lands at 3b, of y
// at 3b+1 and of z at 3b+2.
func MortonCode(x, y, z uint32) uint32 {
	var code uint32
	for b := uint32(0); b < 4; b++ {
		code |= ((x >> b) & 1) << (3 * b)
		code |= ((y >> b) & 1) << (3*b + 1)
		code |= ((z >> b) & 1) << (3*b + 2)
	}
	return code
}
