package main

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/gogpu/gpuprim"
)

var (
	backgroundColor = color.RGBA{0x16, 0x18, 0x1d, 0xff}
	leafColor       = color.NRGBA{0xff, 0xc8, 0x57, 0x60}
	levelColors     = []color.NRGBA{
		{0x5a, 0xb4, 0xff, 0xc0},
		{0x8e, 0xe0, 0x7a, 0xd0},
		{0xff, 0x6b, 0x6b, 0xe0},
	}
)

// topView maps the x/z plane of the scene cube onto a square image with a
// margin on every side. Leaves may poke out of the cube by their radius.
type topView struct {
	size   float32
	margin float32
	extent float32
}

func (v topView) coord(a float32) float32 {
	c := v.margin + (a/v.extent+0.5)*(v.size-2*v.margin)
	return min(max(c, 0), v.size)
}

func (v topView) point(x, z float32) (float32, float32) {
	return v.coord(x), v.coord(z)
}

func (v topView) fillBox(r *vector.Rasterizer, n gpuprim.BVHNode) {
	x0, y0 := v.point(n.Min[0], n.Min[2])
	x1, y1 := v.point(n.Max[0], n.Max[2])
	rect(r, x0, y0, x1, y1)
}

func (v topView) strokeBox(r *vector.Rasterizer, n gpuprim.BVHNode, w float32) {
	x0, y0 := v.point(n.Min[0], n.Min[2])
	x1, y1 := v.point(n.Max[0], n.Max[2])
	rect(r, x0, y0, x1, y0+w)
	rect(r, x0, y1-w, x1, y1)
	rect(r, x0, y0+w, x0+w, y1-w)
	rect(r, x1-w, y0+w, x1, y1-w)
}

func rect(r *vector.Rasterizer, x0, y0, x1, y1 float32) {
	r.MoveTo(x0, y0)
	r.LineTo(x1, y0)
	r.LineTo(x1, y1)
	r.LineTo(x0, y1)
	r.ClosePath()
}

// writeLeafPNG draws the leaves seen from above and outlines the boxes of
// the levels above them, the root last.
func writeLeafPNG(path string, size int, extent float32, nodes []gpuprim.BVHNode, levels []levelInfo, root uint32) error {
	if size < 64 {
		return fmt.Errorf("--size %d is too small", size)
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	view := topView{size: float32(size), margin: float32(size) / 20, extent: extent}
	r := vector.NewRasterizer(size, size)
	r.DrawOp = draw.Over
	for _, n := range nodes[:levels[0].count] {
		if !n.IsInvalid() {
			view.fillBox(r, n)
		}
	}
	r.Draw(img, img.Bounds(), image.NewUniform(leafColor), image.Point{})

	for l := 1; l < len(levels); l++ {
		r.Reset(size, size)
		r.DrawOp = draw.Over
		w := float32(l)
		for _, n := range nodes[levels[l].first : levels[l].first+levels[l].count] {
			if !n.IsInvalid() {
				view.strokeBox(r, n, w)
			}
		}
		c := levelColors[min(l-1, len(levelColors)-1)]
		r.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{})
	}

	if err := drawCaption(img, printer.Sprintf("%d lights, %d levels, root %d", levels[0].valid, len(levels), root)); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func drawCaption(img draw.Image, s string) error {
	ft, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return fmt.Errorf("caption font: %w", err)
	}
	face, err := opentype.NewFace(ft, &opentype.FaceOptions{Size: 14, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return fmt.Errorf("caption font: %w", err)
	}
	defer face.Close()

	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(8, 8+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
	return nil
}
