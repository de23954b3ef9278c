package synthetic

import (
	"go2tv.app/screenrec/pixbuf"
)

var bars = [...][3]byte{
	{235, 235, 235},
	{235, 235, 16},
	{16, 235, 235},
	{16, 235, 16},
	{235, 16, 235},
	{235, 16, 16},
	{16, 16, 235},
	{16, 16, 16},
}

// Pattern renders a BGRA test card: vertical colour bars rotated by seed and
// a white band that moves down one row per frame index.
func Pattern(seed uint32, width, height int, index int64, ptsNanos int64) *pixbuf.Frame {
	stride := 4 * width
	data := make([]byte, stride*height)
	band := 0
	if height > 0 {
		band = int(index % int64(height))
	}
	barWidth := max(width/len(bars), 1)

	for y := 0; y < height; y++ {
		row := data[y*stride : (y+1)*stride]
		for x := 0; x < width; x++ {
			rgb := bars[(x/barWidth+int(seed))%len(bars)]
			if y == band {
				rgb = [3]byte{255, 255, 255}
			}
			row[4*x+0] = rgb[2]
			row[4*x+1] = rgb[1]
			row[4*x+2] = rgb[0]
			row[4*x+3] = 0xff
		}
	}

	return &pixbuf.Frame{
		Format: pixbuf.FormatBGRA,
		Width:  width,
		Height: height,
		PTS:    ptsNanos,
		Planes: []pixbuf.Plane{{Stride: stride, Data: data}},
	}
}
