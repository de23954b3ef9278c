package pixbuf

import (
	"fmt"
	"image"
	"image/color"
)

// Packed returns the frame pixels with stride padding removed, in the layout
// a rawvideo consumer expects for the frame's format.
func (f *Frame) Packed() []byte {
	switch f.Format {
	case FormatNV12:
		y, c := f.Planes[0], f.Planes[1]
		rowC := chromaRowBytes(f.Width)
		rowsC := chromaRows(f.Height)
		out := make([]byte, 0, f.Width*f.Height+rowC*rowsC)
		out = appendRows(out, y, f.Width, f.Height)
		out = appendRows(out, c, rowC, rowsC)
		return out
	case FormatBGRA:
		p := f.Planes[0]
		out := make([]byte, 0, 4*f.Width*f.Height)
		return appendRows(out, p, 4*f.Width, f.Height)
	default:
		return nil
	}
}

func appendRows(dst []byte, p Plane, rowBytes, rows int) []byte {
	if p.Stride == rowBytes {
		return append(dst, p.Data[:rowBytes*rows]...)
	}
	for r := 0; r < rows; r++ {
		off := r * p.Stride
		dst = append(dst, p.Data[off:off+rowBytes]...)
	}
	return dst
}

// Image returns a standard library view of the frame: *image.RGBA for BGRA
// input and *image.YCbCr with 4:2:0 subsampling for NV12 input.
func (f *Frame) Image() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	switch f.Format {
	case FormatBGRA:
		p := f.Planes[0]
		img := image.NewRGBA(f.Bounds())
		for y := 0; y < f.Height; y++ {
			src := p.Data[y*p.Stride : y*p.Stride+4*f.Width]
			dst := img.Pix[y*img.Stride : y*img.Stride+4*f.Width]
			for x := 0; x < len(src); x += 4 {
				dst[x+0] = src[x+2]
				dst[x+1] = src[x+1]
				dst[x+2] = src[x+0]
				dst[x+3] = src[x+3]
			}
		}
		return img, nil
	case FormatNV12:
		yp, cp := f.Planes[0], f.Planes[1]
		img := image.NewYCbCr(f.Bounds(), image.YCbCrSubsampleRatio420)
		for y := 0; y < f.Height; y++ {
			copy(img.Y[y*img.YStride:y*img.YStride+f.Width], yp.Data[y*yp.Stride:])
		}
		cw := (f.Width + 1) / 2
		for y := 0; y < chromaRows(f.Height); y++ {
			row := cp.Data[y*cp.Stride:]
			for x := 0; x < cw; x++ {
				img.Cb[y*img.CStride+x] = row[2*x]
				img.Cr[y*img.CStride+x] = row[2*x+1]
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: unknown format %s", ErrInvalidFrameData, f.Format)
	}
}

// ToNV12 converts a BGRA frame to full range BT.601 NV12. Chroma is sampled
// from the top-left pixel of each 2x2 block. NV12 input is returned unchanged.
func ToNV12(f *Frame) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Format == FormatNV12 {
		return f, nil
	}

	src := f.Planes[0]
	rowC := chromaRowBytes(f.Width)
	luma := make([]byte, f.Width*f.Height)
	chroma := make([]byte, rowC*chromaRows(f.Height))
	for y := 0; y < f.Height; y++ {
		row := src.Data[y*src.Stride:]
		for x := 0; x < f.Width; x++ {
			b, g, r := row[4*x], row[4*x+1], row[4*x+2]
			yy, cb, cr := color.RGBToYCbCr(r, g, b)
			luma[y*f.Width+x] = yy
			if y%2 == 0 && x%2 == 0 {
				off := (y/2)*rowC + x
				chroma[off] = cb
				chroma[off+1] = cr
			}
		}
	}

	return &Frame{
		Format: FormatNV12,
		Width:  f.Width,
		Height: f.Height,
		PTS:    f.PTS,
		Planes: []Plane{
			{Stride: f.Width, Data: luma},
			{Stride: rowC, Data: chroma},
		},
	}, nil
}

// FromImage packs any image into a BGRA frame.
func FromImage(img image.Image, ptsNanos int64) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]byte, 4*w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			off := 4 * (y*w + x)
			data[off+0] = c.B
			data[off+1] = c.G
			data[off+2] = c.R
			data[off+3] = c.A
		}
	}
	return &Frame{
		Format: FormatBGRA,
		Width:  w,
		Height: h,
		PTS:    ptsNanos,
		Planes: []Plane{{Stride: 4 * w, Data: data}},
	}
}
