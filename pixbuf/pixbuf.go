// Package pixbuf builds encoder-ready pixel buffers from raw frame memory.
package pixbuf

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
)

var ErrInvalidFrameData = errors.New("invalid frame data")

// Format identifies the memory layout of a Frame.
type Format int

const (
	// FormatNV12 is planar 4:2:0 with a full resolution luma plane followed by
	// one half resolution plane of interleaved Cb/Cr pairs.
	FormatNV12 Format = iota + 1
	// FormatBGRA is packed 8-bit blue, green, red, alpha.
	FormatBGRA
)

func (f Format) String() string {
	switch f {
	case FormatNV12:
		return "NV12"
	case FormatBGRA:
		return "BGRA"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FFmpegPixFmt returns the rawvideo pix_fmt name for f.
func (f Format) FFmpegPixFmt() string {
	switch f {
	case FormatNV12:
		return "nv12"
	case FormatBGRA:
		return "bgra"
	default:
		return ""
	}
}

// ParseFormat accepts "nv12" or "bgra" in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "nv12", "yuv":
		return FormatNV12, nil
	case "bgra":
		return FormatBGRA, nil
	default:
		return 0, fmt.Errorf("unknown pixel format %q", s)
	}
}

// Plane is one contiguous region of pixel memory.
type Plane struct {
	Stride int
	Data   []byte
}

// Frame is an owned copy of one video frame.
type Frame struct {
	Format Format
	Width  int
	Height int
	// PTS is the presentation timestamp in nanoseconds.
	PTS    int64
	Planes []Plane
}

func chromaRows(height int) int {
	return (height + 1) / 2
}

func chromaRowBytes(width int) int {
	return 2 * ((width + 1) / 2)
}

// covers reports whether n bytes hold rows rows of stride bytes. rows must be
// positive.
func covers(n, stride, rows int) bool {
	if stride > math.MaxInt/rows {
		return false
	}
	return n >= stride*rows
}

// BuildFromPlanar copies a luma plane and an interleaved CbCr plane into a new
// NV12 frame. Strides may exceed the row width and buffers may carry trailing
// bytes; both are preserved as given.
func BuildFromPlanar(width, height int, ptsNanos int64, lumaStride int, luma []byte, chromaStride int, chroma []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrameData, width, height)
	}
	if lumaStride < width {
		return nil, fmt.Errorf("%w: luma stride %d < width %d", ErrInvalidFrameData, lumaStride, width)
	}
	if chromaStride < chromaRowBytes(width) {
		return nil, fmt.Errorf("%w: chroma stride %d < %d", ErrInvalidFrameData, chromaStride, chromaRowBytes(width))
	}
	if !covers(len(luma), lumaStride, height) {
		return nil, fmt.Errorf("%w: luma plane has %d bytes, need %d rows of %d", ErrInvalidFrameData, len(luma), height, lumaStride)
	}
	if !covers(len(chroma), chromaStride, chromaRows(height)) {
		return nil, fmt.Errorf("%w: chroma plane has %d bytes, need %d rows of %d", ErrInvalidFrameData, len(chroma), chromaRows(height), chromaStride)
	}

	return &Frame{
		Format: FormatNV12,
		Width:  width,
		Height: height,
		PTS:    ptsNanos,
		Planes: []Plane{
			{Stride: lumaStride, Data: append([]byte(nil), luma...)},
			{Stride: chromaStride, Data: append([]byte(nil), chroma...)},
		},
	}, nil
}

// BuildFromPacked copies packed BGRA rows into a new frame.
func BuildFromPacked(width, height int, ptsNanos int64, rowStride int, packed []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrameData, width, height)
	}
	if width > math.MaxInt/4 || rowStride < 4*width {
		return nil, fmt.Errorf("%w: row stride %d too narrow for width %d", ErrInvalidFrameData, rowStride, width)
	}
	if !covers(len(packed), rowStride, height) {
		return nil, fmt.Errorf("%w: buffer has %d bytes, need %d rows of %d", ErrInvalidFrameData, len(packed), height, rowStride)
	}

	return &Frame{
		Format: FormatBGRA,
		Width:  width,
		Height: height,
		PTS:    ptsNanos,
		Planes: []Plane{
			{Stride: rowStride, Data: append([]byte(nil), packed...)},
		},
	}, nil
}

// Validate reports whether the frame's planes cover its declared geometry.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrameData)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrameData, f.Width, f.Height)
	}
	switch f.Format {
	case FormatNV12:
		if len(f.Planes) != 2 {
			return fmt.Errorf("%w: nv12 needs 2 planes, got %d", ErrInvalidFrameData, len(f.Planes))
		}
		y, c := f.Planes[0], f.Planes[1]
		if y.Stride < f.Width || !covers(len(y.Data), y.Stride, f.Height) {
			return fmt.Errorf("%w: short luma plane", ErrInvalidFrameData)
		}
		if c.Stride < chromaRowBytes(f.Width) || !covers(len(c.Data), c.Stride, chromaRows(f.Height)) {
			return fmt.Errorf("%w: short chroma plane", ErrInvalidFrameData)
		}
	case FormatBGRA:
		if len(f.Planes) != 1 {
			return fmt.Errorf("%w: bgra needs 1 plane, got %d", ErrInvalidFrameData, len(f.Planes))
		}
		p := f.Planes[0]
		if f.Width > math.MaxInt/4 || p.Stride < 4*f.Width || !covers(len(p.Data), p.Stride, f.Height) {
			return fmt.Errorf("%w: short bgra plane", ErrInvalidFrameData)
		}
	default:
		return fmt.Errorf("%w: unknown format %s", ErrInvalidFrameData, f.Format)
	}
	return nil
}

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}
