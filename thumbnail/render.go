package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"go2tv.app/screenrec/pixbuf"
)

// extract converts a captured frame into an image.
func extract(frame *pixbuf.Frame) (image.Image, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: sample carries no image buffer", ErrFrameExtractionFailed)
	}
	img, err := frame.Image()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameExtractionFailed, err)
	}
	return img, nil
}

// fit scales img down so neither edge exceeds maxEdge. Smaller images and a
// non-positive maxEdge return img unchanged.
func fit(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return img
	}
	if w >= h {
		h = max(h*maxEdge/w, 1)
		w = maxEdge
	} else {
		w = max(w*maxEdge/h, 1)
		h = maxEdge
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: png: %w", ErrEncodingFailed, err)
	}
	return buf.Bytes(), nil
}

func encodeTIFF(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return nil, fmt.Errorf("%w: tiff: %w", ErrEncodingFailed, err)
	}
	return buf.Bytes(), nil
}
