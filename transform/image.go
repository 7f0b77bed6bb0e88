package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Transcoder re-encodes raster images as baseline JPEG at a fixed quality.
type Transcoder struct {
	Quality   int
	MaxWidth  int // 0 disables resizing
	MaxHeight int // 0 disables resizing
	MaxPixels int
}

func NewTranscoder(opts Options) *Transcoder {
	opts = opts.withDefaults()
	return &Transcoder{
		Quality:   opts.ImageQuality,
		MaxWidth:  opts.MaxImageWidth,
		MaxHeight: opts.MaxImageHeight,
		MaxPixels: opts.MaxImagePixels,
	}
}

// Transcode decodes b (the format is sniffed, mediaType is only reported in
// errors) and returns it as a JPEG.
func (t *Transcoder) Transcode(b []byte, mediaType string) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, &TranscodeError{MediaType: mediaType, Err: err}
	}
	if t.MaxPixels > 0 && cfg.Width*cfg.Height > t.MaxPixels {
		return nil, &TranscodeError{
			MediaType: mediaType,
			Err:       fmt.Errorf("%s image %dx%d exceeds %d pixels", format, cfg.Width, cfg.Height, t.MaxPixels),
		}
	}

	src, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, &TranscodeError{MediaType: mediaType, Err: err}
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, t.prepare(src), &jpeg.Options{Quality: t.Quality}); err != nil {
		return nil, &TranscodeError{MediaType: mediaType, Err: err}
	}
	return out.Bytes(), nil
}

// prepare flattens transparency onto white and applies the optional size cap.
func (t *Transcoder) prepare(src image.Image) image.Image {
	bounds := src.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), t.MaxWidth, t.MaxHeight)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}
	return dst
}

// fitWithin scales w x h down to fit maxW x maxH keeping the aspect ratio.
// A zero bound is unconstrained.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale == 1.0 {
		return w, h
	}
	nw, nh := int(float64(w)*scale), int(float64(h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
