// Package proof recovers the QR payload printed on a photographed identity card.
package proof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrUndecodableImage is returned when the upload is not an image at all.
var ErrUndecodableImage = errors.New("proof: undecodable image")

// QRReader decodes a single image. It returns ok=false when no mark is found.
type QRReader interface {
	Read(img image.Image) (text string, ok bool)
}

// Variant derives one candidate image from the original upload.
type Variant struct {
	Name      string
	Transform func(image.Image) image.Image
}

const (
	normalizedWidth = 1000
	contrastBoost   = 40
	sharpenSigma    = 1.0
)

// DefaultVariants are ordered from the cheapest transform to the most aggressive.
func DefaultVariants() []Variant {
	return []Variant{
		{Name: "original", Transform: func(img image.Image) image.Image { return img }},
		{Name: "enhanced", Transform: func(img image.Image) image.Image {
			return imaging.Sharpen(imaging.AdjustContrast(imaging.Grayscale(img), contrastBoost), sharpenSigma)
		}},
		{Name: "resized", Transform: func(img image.Image) image.Image {
			return imaging.Resize(img, normalizedWidth, 0, imaging.Lanczos)
		}},
		{Name: "mark-region", Transform: markRegion},
		{Name: "mark-region-enhanced", Transform: func(img image.Image) image.Image {
			return imaging.AdjustContrast(imaging.Grayscale(markRegion(img)), contrastBoost)
		}},
	}
}

// markRegion keeps the right-hand part of the upper band, where the card's mark is printed.
func markRegion(img image.Image) image.Image {
	b := img.Bounds()
	rect := image.Rect(
		b.Min.X+b.Dx()*55/100, b.Min.Y,
		b.Max.X, b.Min.Y+b.Dy()*60/100,
	)
	return imaging.Crop(img, rect)
}

// Decoder tries each variant in order and returns the first successful read.
type Decoder struct {
	reader   QRReader
	variants []Variant
}

// NewDecoder builds a decoder. A nil reader uses gozxing; no variants means DefaultVariants.
func NewDecoder(reader QRReader, variants ...Variant) *Decoder {
	if reader == nil {
		reader = ZXingReader{}
	}
	if len(variants) == 0 {
		variants = DefaultVariants()
	}
	return &Decoder{reader: reader, variants: variants}
}

// Result is the outcome of a decode. Found=false is a valid outcome, not a failure.
type Result struct {
	Text    string
	Found   bool
	Variant string
}

// Decode parses raw image bytes and runs the variants.
func (d *Decoder) Decode(ctx context.Context, data []byte) (Result, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUndecodableImage, err)
	}
	return d.DecodeImage(ctx, img)
}

// DecodeImage runs the variants on an already decoded image. A panicking variant is
// treated as a miss so the remaining ones still run.
func (d *Decoder) DecodeImage(ctx context.Context, img image.Image) (Result, error) {
	for _, v := range d.variants {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if text, ok := d.attempt(v, img); ok {
			return Result{Text: text, Found: true, Variant: v.Name}, nil
		}
	}
	return Result{}, nil
}

func (d *Decoder) attempt(v Variant, img image.Image) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()
	return d.reader.Read(v.Transform(img))
}

// ZXingReader reads QR codes with gozxing.
type ZXingReader struct{}

func (ZXingReader) Read(img image.Image) (string, bool) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", false
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil || res == nil {
		return "", false
	}
	return res.GetText(), true
}
