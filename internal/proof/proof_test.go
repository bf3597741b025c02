package proof

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

func cardWithQR(t *testing.T, text string) []byte {
	t.Helper()
	mark, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("encode qr: %v", err)
	}
	card := imaging.New(900, 560, color.White)
	card = imaging.Paste(card, mark, image.Pt(600, 40))
	var buf bytes.Buffer
	if err := png.Encode(&buf, card); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func blankCard(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(400, 250, color.White)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeFindsPrintedMark(t *testing.T) {
	d := NewDecoder(nil)
	res, err := d.Decode(context.Background(), cardWithQR(t, "KH-PROOF-AB123"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !res.Found || res.Text != "KH-PROOF-AB123" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDecodeNoMarkIsNotAnError(t *testing.T) {
	res, err := NewDecoder(nil).Decode(context.Background(), blankCard(t))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Found {
		t.Fatalf("unexpected match %+v", res)
	}
}

func TestDecodeRejectsNonImage(t *testing.T) {
	_, err := NewDecoder(nil).Decode(context.Background(), []byte("not an image"))
	if !errors.Is(err, ErrUndecodableImage) {
		t.Fatalf("expected ErrUndecodableImage, got %v", err)
	}
}

type scriptedReader struct {
	seen    []image.Rectangle
	succeed int
	panicAt int
}

func (r *scriptedReader) Read(img image.Image) (string, bool) {
	r.seen = append(r.seen, img.Bounds())
	n := len(r.seen)
	if n == r.panicAt {
		panic("reader blew up")
	}
	if n == r.succeed {
		return "hit", true
	}
	return "", false
}

func TestVariantsTriedInOrderUntilFirstSuccess(t *testing.T) {
	r := &scriptedReader{succeed: 4}
	d := NewDecoder(r)
	res, err := d.DecodeImage(context.Background(), imaging.New(1200, 800, color.White))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || res.Variant != "mark-region" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(r.seen) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(r.seen))
	}
	if r.seen[2].Dx() != normalizedWidth {
		t.Fatalf("resize variant width = %d", r.seen[2].Dx())
	}
	if r.seen[3].Dx() >= 1200 || r.seen[3].Dy() >= 800 {
		t.Fatalf("mark region not cropped: %v", r.seen[3])
	}
}

func TestPanickingVariantDoesNotAbort(t *testing.T) {
	r := &scriptedReader{panicAt: 1, succeed: 2}
	res, err := NewDecoder(r).DecodeImage(context.Background(), imaging.New(300, 200, color.White))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || res.Variant != "enhanced" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDecodeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &scriptedReader{succeed: 1}
	if _, err := NewDecoder(r).DecodeImage(ctx, imaging.New(10, 10, color.White)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(r.seen) != 0 {
		t.Fatal("no variant should run after cancel")
	}
}
