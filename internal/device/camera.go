package device

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync/atomic"

	"example.com/attendance/internal/attendance"
)

const (
	frameWidth  = 320
	frameHeight = 240
	jpegQuality = 80
)

// SimCamera renders a synthetic frame for each capture. Frames differ per shot
// and per facing so retakes never reproduce an earlier image.
type SimCamera struct {
	shots atomic.Uint64
}

// NewSimCamera constructs a SimCamera.
func NewSimCamera() *SimCamera {
	return &SimCamera{}
}

// Capture implements attendance.Camera. The image is a JPEG data URL.
func (c *SimCamera) Capture(ctx context.Context, facing attendance.Facing) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	shot := c.shots.Add(1)

	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	base := uint8(shot * 37)
	tint := color.RGBA{R: base, G: 90, B: 160, A: 255}
	if facing == attendance.FacingBack {
		tint = color.RGBA{R: 60, G: base, B: 60, A: 255}
	}
	for y := 0; y < frameHeight; y++ {
		for x := 0; x < frameWidth; x++ {
			shade := uint8((x + y + int(shot)) % 32)
			img.SetRGBA(x, y, color.RGBA{R: tint.R + shade, G: tint.G + shade, B: tint.B + shade, A: 255})
		}
	}
	// Encode the shot number as a strip of pixels so every frame is unique.
	for bit := 0; bit < 64; bit++ {
		v := uint8(0)
		if shot&(1<<bit) != 0 {
			v = 255
		}
		for y := 0; y < 4; y++ {
			for x := bit * 4; x < bit*4+4; x++ {
				img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// PresenceDetector reports a toggleable subject-in-frame signal.
type PresenceDetector struct {
	present atomic.Bool
}

// NewPresenceDetector returns a detector with the given initial signal.
func NewPresenceDetector(present bool) *PresenceDetector {
	d := &PresenceDetector{}
	d.present.Store(present)
	return d
}

// Set changes the signal.
func (d *PresenceDetector) Set(present bool) { d.present.Store(present) }

// SubjectPresent implements attendance.Detector.
func (d *PresenceDetector) SubjectPresent(context.Context) bool { return d.present.Load() }
