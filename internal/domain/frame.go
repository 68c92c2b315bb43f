package domain

import (
	"fmt"
	"image"
	"image/color"
)

// Channels is the fixed channel count of a Frame (BGR)
const Channels = 3

// Frame is a packed BGR24 image. Frames are treated as immutable once produced:
// whoever needs to modify pixels works on Clone().
type Frame struct {
	Width  int
	Height int
	Data   []byte
}

// NewFrame allocates a black frame
func NewFrame(width, height int) Frame {
	return Frame{
		Width:  width,
		Height: height,
		Data:   make([]byte, width*height*Channels),
	}
}

// Empty reports whether the frame carries no pixels
func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0 || len(f.Data) == 0
}

// Validate checks that the buffer matches the declared dimensions
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * Channels; len(f.Data) != want {
		return fmt.Errorf("frame buffer has %d bytes, want %d", len(f.Data), want)
	}
	return nil
}

// Clone returns a deep copy
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return Frame{Width: f.Width, Height: f.Height, Data: data}
}

// SameSize reports whether the frame has the given dimensions
func (f Frame) SameSize(width, height int) bool {
	return f.Width == width && f.Height == height
}

// ToRGBA converts the frame to an RGBA image
func (f Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Data) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Data[i+2]
		img.Pix[j+1] = f.Data[i+1]
		img.Pix[j+2] = f.Data[i]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FrameFromImage converts any image into a packed BGR frame
func FrameFromImage(img image.Image) Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())

	// Fast paths for the layouts produced by the decoders
	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < f.Height; y++ {
			row := src.Pix[(y)*src.Stride:]
			out := f.Data[y*f.Width*Channels:]
			for x := 0; x < f.Width; x++ {
				out[x*3] = row[x*4+2]
				out[x*3+1] = row[x*4+1]
				out[x*3+2] = row[x*4]
			}
		}
		return f
	case *image.YCbCr:
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi := src.YOffset(x, y)
				ci := src.COffset(x, y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				f.Data[i], f.Data[i+1], f.Data[i+2] = bl, g, r
				i += 3
			}
		}
		return f
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			f.Data[i], f.Data[i+1], f.Data[i+2] = uint8(bl>>8), uint8(g>>8), uint8(r>>8)
			i += 3
		}
	}
	return f
}
