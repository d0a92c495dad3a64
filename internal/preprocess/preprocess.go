// Package preprocess turns decoded images into the NHWC float tensors the
// classifier backends consume.
package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/nfnt/resize"
)

// Channels is the number of colour channels in every tensor produced here.
const Channels = 3

// Normalization maps 8-bit channel values into the range a model was trained on.
type Normalization string

const (
	// Mobilenet scales to [-1, 1] (x/127.5 - 1), the Keras MobileNet convention.
	Mobilenet Normalization = "mobilenet"
	// Unit scales to [0, 1].
	Unit Normalization = "unit"
	// Raw keeps the 0..255 byte values.
	Raw Normalization = "raw"
)

// ParseNormalization resolves a metadata or config value. Empty means Mobilenet.
func ParseNormalization(s string) (Normalization, error) {
	switch n := Normalization(strings.ToLower(strings.TrimSpace(s))); n {
	case "":
		return Mobilenet, nil
	case Mobilenet, Unit, Raw:
		return n, nil
	default:
		return "", fmt.Errorf("unknown normalization %q", s)
	}
}

// Range returns the closed interval that normalized values fall in.
func (n Normalization) Range() (lo, hi float32) {
	switch n {
	case Unit:
		return 0, 1
	case Raw:
		return 0, 255
	default:
		return -1, 1
	}
}

func (n Normalization) apply(v uint8) float32 {
	switch n {
	case Unit:
		return float32(v) / 255.0
	case Raw:
		return float32(v)
	default:
		return float32(v)/127.5 - 1.0
	}
}

// Tensor is a batch of images in NHWC order.
type Tensor struct {
	Shape [4]int64
	Data  []float32
}

// Len returns the element count implied by Shape.
func (t *Tensor) Len() int {
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return int(n)
}

// Preprocessor converts images to fixed-size tensors. It is safe for
// concurrent use.
type Preprocessor struct {
	size   int
	norm   Normalization
	interp resize.InterpolationFunction
}

// New returns a Preprocessor producing size×size tensors.
func New(size int, norm Normalization) (*Preprocessor, error) {
	if size <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", size)
	}
	if _, err := ParseNormalization(string(norm)); err != nil {
		return nil, err
	}
	if norm == "" {
		norm = Mobilenet
	}
	return &Preprocessor{size: size, norm: norm, interp: resize.Bicubic}, nil
}

// Size returns the square edge length of produced tensors.
func (p *Preprocessor) Size() int { return p.size }

// Normalization returns the scaling applied to channel values.
func (p *Preprocessor) Normalization() Normalization { return p.norm }

// Shape returns the tensor shape Tensor produces: (1, size, size, 3).
func (p *Preprocessor) Shape() [4]int64 {
	return [4]int64{1, int64(p.size), int64(p.size), Channels}
}

// Tensor coerces img to RGB, stretches it to size×size without cropping and
// normalizes it into a batch of one.
func (p *Preprocessor) Tensor(img image.Image) (*Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	rgb := ToRGB(img)
	resized := resize.Resize(uint(p.size), uint(p.size), rgb, p.interp)

	out, ok := resized.(*image.RGBA)
	if !ok {
		out = ToRGB(resized)
	}

	t := &Tensor{Shape: p.Shape()}
	t.Data = make([]float32, t.Len())

	b := out.Bounds()
	for y := 0; y < p.size; y++ {
		for x := 0; x < p.size; x++ {
			src := out.PixOffset(b.Min.X+x, b.Min.Y+y)
			dst := (y*p.size + x) * Channels
			t.Data[dst+0] = p.norm.apply(out.Pix[src+0])
			t.Data[dst+1] = p.norm.apply(out.Pix[src+1])
			t.Data[dst+2] = p.norm.apply(out.Pix[src+2])
		}
	}

	return t, nil
}

// ToRGB copies img into an opaque RGBA image anchored at the origin. Alpha is
// dropped rather than composited, grayscale and palette images are expanded.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				s := src.PixOffset(b.Min.X+x, b.Min.Y+y)
				d := out.PixOffset(x, y)
				copy(out.Pix[d:d+3], src.Pix[s:s+3])
				out.Pix[d+3] = 0xff
			}
		}
		return out
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			d := out.PixOffset(x, y)
			out.Pix[d+0] = c.R
			out.Pix[d+1] = c.G
			out.Pix[d+2] = c.B
			out.Pix[d+3] = 0xff
		}
	}
	return out
}
