package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
)

// ErrDecode marks input that is not a usable JPEG or PNG image.
var ErrDecode = errors.New("invalid image")

// Decode reads a JPEG or PNG image and reports its format.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, format, fmt.Errorf("%w: zero-sized %s image", ErrDecode, format)
	}
	return img, format, nil
}

// DecodeBytes is Decode over an in-memory upload.
func DecodeBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty upload", ErrDecode)
	}
	return Decode(bytes.NewReader(data))
}
