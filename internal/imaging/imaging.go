package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/scrap-api/internal/model"
)

// MaxPixels caps the declared size of an image we are willing to decode.
const MaxPixels = 50_000_000

var (
	ErrEmptyImage    = errors.New("image data cannot be empty")
	ErrImageTooLarge = errors.New("image dimensions exceed limit")
)

// Decode reads a JPEG, PNG, GIF or WebP image. The header is checked against
// MaxPixels before any pixel data is allocated.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("image has zero size %dx%d", b.Dx(), b.Dy())
	}

	return img, format, nil
}

func DecodeFile(path string) (image.Image, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	return Decode(data)
}

// ToTensor resizes img to the model input size and lays it out as NHWC
// float values in [0,1].
func ToTensor(img image.Image) model.ImageTensor {
	resized := resize.Resize(model.InputWidth, model.InputHeight, img, resize.Bilinear)

	t := model.NewImageTensor()
	bounds := resized.Bounds()
	for y := 0; y < model.InputHeight; y++ {
		for x := 0; x < model.InputWidth; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()

			i := (y*model.InputWidth + x) * model.InputChannels
			t.Data[i] = float32(r) / 65535.0
			t.Data[i+1] = float32(g) / 65535.0
			t.Data[i+2] = float32(b) / 65535.0
		}
	}

	return t
}

func TensorFromBytes(data []byte) (model.ImageTensor, error) {
	img, _, err := Decode(data)
	if err != nil {
		return model.ImageTensor{}, err
	}
	return ToTensor(img), nil
}

func TensorFromFile(path string) (model.ImageTensor, error) {
	img, _, err := DecodeFile(path)
	if err != nil {
		return model.ImageTensor{}, err
	}
	return ToTensor(img), nil
}
