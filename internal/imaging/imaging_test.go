package imaging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/scrap-api/internal/model"
)

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to create test PNG: %v", err)
	}
	return buf.Bytes()
}

// pngHeader is a PNG signature plus an IHDR chunk declaring a w x h 8-bit
// grayscale image, with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 0, 17)
	chunk = append(chunk, "IHDR"...)
	chunk = binary.BigEndian.AppendUint32(chunk, w)
	chunk = binary.BigEndian.AppendUint32(chunk, h)
	chunk = append(chunk, 8, 0, 0, 0, 0)

	binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecode_RejectsOversizedHeader(t *testing.T) {
	tests := []struct {
		name string
		w, h uint32
	}{
		{"20000 square", 20000, 20000},
		{"just over the budget", 10000, 5001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TensorFromBytes(pngHeader(tt.w, tt.h))
			if !errors.Is(err, ErrImageTooLarge) {
				t.Errorf("err = %v, want ErrImageTooLarge", err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "empty data should fail", data: []byte{}, wantErr: true},
		{name: "nil data should fail", data: nil, wantErr: true},
		{name: "garbage should fail", data: []byte{0x00, 0x01, 0x02}, wantErr: true},
		{name: "png should decode", data: encodePNG(t, 8, 6, color.White), wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTensorFromBytes(t *testing.T) {
	tensor, err := TensorFromBytes(encodePNG(t, 40, 30, color.RGBA{R: 255, G: 0, B: 255, A: 255}))
	if err != nil {
		t.Fatalf("TensorFromBytes() error = %v", err)
	}
	if err := tensor.Validate(); err != nil {
		t.Fatalf("tensor invalid: %v", err)
	}

	// Solid magenta: R=1, G=0, B=1 in every pixel.
	for i := 0; i < len(tensor.Data); i += model.InputChannels {
		if tensor.Data[i] < 0.99 || tensor.Data[i+1] > 0.01 || tensor.Data[i+2] < 0.99 {
			t.Fatalf("pixel %d = %v", i/3, tensor.Data[i:i+3])
		}
	}
}

func TestTensorFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scrap.png")
	if err := os.WriteFile(path, encodePNG(t, 10, 10, color.Gray{Y: 128}), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := TensorFromFile(path); err != nil {
		t.Errorf("TensorFromFile() error = %v", err)
	}
	if _, err := TensorFromFile(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}
