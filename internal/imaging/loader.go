package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"io/fs"
	"os"

	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/joseph-ayodele/docextract/internal/common"
)

// LoadFile reads and decodes the image at path.
func LoadFile(path string) (image.Image, error) {
	st, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ImageDecodeError("Could not read image file: "+path, fmt.Errorf("file does not exist: %w", err))
	}
	if err != nil {
		return nil, common.ImageDecodeError("Could not read image file: "+path, err)
	}
	if st.IsDir() {
		return nil, common.ImageDecodeError("Could not read image file: "+path, fmt.Errorf("%s is a directory", path))
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, common.ImageDecodeError("Could not read image file: "+path, err)
	}
	img, err := decode(b)
	if err != nil {
		return nil, common.ImageDecodeError("Could not read image file: "+path, err)
	}
	return img, nil
}

// LoadBytes decodes an in-memory image, e.g. one piped on stdin.
func LoadBytes(b []byte) (image.Image, error) {
	img, err := decode(b)
	if err != nil {
		return nil, common.ImageDecodeError("Could not decode image data", err)
	}
	return img, nil
}

func LoadReader(r io.Reader) (image.Image, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, common.ImageDecodeError("Could not read image stream", err)
	}
	return LoadBytes(b)
}

func decode(b []byte) (image.Image, error) {
	if len(b) == 0 {
		return nil, errors.New("empty input")
	}
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	if img == nil {
		return nil, fmt.Errorf("decoder %q returned no image", format)
	}
	if r := img.Bounds(); r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, fmt.Errorf("image has no pixels (%dx%d)", r.Dx(), r.Dy())
	}
	return img, nil
}
