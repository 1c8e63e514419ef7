package extraction

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/disintegration/imaging"
)

const jpegQuality = 85

// PrepareImage checks that data is a JPEG or PNG photo, applies its EXIF orientation,
// shrinks it to fit maxDim and re-encodes it as JPEG.
func PrepareImage(data []byte, maxDim int) ([]byte, string, error) {
	switch http.DetectContentType(data) {
	case "image/jpeg", "image/png":
	default:
		return nil, "", ErrUnsupportedImage
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode: %v", ErrUnsupportedImage, err)
	}
	bounds := img.Bounds()
	if maxDim > 0 && (bounds.Dx() > maxDim || bounds.Dy() > maxDim) {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, "", fmt.Errorf("%w: encode: %v", ErrExtractionFailed, err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
