package dispatch

import (
	"bytes"
	"image/jpeg"
)

// Recompress re-encodes a JPEG at the given quality.
func Recompress(src []byte, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(src) / 2)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
