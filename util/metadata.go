package util

import (
	"bytes"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
)

var ErrUnsupportedContentType = errors.New("unsupported content type for metadata stripping")

/*
StripMetadata re-encodes images so EXIF, XMP and text chunks are dropped.

Supported mime types are "image/jpg", "image/jpeg", "image/png", "image/gif".
Other types return ErrUnsupportedContentType and the caller keeps the
original bytes.
  - @param content []byte
  - @param mimeType string
  - @return []byte stripped content
  - @return error
*/
func StripMetadata(content []byte, mimeType string) ([]byte, error) {
	if len(content) == 0 {
		return nil, errors.New("empty content")
	}
	mimeType = strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))

	var img image.Image
	var decodeErr error
	buf := new(bytes.Buffer)
	switch mimeType {
	case "image/jpg", "image/jpeg":
		img, decodeErr = jpeg.Decode(bytes.NewReader(content))
		if decodeErr == nil {
			decodeErr = jpeg.Encode(buf, img, &jpeg.Options{Quality: 95})
		}
	case "image/png":
		img, decodeErr = png.Decode(bytes.NewReader(content))
		if decodeErr == nil {
			decodeErr = png.Encode(buf, img)
		}
	case "image/gif":
		var g *gif.GIF
		g, decodeErr = gif.DecodeAll(bytes.NewReader(content))
		if decodeErr == nil {
			decodeErr = gif.EncodeAll(buf, g)
		}
	default:
		return nil, ErrUnsupportedContentType
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return buf.Bytes(), nil
}
