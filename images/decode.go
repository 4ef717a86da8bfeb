package images

import (
	"bytes"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/webp"
)

type FileType uint

const (
	UNKNOWN FileType = iota
	JPEG
	PNG
	GIF
	WEBP
)

// Decode sniffs the image type from the first bytes and decodes
// accordingly.
func Decode(buf []byte) (image.Image, error) {
	switch GetFileType(buf) {
	case JPEG:
		return jpeg.Decode(bytes.NewReader(buf))
	case PNG:
		return png.Decode(bytes.NewReader(buf))
	case GIF:
		return gif.Decode(bytes.NewReader(buf))
	case WEBP:
		return webp.Decode(bytes.NewReader(buf))
	default:
		return nil, errors.New("unsupported file type")
	}
}

// GetMimeType returns the mime subtype of the image data.
func GetMimeType(buf []byte) (string, error) {
	switch GetFileType(buf) {
	case JPEG:
		return "jpeg", nil
	case PNG:
		return "png", nil
	case GIF:
		return "gif", nil
	case WEBP:
		return "webp", nil
	default:
		return "", errors.New("image format not supported")
	}
}

func GetFileType(buf []byte) FileType {
	switch {
	case isJpeg(buf):
		return JPEG
	case isPng(buf):
		return PNG
	case isGif(buf):
		return GIF
	case isWebp(buf):
		return WEBP
	default:
		return UNKNOWN
	}
}

func isJpeg(buf []byte) bool {
	return len(buf) > 2 &&
		buf[0] == 0xFF &&
		buf[1] == 0xD8 &&
		buf[2] == 0xFF
}

func isPng(buf []byte) bool {
	return len(buf) > 3 &&
		buf[0] == 0x89 && buf[1] == 0x50 &&
		buf[2] == 0x4E && buf[3] == 0x47
}

func isGif(buf []byte) bool {
	return len(buf) > 2 &&
		buf[0] == 0x47 && buf[1] == 0x49 && buf[2] == 0x46
}

func isWebp(buf []byte) bool {
	return len(buf) > 11 &&
		buf[8] == 0x57 && buf[9] == 0x45 &&
		buf[10] == 0x42 && buf[11] == 0x50
}
