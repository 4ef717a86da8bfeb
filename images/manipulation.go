package images

import (
	"bytes"
	"image"

	"github.com/nfnt/resize"
)

// MaxAvatarDimension caps incoming avatars; anything larger is scaled
// down before being stored.
const MaxAvatarDimension = 640

func Resize(width, height uint, img image.Image) image.Image {
	return resize.Resize(width, height, img, resize.Bilinear)
}

// ShrinkOnly scales img down so neither dimension exceeds maxSize,
// preserving aspect ratio. Images already small enough are returned
// unchanged.
func ShrinkOnly(img image.Image, maxSize uint) image.Image {
	return resize.Thumbnail(maxSize, maxSize, img, resize.Bilinear)
}

// ScaleDownAvatar decodes an avatar, shrinks it to the avatar cap and
// re-encodes it as jpeg.
func ScaleDownAvatar(payload []byte) ([]byte, error) {
	img, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	scaled := ShrinkOnly(img, MaxAvatarDimension)

	var bb bytes.Buffer
	if err := Encode(&bb, scaled, EncodeConfig{Quality: DefaultJpegQuality}); err != nil {
		return nil, err
	}
	return bb.Bytes(), nil
}
