package imaging

import (
	"bytes"
	"encoding/binary"
	"image"
)

// Orientation values from the EXIF 0x0112 tag.
const (
	OrientationNormal     = 1
	OrientationFlipH      = 2
	OrientationRotate180  = 3
	OrientationFlipV      = 4
	OrientationTranspose  = 5
	OrientationRotate90   = 6
	OrientationTransverse = 7
	OrientationRotate270  = 8
)

const orientationTag = 0x0112

// readOrientation scans the JPEG markers for an APP1 Exif segment and
// returns its orientation. Anything unreadable yields OrientationNormal.
func readOrientation(data []byte) int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return OrientationNormal
	}

	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return OrientationNormal
		}
		marker := data[pos+1]
		// start of scan: no more metadata segments
		if marker == 0xDA || marker == 0xD9 {
			return OrientationNormal
		}
		length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if length < 2 || pos+2+length > len(data) {
			return OrientationNormal
		}
		segment := data[pos+4 : pos+2+length]
		if marker == 0xE1 && bytes.HasPrefix(segment, []byte("Exif\x00\x00")) {
			return parseTIFFOrientation(segment[6:])
		}
		pos += 2 + length
	}
	return OrientationNormal
}

func parseTIFFOrientation(tiff []byte) int {
	if len(tiff) < 8 {
		return OrientationNormal
	}

	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return OrientationNormal
	}
	if order.Uint16(tiff[2:4]) != 42 {
		return OrientationNormal
	}

	ifd := int(order.Uint32(tiff[4:8]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return OrientationNormal
	}
	entries := int(order.Uint16(tiff[ifd : ifd+2]))
	for i := 0; i < entries; i++ {
		off := ifd + 2 + i*12
		if off+12 > len(tiff) {
			break
		}
		if order.Uint16(tiff[off:off+2]) != orientationTag {
			continue
		}
		v := int(order.Uint16(tiff[off+8 : off+10]))
		if v >= OrientationNormal && v <= OrientationRotate270 {
			return v
		}
		return OrientationNormal
	}
	return OrientationNormal
}

// applyOrientation returns img transformed so it displays upright.
func applyOrientation(img image.Image, orientation int) image.Image {
	if orientation <= OrientationNormal || orientation > OrientationRotate270 {
		return img
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	dw, dh := w, h
	if orientation >= OrientationTranspose {
		dw, dh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))

	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			var sx, sy int
			switch orientation {
			case OrientationFlipH:
				sx, sy = w-1-x, y
			case OrientationRotate180:
				sx, sy = w-1-x, h-1-y
			case OrientationFlipV:
				sx, sy = x, h-1-y
			case OrientationTranspose:
				sx, sy = y, x
			case OrientationRotate90:
				sx, sy = y, h-1-x
			case OrientationTransverse:
				sx, sy = w-1-y, h-1-x
			case OrientationRotate270:
				sx, sy = w-1-y, x
			}
			dst.Set(x, y, img.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return dst
}
