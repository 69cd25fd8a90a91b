package handler

import (
	"bufio"
	"encoding/binary"
	"io"
)

const (
	orientationNormal  = 1
	exifOrientationTag = 0x0112
)

// readOrientation returns the EXIF orientation (1-8) stored in a JPEG stream,
// or orientationNormal when there is none or the metadata is malformed.
func readOrientation(r io.Reader) int {
	br := bufio.NewReader(r)
	var soi [2]byte
	if _, err := io.ReadFull(br, soi[:]); err != nil || soi != [2]byte{0xFF, 0xD8} {
		return orientationNormal
	}
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil || hdr[0] != 0xFF {
			return orientationNormal
		}
		size := int(binary.BigEndian.Uint16(hdr[2:])) - 2
		if size < 0 {
			return orientationNormal
		}
		switch hdr[1] {
		case 0xDA, 0xD9: // start of scan, end of image
			return orientationNormal
		case 0xE1: // APP1
			seg := make([]byte, size)
			if _, err := io.ReadFull(br, seg); err != nil {
				return orientationNormal
			}
			if o, ok := exifOrientation(seg); ok {
				return o
			}
		default:
			if _, err := br.Discard(size); err != nil {
				return orientationNormal
			}
		}
	}
}

// exifOrientation looks up the orientation tag in IFD0 of an APP1 payload.
func exifOrientation(seg []byte) (int, bool) {
	if len(seg) < 14 || string(seg[:6]) != "Exif\x00\x00" {
		return 0, false
	}
	tiff := seg[6:]
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0, false
	}
	if order.Uint16(tiff[2:]) != 0x2A {
		return 0, false
	}
	ifd := int(order.Uint32(tiff[4:]))
	if ifd < 8 || ifd+2 > len(tiff) {
		return 0, false
	}
	n := int(order.Uint16(tiff[ifd:]))
	for i := 0; i < n; i++ {
		e := ifd + 2 + 12*i
		if e+12 > len(tiff) {
			return 0, false
		}
		if order.Uint16(tiff[e:]) != exifOrientationTag {
			continue
		}
		v := int(order.Uint16(tiff[e+8:]))
		if v < 1 || v > 8 {
			return 0, false
		}
		return v, true
	}
	return 0, false
}
