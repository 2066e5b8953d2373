package imageio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"beamcombine/internal/models"
)

// errNotFloatTIFF signals that the file is a TIFF but not a 32-bit float
// grayscale one, so the generic decoder should handle it instead.
var errNotFloatTIFF = errors.New("not a float tiff")

// TIFF tag numbers used by the float reader/writer.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSampleFormat    = 339

	compressionNone   = 1
	sampleFormatFloat = 3
)

type ifdEntry struct {
	tag      uint16
	typ      uint16
	count    uint32
	valueOff uint32
	inline   [4]byte
}

var typeSizes = map[uint16]uint32{1: 1, 2: 1, 3: 2, 4: 4, 5: 8}

// decodeFloat reads an uncompressed single-sample 32-bit float grayscale
// TIFF. Anything else returns errNotFloatTIFF so callers can fall back.
func decodeFloat(raw []byte) (*models.Image, error) {
	if len(raw) < 8 {
		return nil, errNotFloatTIFF
	}
	var order binary.ByteOrder
	switch {
	case raw[0] == 'I' && raw[1] == 'I':
		order = binary.LittleEndian
	case raw[0] == 'M' && raw[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, errNotFloatTIFF
	}
	if order.Uint16(raw[2:4]) != 42 {
		return nil, errNotFloatTIFF
	}

	entries, err := readIFD(raw, order, order.Uint32(raw[4:8]))
	if err != nil {
		return nil, err
	}

	if first(order, entries, tagSampleFormat, 1) != sampleFormatFloat ||
		first(order, entries, tagBitsPerSample, 0) != 32 ||
		first(order, entries, tagSamplesPerPixel, 1) != 1 {
		return nil, errNotFloatTIFF
	}
	if first(order, entries, tagCompression, compressionNone) != compressionNone {
		return nil, fmt.Errorf("float tiff: unsupported compression")
	}

	width := int(first(order, entries, tagImageWidth, 0))
	height := int(first(order, entries, tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("float tiff: bad dimensions %dx%d", width, height)
	}

	offsets, err := values(raw, order, entries, tagStripOffsets)
	if err != nil {
		return nil, err
	}
	byteCounts, err := values(raw, order, entries, tagStripByteCounts)
	if err != nil {
		return nil, err
	}
	if len(offsets) != len(byteCounts) || len(offsets) == 0 {
		return nil, fmt.Errorf("float tiff: inconsistent strip layout")
	}

	img := models.NewImage(width, height)
	idx := 0
	for s := range offsets {
		// Arithmetic in int64: offset+count near MaxUint32 must not wrap
		// past the bounds check.
		off, n := int64(offsets[s]), int64(byteCounts[s])
		if off+n > int64(len(raw)) || n%4 != 0 {
			return nil, fmt.Errorf("float tiff: strip %d out of bounds", s)
		}
		strip := raw[off : off+n]
		for i := 0; i+4 <= len(strip); i += 4 {
			if idx >= len(img.Data) {
				return nil, fmt.Errorf("float tiff: more samples than %dx%d", width, height)
			}
			img.Data[idx] = float64(math.Float32frombits(order.Uint32(strip[i : i+4])))
			idx++
		}
	}
	if idx != len(img.Data) {
		return nil, fmt.Errorf("float tiff: got %d samples, want %d", idx, len(img.Data))
	}
	return img, nil
}

func readIFD(raw []byte, order binary.ByteOrder, off uint32) (map[uint16]ifdEntry, error) {
	start := int64(off)
	if start+2 > int64(len(raw)) {
		return nil, errNotFloatTIFF
	}
	n := int64(order.Uint16(raw[start : start+2]))
	if start+2+n*12 > int64(len(raw)) {
		return nil, errNotFloatTIFF
	}
	entries := make(map[uint16]ifdEntry, n)
	for i := int64(0); i < n; i++ {
		e := raw[start+2+i*12 : start+2+(i+1)*12]
		entry := ifdEntry{
			tag:      order.Uint16(e[0:2]),
			typ:      order.Uint16(e[2:4]),
			count:    order.Uint32(e[4:8]),
			valueOff: order.Uint32(e[8:12]),
		}
		copy(entry.inline[:], e[8:12])
		entries[entry.tag] = entry
	}
	return entries, nil
}

// values resolves an entry's integer values, whether inline or stored at an
// offset elsewhere in the file.
func values(raw []byte, order binary.ByteOrder, entries map[uint16]ifdEntry, tag uint16) ([]uint32, error) {
	e, ok := entries[tag]
	if !ok {
		return nil, fmt.Errorf("float tiff: missing tag %d", tag)
	}
	size, ok := typeSizes[e.typ]
	if !ok || (e.typ != 3 && e.typ != 4) {
		return nil, fmt.Errorf("float tiff: tag %d has unsupported type %d", tag, e.typ)
	}

	// int64 keeps size*count and offset+total from wrapping on crafted
	// entries; an absurd count is rejected here before any allocation.
	total := int64(size) * int64(e.count)
	var data []byte
	if total <= 4 {
		data = e.inline[:total]
	} else {
		if int64(e.valueOff)+total > int64(len(raw)) {
			return nil, fmt.Errorf("float tiff: tag %d values out of bounds", tag)
		}
		data = raw[e.valueOff : int64(e.valueOff)+total]
	}

	out := make([]uint32, e.count)
	for i := uint32(0); i < e.count; i++ {
		if e.typ == 3 {
			out[i] = uint32(order.Uint16(data[i*2 : i*2+2]))
		} else {
			out[i] = order.Uint32(data[i*4 : i*4+4])
		}
	}
	return out, nil
}

// first returns the first value of a tag, or def when the tag is absent.
// Used for scalar tags with well-defined TIFF defaults.
func first(order binary.ByteOrder, entries map[uint16]ifdEntry, tag uint16, def uint32) uint32 {
	e, ok := entries[tag]
	if !ok {
		return def
	}
	switch e.typ {
	case 3:
		return uint32(order.Uint16(e.inline[:2]))
	case 4:
		return order.Uint32(e.inline[:])
	default:
		return def
	}
}

// encodeFloat writes the grid as a little-endian uncompressed 32-bit float
// grayscale TIFF with a single strip.
func encodeFloat(img *models.Image) ([]byte, error) {
	if img.Width <= 0 || img.Height <= 0 || len(img.Data) != img.Width*img.Height {
		return nil, fmt.Errorf("image has inconsistent dimensions %dx%d", img.Width, img.Height)
	}

	order := binary.LittleEndian
	pixBytes := uint32(len(img.Data) * 4)
	dataOff := uint32(8)
	ifdOff := dataOff + pixBytes

	buf := make([]byte, 0, ifdOff+2+10*12+4)
	buf = append(buf, 'I', 'I')
	buf = order.AppendUint16(buf, 42)
	buf = order.AppendUint32(buf, ifdOff)
	for _, v := range img.Data {
		buf = order.AppendUint32(buf, math.Float32bits(float32(v)))
	}

	type entry struct {
		tag, typ uint16
		value    uint32
	}
	entries := []entry{
		{tagImageWidth, 4, uint32(img.Width)},
		{tagImageLength, 4, uint32(img.Height)},
		{tagBitsPerSample, 3, 32},
		{tagCompression, 3, compressionNone},
		{tagPhotometric, 3, 1}, // BlackIsZero
		{tagStripOffsets, 4, dataOff},
		{tagSamplesPerPixel, 3, 1},
		{tagRowsPerStrip, 4, uint32(img.Height)},
		{tagStripByteCounts, 4, pixBytes},
		{tagSampleFormat, 3, sampleFormatFloat},
	}

	buf = order.AppendUint16(buf, uint16(len(entries)))
	for _, e := range entries {
		buf = order.AppendUint16(buf, e.tag)
		buf = order.AppendUint16(buf, e.typ)
		buf = order.AppendUint32(buf, 1)
		if e.typ == 3 {
			buf = order.AppendUint16(buf, uint16(e.value))
			buf = order.AppendUint16(buf, 0)
		} else {
			buf = order.AppendUint32(buf, e.value)
		}
	}
	buf = order.AppendUint32(buf, 0) // no next IFD
	return buf, nil
}
