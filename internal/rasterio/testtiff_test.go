package rasterio

import (
	"encoding/binary"
	"math"
	"os"
	"testing"
)

// writeTestTIFF writes a minimal single-tile, single-band, uncompressed
// float64 little-endian ("II") TIFF to a temp file and returns its path.
func writeTestTIFF(t *testing.T, width, height int, values []float64, originX, originY, cellSize float64) string {
	t.Helper()
	return writeTestTIFFBO(t, binary.LittleEndian, width, height, values, originX, originY, cellSize)
}

// writeTestTIFFBO is writeTestTIFF parameterized on byte order, so tests can
// exercise both "II" (little-endian) and "MM" (big-endian) GeoTIFFs. The
// whole image is one tile, which keeps the byte layout simple for handle
// tests.
func writeTestTIFFBO(t *testing.T, bo binary.ByteOrder, width, height int, values []float64, originX, originY, cellSize float64) string {
	t.Helper()

	type entry struct {
		tag, dtype uint16
		count      uint32
		value      []byte // exactly 4 bytes, inline or offset
	}

	var extra []byte // external data area, appended after all entries

	inlineShort := func(v uint16) []byte {
		b := make([]byte, 4)
		bo.PutUint16(b, v)
		return b
	}
	inlineLong := func(v uint32) []byte {
		b := make([]byte, 4)
		bo.PutUint32(b, v)
		return b
	}
	external := func(data []byte) []byte {
		off := 8 + 2 + 13*12 + 4 + len(extra) // header + count + entries + nextIFD + running extra offset
		b := make([]byte, 4)
		bo.PutUint32(b, uint32(off))
		extra = append(extra, data...)
		return b
	}

	pixelBytes := make([]byte, width*height*8)
	for i, v := range values {
		bo.PutUint64(pixelBytes[i*8:], math.Float64bits(v))
	}

	tiepoint := make([]byte, 48)
	vals := []float64{0, 0, 0, originX, originY, 0}
	for i, v := range vals {
		bo.PutUint64(tiepoint[i*8:], math.Float64bits(v))
	}
	pixelScale := make([]byte, 24)
	for i, v := range []float64{cellSize, cellSize, 0} {
		bo.PutUint64(pixelScale[i*8:], math.Float64bits(v))
	}

	entries := []entry{
		{256, dtLong, 1, inlineLong(uint32(width))},
		{257, dtLong, 1, inlineLong(uint32(height))},
		{258, dtShort, 1, inlineShort(64)},
		{259, dtShort, 1, inlineShort(1)},
		{277, dtShort, 1, inlineShort(1)},
		{284, dtShort, 1, inlineShort(1)},
		{322, dtLong, 1, inlineLong(uint32(width))},
		{323, dtLong, 1, inlineLong(uint32(height))},
		{339, dtShort, 1, inlineShort(SampleFormatIEEEFP)},
	}

	// Entries needing external data must be appended after the offset
	// arithmetic below is stable, so compute tile offset/bytecount last.
	entries = append(entries,
		entry{33550, dtDouble, 3, external(pixelScale)},
		entry{33922, dtDouble, 6, external(tiepoint)},
	)

	tileDataOffset := 8 + 2 + 13*12 + 4 + len(extra)
	entries = append(entries,
		entry{324, dtLong, 1, inlineLong(uint32(tileDataOffset))},
		entry{325, dtLong, 1, inlineLong(uint32(len(pixelBytes)))},
	)

	if len(entries) != 13 {
		t.Fatalf("entry count changed without updating offset math: %d", len(entries))
	}

	var buf []byte
	if bo == binary.BigEndian {
		buf = append(buf, 'M', 'M')
	} else {
		buf = append(buf, 'I', 'I')
	}
	magic := make([]byte, 2)
	bo.PutUint16(magic, 42)
	buf = append(buf, magic...)
	firstIFD := make([]byte, 4)
	bo.PutUint32(firstIFD, 8) // first IFD at offset 8
	buf = append(buf, firstIFD...)

	var ifdBuf []byte
	countBuf := make([]byte, 2)
	bo.PutUint16(countBuf, uint16(len(entries)))
	ifdBuf = append(ifdBuf, countBuf...)
	for _, e := range entries {
		eb := make([]byte, 12)
		bo.PutUint16(eb[0:2], e.tag)
		bo.PutUint16(eb[2:4], e.dtype)
		bo.PutUint32(eb[4:8], e.count)
		copy(eb[8:12], e.value)
		ifdBuf = append(ifdBuf, eb...)
	}
	ifdBuf = append(ifdBuf, 0, 0, 0, 0) // next IFD offset = 0

	buf = append(buf, ifdBuf...)
	buf = append(buf, extra...)
	buf = append(buf, pixelBytes...)

	f, err := os.CreateTemp(t.TempDir(), "test-*.tif")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}
