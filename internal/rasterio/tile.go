package rasterio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// readRawPixel returns the decoded band-0 value at whole pixel (x,y) in the
// given IFD level, honoring the dataset's NoData value by mapping it to NaN.
func (h *Handle) readRawPixel(level, x, y int) (float64, error) {
	if level < 0 || level >= len(h.ifds) {
		return 0, fmt.Errorf("invalid IFD level %d", level)
	}
	ifd := &h.ifds[level]

	if x < 0 || y < 0 || x >= int(ifd.Width) || y >= int(ifd.Height) {
		return math.NaN(), nil
	}

	tw := int(ifd.TileWidth)
	th := int(ifd.TileHeight)
	col := x / tw
	row := y / th
	localX := x % tw
	localY := y % th

	tileData, err := h.readTile(ifd, col, row)
	if err != nil {
		return 0, err
	}

	v := decodeSample(ifd, h.bo, tileData, localY*tw+localX)
	if ifd.HasNoData && v == ifd.NoDataValue {
		return math.NaN(), nil
	}
	return v, nil
}

// readTile returns the decompressed raw bytes of a single tile for band 0,
// interleaved per the planar configuration.
func (h *Handle) readTile(ifd *IFD, col, row int) ([]byte, error) {
	tilesAcross := ifd.TilesAcross()
	tilesDown := ifd.TilesDown()
	if col < 0 || col >= tilesAcross || row < 0 || row >= tilesDown {
		return nil, fmt.Errorf("tile (%d,%d) out of range (%dx%d)", col, row, tilesAcross, tilesDown)
	}

	idx := row*tilesAcross + col
	if idx >= len(ifd.TileOffsets) || idx >= len(ifd.TileByteCounts) {
		return nil, fmt.Errorf("tile index %d out of range", idx)
	}

	offset := ifd.TileOffsets[idx]
	size := ifd.TileByteCounts[idx]
	if size == 0 {
		return make([]byte, tileByteSize(ifd)), nil
	}

	end := offset + size
	if end > uint64(len(h.data)) {
		return nil, fmt.Errorf("tile data [%d:%d] exceeds file size %d", offset, end, len(h.data))
	}
	raw := h.data[offset:end]

	switch ifd.Compression {
	case 1: // none
		return raw, nil
	case 5: // LZW
		return decompressTIFFLZW(raw)
	default:
		return nil, fmt.Errorf("unsupported compression %d for science raster", ifd.Compression)
	}
}

// bytesPerSample returns the byte width of a single band-0 sample.
func bytesPerSample(ifd *IFD) int {
	bits := 8
	if len(ifd.BitsPerSample) > 0 {
		bits = int(ifd.BitsPerSample[0])
	}
	return (bits + 7) / 8
}

func tileByteSize(ifd *IFD) int {
	return int(ifd.TileWidth) * int(ifd.TileHeight) * bytesPerSample(ifd) * int(ifd.SamplesPerPixel)
}

// decodeSample extracts the band-0 value of sample index (row-major within
// a tile) according to the IFD's bits-per-sample and sample-format tags,
// using bo (the file's own detected byte order, from the "II"/"MM" header
// parsed in ifd.go) to assemble multi-byte values.
func decodeSample(ifd *IFD, bo binary.ByteOrder, tileData []byte, sampleIdx int) float64 {
	bps := bytesPerSample(ifd)
	spp := int(ifd.SamplesPerPixel)
	format := uint16(SampleFormatUint)
	if len(ifd.SampleFormat) > 0 {
		format = ifd.SampleFormat[0]
	}

	off := sampleIdx * bps * spp
	if off+bps > len(tileData) {
		return math.NaN()
	}
	b := tileData[off : off+bps]

	switch format {
	case SampleFormatIEEEFP:
		switch bps {
		case 4:
			return float64(math.Float32frombits(bo.Uint32(b)))
		case 8:
			return math.Float64frombits(bo.Uint64(b))
		}
	case SampleFormatInt:
		return float64(decodeSignedInt(bo, b))
	default: // unsigned int
		return float64(decodeUnsignedInt(bo, b))
	}
	return math.NaN()
}

func decodeUnsignedInt(bo binary.ByteOrder, b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(bo.Uint16(b))
	case 4:
		return uint64(bo.Uint32(b))
	case 8:
		return bo.Uint64(b)
	default:
		var v uint64
		for i, by := range b {
			if bo == binary.BigEndian {
				v = v<<8 | uint64(by)
			} else {
				v |= uint64(by) << (8 * i)
			}
		}
		return v
	}
}

func decodeSignedInt(bo binary.ByteOrder, b []byte) int64 {
	v := decodeUnsignedInt(bo, b)
	bits := uint(len(b) * 8)
	signBit := uint64(1) << (bits - 1)
	if v&signBit != 0 {
		return int64(v) - int64(uint64(1)<<bits)
	}
	return int64(v)
}
