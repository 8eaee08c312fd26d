package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Compressor handles compression of light curve columns
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new compressor
func NewCompressor(level int) (*Compressor, error) {
	// Create encoder with specified compression level
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// CompressColumn compresses a nullable float64 column as a presence bitmap
// followed by the XOR-encoded present values, then zstd
func (c *Compressor) CompressColumn(values []*float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	bitmap := make([]byte, (len(values)+7)/8)
	present := make([]float64, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		bitmap[i/8] |= 1 << (i % 8)
		present = append(present, *v)
	}

	buf := new(bytes.Buffer)
	buf.Write(bitmap)
	if err := xorEncode(buf, present); err != nil {
		return nil, err
	}

	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
}

// DecompressColumn decompresses a nullable column of count values
func (c *Compressor) DecompressColumn(data []byte, count int) ([]*float64, error) {
	if count == 0 {
		return nil, nil
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	bitmapLen := (count + 7) / 8
	if len(decompressed) < bitmapLen {
		return nil, fmt.Errorf("column truncated: %d bytes", len(decompressed))
	}
	bitmap := decompressed[:bitmapLen]

	presentCount := 0
	for i := 0; i < count; i++ {
		if bitmap[i/8]&(1<<(i%8)) != 0 {
			presentCount++
		}
	}

	present, err := xorDecode(bytes.NewReader(decompressed[bitmapLen:]), presentCount)
	if err != nil {
		return nil, err
	}

	out := make([]*float64, count)
	k := 0
	for i := 0; i < count; i++ {
		if bitmap[i/8]&(1<<(i%8)) == 0 {
			continue
		}
		v := present[k]
		out[i] = &v
		k++
	}
	return out, nil
}

// CompressValues compresses float64 values using XOR encoding + zstd
func (c *Compressor) CompressValues(values []float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)
	if err := xorEncode(buf, values); err != nil {
		return nil, err
	}

	// Compress the XOR-encoded data
	compressed := c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len()))
	return compressed, nil
}

// DecompressValues decompresses float64 values
func (c *Compressor) DecompressValues(data []byte, count int) ([]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}

	// Decompress
	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompression failed: %w", err)
	}

	return xorDecode(bytes.NewReader(decompressed), count)
}

// xorEncode writes the first value as-is and every later value XORed with its predecessor
func xorEncode(buf *bytes.Buffer, values []float64) error {
	var prevBits uint64
	for i, v := range values {
		bits := math.Float64bits(v)
		out := bits
		if i > 0 {
			out = bits ^ prevBits
		}
		if err := binary.Write(buf, binary.LittleEndian, out); err != nil {
			return err
		}
		prevBits = bits
	}
	return nil
}

// xorDecode reverses xorEncode
func xorDecode(r *bytes.Reader, count int) ([]float64, error) {
	values := make([]float64, count)
	var prevBits uint64
	for i := 0; i < count; i++ {
		var bits uint64
		if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		if i > 0 {
			bits ^= prevBits
		}
		values[i] = math.Float64frombits(bits)
		prevBits = bits
	}
	return values, nil
}

// Close closes the compressor resources
func (c *Compressor) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
