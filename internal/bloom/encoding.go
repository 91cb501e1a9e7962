package bloom

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// Algorithm identifies the hashing scheme of encoded filters.
const Algorithm = "murmur3_128"

// Encoded is the JSON form of a filter stored in partition sidecars.
type Encoded struct {
	Algorithm string `json:"algorithm"`
	NumBits   int    `json:"num_bits"`
	NumHashes int    `json:"num_hashes"`
	Count     uint64 `json:"count"`
	Data      string `json:"data"`
}

// Serialize writes the filter as a 24-byte little-endian header (numBits,
// numHashes, count) followed by the bit array.
func (bf *BloomFilter) Serialize() []byte {
	bf.mu.RLock()
	defer bf.mu.RUnlock()

	buf := make([]byte, 24+len(bf.bits)*8)
	binary.LittleEndian.PutUint64(buf[0:8], bf.numBits)
	binary.LittleEndian.PutUint64(buf[8:16], bf.numHashes)
	binary.LittleEndian.PutUint64(buf[16:24], bf.count)
	for i, word := range bf.bits {
		binary.LittleEndian.PutUint64(buf[24+i*8:], word)
	}
	return buf
}

// Deserialize reconstructs a filter written by Serialize.
func Deserialize(data []byte) (*BloomFilter, error) {
	if len(data) < 24 {
		return nil, errors.New("bloom: serialized data too short")
	}
	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint64(data[8:16])
	count := binary.LittleEndian.Uint64(data[16:24])
	if numBits == 0 || numHashes == 0 {
		return nil, errors.New("bloom: numBits and numHashes must be positive")
	}

	numWords := (numBits + 63) / 64
	if expected := 24 + int(numWords)*8; len(data) < expected {
		return nil, fmt.Errorf("bloom: expected %d bytes, got %d", expected, len(data))
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(data[24+i*8:])
	}
	return &BloomFilter{bits: bits, numBits: numBits, numHashes: numHashes, count: count}, nil
}

// Encode returns the Snappy-compressed, base64 form of the filter.
func (bf *BloomFilter) Encode() *Encoded {
	raw := bf.Serialize()
	return &Encoded{
		Algorithm: Algorithm,
		NumBits:   bf.NumBits(),
		NumHashes: bf.NumHashes(),
		Count:     bf.Count(),
		Data:      base64.StdEncoding.EncodeToString(snappy.Encode(nil, raw)),
	}
}

// Decode reconstructs a filter from its encoded form.
func Decode(enc *Encoded) (*BloomFilter, error) {
	if enc == nil {
		return nil, errors.New("bloom: nil encoded filter")
	}
	if enc.Algorithm != Algorithm {
		return nil, fmt.Errorf("bloom: unsupported algorithm %q", enc.Algorithm)
	}
	compressed, err := base64.StdEncoding.DecodeString(enc.Data)
	if err != nil {
		return nil, fmt.Errorf("bloom: invalid base64 data: %w", err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("bloom: snappy decompress failed: %w", err)
	}
	return Deserialize(raw)
}
