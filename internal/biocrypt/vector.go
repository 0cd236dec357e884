package biocrypt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector serializes v as little-endian IEEE-754 float32 values.
// Bit patterns are preserved exactly, including signed zeros.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector payload length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// EncryptVector serializes and seals an embedding.
func EncryptVector(v []float32, key []byte) ([]byte, error) {
	return Encrypt(EncodeVector(v), key)
}

// DecryptVector opens and deserializes an embedding sealed by EncryptVector.
func DecryptVector(sealed, key []byte) ([]float32, error) {
	plain, err := Decrypt(sealed, key)
	if err != nil {
		return nil, err
	}
	return DecodeVector(plain)
}

// Sealer binds a template key so callers do not pass raw key bytes around.
type Sealer struct {
	key []byte
}

// NewSealer creates a Sealer for a KeySize key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("template key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Sealer{key: k}, nil
}

// SealVector encrypts an embedding.
func (s *Sealer) SealVector(v []float32) ([]byte, error) {
	return EncryptVector(v, s.key)
}

// OpenVector decrypts an embedding.
func (s *Sealer) OpenVector(sealed []byte) ([]float32, error) {
	return DecryptVector(sealed, s.key)
}
