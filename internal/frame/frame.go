// Package frame decodes the accelerometer notification payload.
//
// A frame is at least 12 bytes: x, y and z as little-endian IEEE-754 float32
// at offsets 0, 4 and 8, in m/s². Trailing bytes are ignored.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/motion-rep-tracker/internal/models"
)

// Size is the minimum payload length in bytes.
const Size = 12

var (
	// ErrShortFrame is returned when the payload is shorter than Size.
	ErrShortFrame = errors.New("frame shorter than 12 bytes")

	// ErrNonFinite is returned when an axis decodes to NaN or ±Inf.
	ErrNonFinite = errors.New("non-finite axis value")
)

// DecodeError describes a frame that could not be decoded.
type DecodeError struct {
	Len int
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode extracts a sample from buf, stamping it with timestamp.
func Decode(buf []byte, timestamp float64) (models.Sample, error) {
	if len(buf) < Size {
		return models.Sample{}, &DecodeError{Len: len(buf), Err: ErrShortFrame}
	}

	x, y, z := float32At(buf, 0), float32At(buf, 4), float32At(buf, 8)
	for _, v := range [...]float64{x, y, z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Sample{}, &DecodeError{Len: len(buf), Err: ErrNonFinite}
		}
	}

	return models.Sample{Timestamp: timestamp, X: x, Y: y, Z: z}, nil
}

// Encode renders the x, y, z of s as a 12-byte payload.
func Encode(s models.Sample) []byte {
	out := make([]byte, Size)
	binary.LittleEndian.PutUint32(out[0:], math.Float32bits(float32(s.X)))
	binary.LittleEndian.PutUint32(out[4:], math.Float32bits(float32(s.Y)))
	binary.LittleEndian.PutUint32(out[8:], math.Float32bits(float32(s.Z)))
	return out
}

func float32At(buf []byte, off int) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
}
