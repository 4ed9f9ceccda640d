package acoustic

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Fingerprint is a row-major matrix of float32 cepstral features: one row
// per time frame, one column per coefficient. Fingerprints are immutable
// once persisted; Encode and [DecodeFingerprint] round-trip bit-for-bit.
type Fingerprint struct {
	rows, cols int
	data       []float32
}

// Blob format: 4-byte magic, 1-byte version, uint32 rows, uint32 cols,
// then rows*cols little-endian float32 values.
const (
	blobMagic   = "ELFP"
	blobVersion = 1
	headerSize  = 4 + 1 + 4 + 4
)

// NewFingerprint allocates a zero matrix of the given shape.
func NewFingerprint(rows, cols int) *Fingerprint {
	return &Fingerprint{rows: rows, cols: cols, data: make([]float32, rows*cols)}
}

// Rows returns the number of time frames.
func (f *Fingerprint) Rows() int { return f.rows }

// Cols returns the feature dimension.
func (f *Fingerprint) Cols() int { return f.cols }

// At returns the value at row i, column j.
func (f *Fingerprint) At(i, j int) float32 { return f.data[i*f.cols+j] }

// Set stores v at row i, column j.
func (f *Fingerprint) Set(i, j int, v float32) { f.data[i*f.cols+j] = v }

// Row returns row i as a slice backed by the fingerprint's storage.
func (f *Fingerprint) Row(i int) []float32 { return f.data[i*f.cols : (i+1)*f.cols] }

// Encode serializes the fingerprint losslessly.
func (f *Fingerprint) Encode() []byte {
	out := make([]byte, headerSize+len(f.data)*4)
	copy(out, blobMagic)
	out[4] = blobVersion
	binary.LittleEndian.PutUint32(out[5:], uint32(f.rows))
	binary.LittleEndian.PutUint32(out[9:], uint32(f.cols))
	for i, v := range f.data {
		binary.LittleEndian.PutUint32(out[headerSize+i*4:], math.Float32bits(v))
	}
	return out
}

// DecodeFingerprint deserializes a blob produced by [Fingerprint.Encode].
// The decoded values are bit-identical to the encoded ones.
func DecodeFingerprint(blob []byte) (*Fingerprint, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("acoustic: fingerprint blob truncated (%d bytes)", len(blob))
	}
	if string(blob[:4]) != blobMagic {
		return nil, fmt.Errorf("acoustic: fingerprint blob has bad magic %q", blob[:4])
	}
	if blob[4] != blobVersion {
		return nil, fmt.Errorf("acoustic: unsupported fingerprint version %d", blob[4])
	}

	rows := int(binary.LittleEndian.Uint32(blob[5:]))
	cols := int(binary.LittleEndian.Uint32(blob[9:]))
	want := headerSize + rows*cols*4
	if rows < 0 || cols < 0 || len(blob) != want {
		return nil, fmt.Errorf("acoustic: fingerprint blob size %d does not match %dx%d matrix", len(blob), rows, cols)
	}

	f := NewFingerprint(rows, cols)
	for i := range f.data {
		f.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[headerSize+i*4:]))
	}
	return f, nil
}
