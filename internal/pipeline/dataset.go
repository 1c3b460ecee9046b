// Package pipeline runs k-anonymity requests end to end: synthetic location
// datasets, encryption, aggregation, comparison against the threshold and
// decryption, plus the queue worker that serves those requests.
package pipeline

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/kanon"
)

const datasetDomain = "kanon/dataset/v1"

// datasetRNG draws uniform floats from a SHAKE128 stream keyed by the seed.
type datasetRNG struct {
	xof sha3.ShakeHash
	buf [8]byte
}

func newDatasetRNG(seed uint64) *datasetRNG {
	xof := sha3.NewShake128()
	xof.Write([]byte(datasetDomain))
	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], seed)
	xof.Write(s[:])
	return &datasetRNG{xof: xof}
}

// advance returns the next 53 bits of the stream as a float in [0, 1)
func (r *datasetRNG) advance() float64 {
	r.xof.Read(r.buf[:])
	return float64(binary.LittleEndian.Uint64(r.buf[:])>>11) / (1 << 53)
}

// GenerateDataset returns a rows×cols matrix of 0/1 region memberships where
// each cell is 1 with probability density. The same seed always yields the
// same matrix.
func GenerateDataset(rows, cols int, density float64, seed uint64) ([][]uint64, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: dataset size %dx%d", kanon.ErrInvalidParameter, rows, cols)
	}
	if math.IsNaN(density) || density < 0 || density > 1 {
		return nil, fmt.Errorf("%w: density must be between 0.0 and 1.0, got %v", kanon.ErrInvalidParameter, density)
	}

	rng := newDatasetRNG(seed)
	data := make([][]uint64, rows)
	for i := range data {
		row := make([]uint64, cols)
		for j := range row {
			if rng.advance() < density {
				row[j] = 1
			}
		}
		data[i] = row
	}
	return data, nil
}

// Populations returns the per-column sums of data, the plaintext counterpart
// of the encrypted aggregate.
func Populations(data [][]uint64) []uint64 {
	if len(data) == 0 {
		return nil
	}
	out := make([]uint64, len(data[0]))
	for _, row := range data {
		for j, v := range row {
			out[j] += v
		}
	}
	return out
}
