package lsm

import (
	"errors"
	"hash/fnv"
	"math"
)

// BloomFilter is a probabilistic set-membership structure: false positives
// are possible, false negatives are not. Used to skip an SSTable entirely
// when a lookup key was never written to it.
type BloomFilter struct {
	bits      []bool
	size      int
	hashCount int
}

// NewBloomFilter sizes a filter for expectedItems entries at the requested
// falsePositiveRate (e.g. 0.01 for 1%).
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	size := int(math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	hashCount := int(math.Ceil((float64(size) / float64(expectedItems)) * math.Ln2))

	const maxSize = 1_000_000_000
	if size > maxSize {
		size = maxSize
	}
	if size < 1 {
		size = 1
	}
	if hashCount < 1 {
		hashCount = 1
	}
	if hashCount > 100 {
		hashCount = 100
	}

	return &BloomFilter{bits: make([]bool, size), size: size, hashCount: hashCount}
}

func (bf *BloomFilter) Add(key []byte) {
	for i := 0; i < bf.hashCount; i++ {
		bf.bits[bf.hash(key, i)] = true
	}
}

// MayContain returns false only when the key was definitely never added.
func (bf *BloomFilter) MayContain(key []byte) bool {
	for i := 0; i < bf.hashCount; i++ {
		if !bf.bits[bf.hash(key, i)] {
			return false
		}
	}
	return true
}

// hash computes the i-th probe via double hashing over two FNV-64a sums.
func (bf *BloomFilter) hash(key []byte, i int) int {
	h1 := fnv.New64a()
	_, _ = h1.Write(key)
	hash1 := h1.Sum64()

	h2 := fnv.New64a()
	_, _ = h2.Write(key)
	_, _ = h2.Write([]byte{0xFF})
	hash2 := h2.Sum64()
	if hash2%2 == 0 {
		hash2++
	}

	combined := hash1 + uint64(i)*hash2
	return int(combined % uint64(bf.size))
}

func (bf *BloomFilter) Size() int      { return bf.size }
func (bf *BloomFilter) HashCount() int { return bf.hashCount }

func (bf *BloomFilter) EstimateFalsePositiveRate(itemCount int) float64 {
	k := float64(bf.hashCount)
	n := float64(itemCount)
	m := float64(bf.size)
	return math.Pow(1.0-math.Exp(-k*n/m), k)
}

var ErrIncompatibleFilters = errors.New("lsm: incompatible bloom filters")

// Merge ORs other into bf; both must share size and hash count.
func (bf *BloomFilter) Merge(other *BloomFilter) error {
	if bf.size != other.size || bf.hashCount != other.hashCount {
		return ErrIncompatibleFilters
	}
	for i := range bf.bits {
		bf.bits[i] = bf.bits[i] || other.bits[i]
	}
	return nil
}

// MarshalBinary packs the bit vector 8-to-a-byte for the SSTable footer.
func (bf *BloomFilter) MarshalBinary() []byte {
	data := make([]byte, (bf.size+7)/8)
	for i := 0; i < bf.size; i++ {
		if bf.bits[i] {
			data[i/8] |= 1 << (i % 8)
		}
	}
	return data
}

func (bf *BloomFilter) UnmarshalBinary(data []byte) error {
	for i := 0; i < bf.size && i/8 < len(data); i++ {
		bf.bits[i] = (data[i/8] & (1 << (i % 8))) != 0
	}
	return nil
}
