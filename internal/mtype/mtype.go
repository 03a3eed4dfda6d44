// Package mtype implements the scalar meta-type lattice and the bounded
// random generators that fill leaf values in a schema-shaped value tree.
package mtype

import (
	"math"
	"math/rand"
)

// Kind enumerates the scalar meta-types a field can resolve to.
type Kind int

const (
	Bool Kind = iota
	Byte
	Char
	Int8
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Float32
	Float64
	String
	ArrayKind
	Composite
)

// Width returns the nominal bit width of a scalar kind; 0 for non-scalars.
func (k Kind) Width() int {
	switch k {
	case Bool, Byte, Char, Int8, UInt8:
		return 8
	case Int16, UInt16:
		return 16
	case Int32, UInt32, Float32:
		return 32
	case Int64, UInt64, Float64:
		return 64
	default:
		return 0
	}
}

// IsScalar reports whether the kind is a leaf meta-type, matching the
// schema's is_meta_type predicate once array/composite wrapping is stripped.
func (k Kind) IsScalar() bool {
	switch k {
	case ArrayKind, Composite:
		return false
	default:
		return true
	}
}

// Range bounds a numeric generator; Max is exclusive only for the derived
// unsigned magic-overflow boundary, otherwise inclusive on both ends.
type Range struct {
	Min int64
	Max int64
}

// magicSet returns the per-width magic-value table the generator draws from
// with low probability: zero, one, common buffer-size powers of two, and the
// signed/unsigned overflow boundaries for that width.
func magicSet(width int) []int64 {
	bufferPow2 := []int64{16, 64, 256, 512, 1024, 4096, 65536}
	set := []int64{0, 1}
	set = append(set, bufferPow2...)
	if width > 0 && width < 64 {
		signedMax := int64(1)<<(width-1) - 1
		signedMin := -(int64(1) << (width - 1))
		unsignedMax := int64(1)<<width - 1
		set = append(set, signedMax, signedMin, signedMax+1, -1, unsignedMax)
	} else {
		set = append(set, math.MaxInt64, math.MinInt64, -1)
	}
	return set
}

// mask truncates v to width bits, applied to both the 99% ranged draw and
// the 1% magic-value draw.
func mask(v int64, width int) int64 {
	if width <= 0 || width >= 64 {
		return v
	}
	m := int64(1)<<width - 1
	return v & m
}

// GenInt draws a signed integer. 99% of draws fall in [r.Min, r.Max] via a
// triangular distribution biased toward the range's midpoint; 1% draw from
// the magic set. The result is always masked to width.
func GenInt(rng *rand.Rand, r Range, width int) int64 {
	if rng.Float64() < 0.01 {
		set := magicSet(width)
		return mask(set[rng.Intn(len(set))], width)
	}
	if r.Max <= r.Min {
		return mask(r.Min, width)
	}
	mode := float64(r.Min) + float64(r.Max-r.Min)/2
	v := Triangular(rng.Float64(), float64(r.Min), float64(r.Max), mode)
	return mask(int64(math.Round(v)), width)
}

// GenUInt draws an unsigned integer the same way as GenInt, reinterpreting
// the masked bit pattern as unsigned.
func GenUInt(rng *rand.Rand, r Range, width int) uint64 {
	return uint64(GenInt(rng, r, width))
}

// GenFloatBits generates a raw bit pattern using the same magic-set strategy
// used for integers, sized to 32 or 64 bits, then reinterprets it as a float.
func GenFloatBits(rng *rand.Rand, width int) uint64 {
	if rng.Float64() < 0.01 {
		set := magicSet(width)
		return uint64(mask(set[rng.Intn(len(set))], width))
	}
	if width == 32 {
		return uint64(rng.Uint32())
	}
	return rng.Uint64()
}

// GenFloat32 interprets a generated bit pattern as a float32.
func GenFloat32(rng *rand.Rand) float32 {
	return math.Float32frombits(uint32(GenFloatBits(rng, 32)))
}

// GenFloat64 interprets a generated bit pattern as a float64.
func GenFloat64(rng *rand.Rand) float64 {
	return math.Float64frombits(GenFloatBits(rng, 64))
}

// GenChar draws a byte uniformly over [0,255], used for both Char and Byte
// meta-types.
func GenChar(rng *rand.Rand) byte {
	return byte(rng.Intn(256))
}

// punctuationBytes are the 23 punctuation bytes strings are biased toward.
var punctuationBytes = []byte("!\"#$%&'()*+,-./:;<=>?@[]^_")[:23]

// stringLengthChoices and their weights, implementing the weighted length
// distribution {64:60%, 128:20%, 256:15%, 4096:5%}.
var stringLengthChoices = []int{64, 128, 256, 4096}
var stringLengthWeights = []int{60, 20, 15, 5}

// GenStringLength chooses a target string length from the weighted
// distribution.
func GenStringLength(rng *rand.Rand) int {
	return WeightedChoice(rng.Intn(100), stringLengthChoices, stringLengthWeights)
}

// GenString fills a byte slice of the given length; each byte is, with 50%
// probability, one of the 23 punctuation bytes, otherwise uniform [0,255].
// If nullTerminated, the final byte is forced to 0.
func GenString(rng *rand.Rand, length int, nullTerminated bool) []byte {
	if length <= 0 {
		return nil
	}
	buf := make([]byte, length)
	for i := range buf {
		if rng.Float64() < 0.5 {
			buf[i] = punctuationBytes[rng.Intn(len(punctuationBytes))]
		} else {
			buf[i] = byte(rng.Intn(256))
		}
	}
	if nullTerminated {
		buf[length-1] = 0
	}
	return buf
}

// GenArrayLength returns an element count for an array leaf: fixed at max
// when the type declares a fixed size, else log-uniform in [1,32] so short
// arrays dominate with the occasional long one.
func GenArrayLength(rng *rand.Rand, max int, fixed bool) int {
	if fixed {
		if max < 1 {
			return 1
		}
		return max
	}
	n := LogUniform(rng.Float64(), 1, 32)
	if n < 1 {
		n = 1
	}
	if n > 32 {
		n = 32
	}
	return n
}
