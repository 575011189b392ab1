// Copyright 2025 by the ttrack authors, see LICENSE file

package s2lp

import (
	"fmt"
	"math"
)

// All encodings below assume the board's 26MHz crystal with the digital clock
// divider off and the synthesizer in the high band (B=4, REFDIV=0). The
// formulas are the datasheet ones; rounding is round-to-nearest everywhere so
// that encoding is deterministic and decode-then-encode lands back on the
// same register pair.
const (
	FXO  = 26000000 // reference oscillator in Hz
	FDig = FXO      // digital clock, no divider

	// High band coverage of the synthesizer.
	FreqMin = 826000000
	FreqMax = 1056000000
)

// MantissaExponent is the chip's register encoding of a continuous physical
// quantity (deviation, data rate, channel filter bandwidth).
type MantissaExponent struct {
	Mantissa uint16
	Exponent uint8
}

// Precomputed settings reused verbatim by the protocol stack sessions
// (100bps uplink, 600bps downlink) at fXO=26MHz.
var (
	Fdev2kHz       = MantissaExponent{67, 1}
	Fdev800Hz      = MantissaExponent{129, 0}
	DataRate500bps = MantissaExponent{17059, 1}
	DataRate600bps = MantissaExponent{33579, 1}
	RxBw2kHz1      = MantissaExponent{8, 8}
)

// EncodeSynth converts a carrier frequency in Hz to the 28-bit synthesizer
// word: SYNT = freq * 2^21 / fXO in the high band (B/2=2, D=1).
func EncodeSynth(freqHz uint32) (uint32, error) {
	if freqHz < FreqMin || freqHz > FreqMax {
		return 0, fmt.Errorf("%w: frequency %dHz outside %d..%dHz", ErrOutOfRange,
			freqHz, FreqMin, FreqMax)
	}
	synt := (uint64(freqHz)<<21 + FXO/2) / FXO
	return uint32(synt), nil
}

// DecodeSynth is the inverse of EncodeSynth.
func DecodeSynth(synt uint32) uint32 {
	return uint32((uint64(synt)*FXO + 1<<20) >> 21)
}

// EncodeDeviation converts an FSK frequency deviation in Hz to its
// mantissa/exponent pair:
//
//	E=0:  fdev = fXO * M / 2^22
//	E>0:  fdev = fXO * (256+M) * 2^(E-1) / 2^22
func EncodeDeviation(fdevHz float64) (MantissaExponent, error) {
	if fdevHz <= 0 {
		return MantissaExponent{}, fmt.Errorf("%w: deviation %gHz", ErrOutOfRange, fdevHz)
	}
	m := math.Round(fdevHz * (1 << 22) / FXO)
	if m <= 255 {
		return MantissaExponent{uint16(m), 0}, nil
	}
	for e := uint8(1); e <= 15; e++ {
		v := math.Round(fdevHz * (1 << 22) / (FXO * float64(uint32(1)<<(e-1))))
		if v <= 511 {
			return MantissaExponent{uint16(v) - 256, e}, nil
		}
	}
	return MantissaExponent{}, fmt.Errorf("%w: deviation %gHz too large", ErrOutOfRange, fdevHz)
}

// DecodeDeviation is the inverse of EncodeDeviation.
func DecodeDeviation(me MantissaExponent) float64 {
	if me.Exponent == 0 {
		return FXO * float64(me.Mantissa) / (1 << 22)
	}
	return FXO * float64(256+uint32(me.Mantissa)) * float64(uint32(1)<<(me.Exponent-1)) / (1 << 22)
}

// EncodeDataRate converts a bit rate in bps to its mantissa/exponent pair:
//
//	E=0:       rate = fdig * M / 2^32
//	0<E<15:    rate = fdig * (2^16+M) * 2^E / 2^33
func EncodeDataRate(bps float64) (MantissaExponent, error) {
	if bps <= 0 {
		return MantissaExponent{}, fmt.Errorf("%w: data rate %gbps", ErrOutOfRange, bps)
	}
	m := math.Round(bps * (1 << 32) / FDig)
	if m <= 65535 {
		return MantissaExponent{uint16(m), 0}, nil
	}
	for e := uint8(1); e <= 14; e++ {
		v := math.Round(bps * (1 << 33) / (FDig * float64(uint32(1)<<e)))
		if v <= 131071 {
			return MantissaExponent{uint16(v - 65536), e}, nil
		}
	}
	return MantissaExponent{}, fmt.Errorf("%w: data rate %gbps too large", ErrOutOfRange, bps)
}

// DecodeDataRate is the inverse of EncodeDataRate.
func DecodeDataRate(me MantissaExponent) float64 {
	if me.Exponent == 0 {
		return FDig * float64(me.Mantissa) / (1 << 32)
	}
	return FDig * float64(1<<16+uint32(me.Mantissa)) * float64(uint64(1)<<me.Exponent) / (1 << 33)
}

// chfltBase holds the channel filter bandwidths in Hz for exponent 0 at
// fdig=26MHz, indexed by mantissa. Each exponent step halves the bandwidth.
var chfltBase = [9]float64{
	800100, 795100, 768400, 736800, 705100, 670900, 642300, 586700, 541400,
}

const chfltExpMax = 9

// EncodeBandwidth selects the channel filter mantissa/exponent pair whose
// bandwidth is closest to the requested one. The representable range at
// 26MHz is roughly 2.1kHz to 800kHz; values outside it are rejected rather
// than silently saturated.
func EncodeBandwidth(bwHz float64) (MantissaExponent, error) {
	min := chfltBase[8] / (1 << chfltExpMax)
	if bwHz < min || bwHz > chfltBase[0] {
		return MantissaExponent{}, fmt.Errorf("%w: bandwidth %gHz outside %g..%gHz",
			ErrOutOfRange, bwHz, min, chfltBase[0])
	}
	best := MantissaExponent{}
	bestDist := math.Inf(1)
	for e := 0; e <= chfltExpMax; e++ {
		for m := 0; m < len(chfltBase); m++ {
			bw := chfltBase[m] / float64(uint32(1)<<e)
			if d := math.Abs(bw - bwHz); d < bestDist {
				bestDist = d
				best = MantissaExponent{uint16(m), uint8(e)}
			}
		}
	}
	return best, nil
}

// DecodeBandwidth is the inverse of EncodeBandwidth.
func DecodeBandwidth(me MantissaExponent) float64 {
	return chfltBase[me.Mantissa] / float64(uint32(1)<<me.Exponent)
}
