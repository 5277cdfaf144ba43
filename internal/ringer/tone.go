package ringer

import (
	"math"
	"time"
)

// Ring cadence of the synthesized default ringtone: a 440+480 Hz dual tone,
// two seconds on and four seconds off.
const (
	ringFreqLow  = 440.0
	ringFreqHigh = 480.0
	ringOn       = 2 * time.Second
	ringOff      = 4 * time.Second
	ringLevel    = 0.35 // fraction of full scale per component
)

// DefaultTone synthesizes one cadence cycle of the standard ring signal as
// u-law samples. It is used when no ringtone file is configured.
func DefaultTone() Tone {
	on := int(ringOn / (time.Second / sampleRate))
	off := int(ringOff / (time.Second / sampleRate))

	samples := make([]byte, on+off)
	for i := 0; i < on; i++ {
		t := float64(i) / sampleRate
		v := ringLevel * (math.Sin(2*math.Pi*ringFreqLow*t) + math.Sin(2*math.Pi*ringFreqHigh*t))
		samples[i] = encodeULaw(int16(v * math.MaxInt16))
	}
	for i := on; i < len(samples); i++ {
		samples[i] = EncodingULaw.silence()
	}
	return Tone{Encoding: EncodingULaw, Samples: samples}
}

// encodeULaw converts a 16-bit linear PCM sample to a G.711 u-law byte.
func encodeULaw(sample int16) byte {
	const bias = 0x84
	const clip = 32635

	s := int(sample)
	sign := 0
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > clip {
		s = clip
	}
	s += bias

	exponent := 7
	for mask := 0x4000; exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}
