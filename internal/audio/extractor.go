package audio

import "math"

// Metrics are the five scalar acoustic features computed from one sample
// window. They ride alongside the raw clip on every analysis cycle and feed
// the classifier's session context.
type Metrics struct {
	VolumeRMS      float64 `json:"volume_rms"`      // overall loudness, 0..1
	SilenceRatio   float64 `json:"silence_ratio"`   // fraction of window below the silence threshold
	EstimatedWPM   int     `json:"estimated_wpm"`   // rough words/minute from burst counting
	PeakVolume     float64 `json:"peak_volume"`     // loudest single sample, 0..1
	VolumeVariance float64 `json:"volume_variance"` // variance of per-chunk RMS; low = monotone
}

// Clamp forces every field back into its documented range. Used both on
// extractor output and on client-supplied metrics before they are trusted.
func (m *Metrics) Clamp() {
	m.VolumeRMS = clamp01(m.VolumeRMS)
	m.SilenceRatio = clamp01(m.SilenceRatio)
	m.PeakVolume = clamp01(m.PeakVolume)
	if m.EstimatedWPM < 0 {
		m.EstimatedWPM = 0
	}
	if m.EstimatedWPM > 400 {
		m.EstimatedWPM = 400
	}
	if m.VolumeVariance < 0 {
		m.VolumeVariance = 0
	}
}

// Config tunes the extractor. Thresholds apply to normalized absolute
// amplitude in [0,1]. BurstOn must sit above BurstOff: the gap is what keeps
// sample-level noise from being counted as many micro-bursts.
type Config struct {
	SampleRate        int
	WindowSeconds     float64
	SilenceThreshold  float64
	BurstOnThreshold  float64
	BurstOffThreshold float64
}

// DefaultConfig matches the thresholds the capture client ships with.
func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		WindowSeconds:     2.0,
		SilenceThreshold:  0.045,
		BurstOnThreshold:  0.10,
		BurstOffThreshold: 0.07,
	}
}

// Extractor converts a window of normalized samples into Metrics. It is
// stateless and safe to share.
type Extractor struct {
	cfg Config
}

// NewExtractor builds an extractor, falling back to defaults for zero fields.
func NewExtractor(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.BurstOnThreshold <= 0 {
		cfg.BurstOnThreshold = def.BurstOnThreshold
	}
	if cfg.BurstOffThreshold <= 0 {
		cfg.BurstOffThreshold = def.BurstOffThreshold
	}
	return &Extractor{cfg: cfg}
}

// Extract computes all five metrics over one window of samples in [-1,1].
// An empty window degrades to zeroed metrics with SilenceRatio=1; it is
// never an error.
func (e *Extractor) Extract(samples []float64) Metrics {
	if len(samples) == 0 {
		return Metrics{SilenceRatio: 1}
	}

	windowSec := e.cfg.WindowSeconds
	if windowSec <= 0 {
		windowSec = float64(len(samples)) / float64(e.cfg.SampleRate)
	}

	var sumSq, peak float64
	silent := 0
	for _, s := range samples {
		a := math.Abs(s)
		sumSq += s * s
		if a > peak {
			peak = a
		}
		if a < e.cfg.SilenceThreshold {
			silent++
		}
	}

	m := Metrics{
		VolumeRMS:      clamp01(math.Sqrt(sumSq / float64(len(samples)))),
		SilenceRatio:   float64(silent) / float64(len(samples)),
		PeakVolume:     clamp01(peak),
		VolumeVariance: e.chunkRMSVariance(samples),
		EstimatedWPM:   e.estimateWPM(samples, windowSec),
	}
	return m
}

// chunkRMSVariance computes the variance of RMS values over ~100ms chunks.
// Fewer than two full chunks means there is nothing to vary; return 0.
func (e *Extractor) chunkRMSVariance(samples []float64) float64 {
	chunk := e.cfg.SampleRate / 10
	if chunk <= 0 {
		return 0
	}
	n := len(samples) / chunk
	if n < 2 {
		return 0
	}

	rms := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		var sumSq float64
		for _, s := range samples[i*chunk : (i+1)*chunk] {
			sumSq += s * s
		}
		rms = append(rms, math.Sqrt(sumSq/float64(chunk)))
	}

	var mean float64
	for _, v := range rms {
		mean += v
	}
	mean /= float64(len(rms))

	var varSum float64
	for _, v := range rms {
		d := v - mean
		varSum += d * d
	}
	// Sample variance, matching the capture client's statistics.variance.
	return varSum / float64(len(rms)-1)
}

// burstState is the explicit two-state hysteresis machine used for syllable
// burst counting. A burst starts when amplitude crosses BurstOn while idle
// and ends when it drops below BurstOff while in a burst.
type burstState int

const (
	burstIdle burstState = iota
	burstActive
)

// estimateWPM counts syllable-group bursts with hysteresis and extrapolates
// to words per minute. Windows under one second carry too little signal for
// a rate and always report 0. Result clamped to [0,350].
func (e *Extractor) estimateWPM(samples []float64, windowSec float64) int {
	if windowSec < 1.0 {
		return 0
	}

	bursts := 0
	state := burstIdle
	for _, s := range samples {
		a := math.Abs(s)
		switch state {
		case burstIdle:
			if a >= e.cfg.BurstOnThreshold {
				bursts++
				state = burstActive
			}
		case burstActive:
			if a < e.cfg.BurstOffThreshold {
				state = burstIdle
			}
		}
	}
	if bursts == 0 {
		return 0
	}

	// Each burst is roughly one stressed syllable group; average English
	// speech runs ~1.5 syllables per word.
	wpm := int(float64(bursts) / windowSec / 1.5 * 60)
	if wpm < 0 {
		wpm = 0
	}
	if wpm > 350 {
		wpm = 350
	}
	return wpm
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
