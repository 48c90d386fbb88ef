package parakeet

import "math"

// Mel filterbank frontend for the NeMo acoustic encoder: 128 log-mel bins
// over 25 ms Hamming-windowed frames with a 10 ms shift at 16 kHz.
type featureConfig struct {
	sampleRate  int
	featureDim  int
	frameLength int
	frameShift  int
	fftSize     int
	fMin        float64
	fMax        float64
}

func defaultFeatureConfig() featureConfig {
	return featureConfig{
		sampleRate:  16000,
		featureDim:  128,
		frameLength: 400,
		frameShift:  160,
		fftSize:     512,
		fMin:        0,
		fMax:        8000,
	}
}

type featureExtractor struct {
	cfg      featureConfig
	window   []float64
	melBanks [][]float64
}

func newFeatureExtractor(cfg featureConfig) *featureExtractor {
	fe := &featureExtractor{cfg: cfg}
	fe.window = hammingWindow(cfg.frameLength)
	fe.melBanks = melFilterbanks(cfg)
	return fe
}

// extract converts audio samples into a matrix of log-mel frames. Audio
// shorter than one frame yields no frames and no error; the caller decides
// whether that is acceptable.
func (fe *featureExtractor) extract(audio []float32) [][]float32 {
	if len(audio) < fe.cfg.frameLength {
		return nil
	}
	numFrames := (len(audio)-fe.cfg.frameLength)/fe.cfg.frameShift + 1

	features := make([][]float32, 0, numFrames)
	re := make([]float64, fe.cfg.fftSize)
	im := make([]float64, fe.cfg.fftSize)
	spectrum := make([]float64, fe.cfg.fftSize/2+1)

	for i := 0; i < numFrames; i++ {
		start := i * fe.cfg.frameShift
		frame := audio[start : start+fe.cfg.frameLength]

		// Window into the zero-padded FFT buffer.
		for j := range re {
			if j < len(frame) {
				re[j] = float64(frame[j]) * fe.window[j]
			} else {
				re[j] = 0
			}
			im[j] = 0
		}
		fft(re, im)
		for k := range spectrum {
			spectrum[k] = (re[k]*re[k] + im[k]*im[k]) / float64(fe.cfg.fftSize)
		}

		mel := make([]float32, fe.cfg.featureDim)
		for b, bank := range fe.melBanks {
			var sum float64
			for k, w := range bank {
				sum += w * spectrum[k]
			}
			mel[b] = float32(math.Log(sum + 1e-10))
		}
		features = append(features, mel)
	}
	return features
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }

func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// melFilterbanks builds triangular filters with centers equally spaced on
// the mel scale between fMin and fMax.
func melFilterbanks(cfg featureConfig) [][]float64 {
	fftBins := cfg.fftSize/2 + 1
	melMin := hzToMel(cfg.fMin)
	melMax := hzToMel(cfg.fMax)

	binPoints := make([]int, cfg.featureDim+2)
	for i := range binPoints {
		mel := melMin + (melMax-melMin)*float64(i)/float64(cfg.featureDim+1)
		hz := melToHz(mel)
		binPoints[i] = int(float64(fftBins) * hz / float64(cfg.sampleRate))
	}

	banks := make([][]float64, cfg.featureDim)
	for i := range banks {
		bank := make([]float64, fftBins)
		left, center, right := binPoints[i], binPoints[i+1], binPoints[i+2]
		for j := left; j < center && j < fftBins; j++ {
			bank[j] = float64(j-left) / float64(center-left)
		}
		for j := center; j < right && j < fftBins; j++ {
			bank[j] = float64(right-j) / float64(right-center)
		}
		banks[i] = bank
	}
	return banks
}

// fft performs an in-place radix-2 transform; len(re) must be a power of two.
func fft(re, im []float64) {
	n := len(re)
	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}
	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wRe, wIm := math.Cos(ang), math.Sin(ang)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			for k := start; k < start+length/2; k++ {
				m := k + length/2
				tRe := re[m]*curRe - im[m]*curIm
				tIm := re[m]*curIm + im[m]*curRe
				re[m] = re[k] - tRe
				im[m] = im[k] - tIm
				re[k] += tRe
				im[k] += tIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}
}
