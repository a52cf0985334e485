package profile

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Weideman's rational expansion of the Faddeeva function. 32 terms keep the
// real part accurate to ~1e-12 over the range the Voigt kernel needs.
const faddeevaTerms = 32

var (
	faddeevaOnce  sync.Once
	faddeevaCoef  []float64
	faddeevaScale float64
	invSqrtPi     = 1 / math.Sqrt(math.Pi)
)

func initFaddeeva() {
	n := faddeevaTerms
	m := 2 * n
	l := math.Sqrt(float64(n) / math.Sqrt2)

	// f sampled on k = -M+1..M-1 with a leading zero, then fftshifted.
	f := make([]float64, 2*m)
	for k := -m + 1; k <= m-1; k++ {
		t := l * math.Tan(float64(k)*math.Pi/float64(2*m))
		f[k+m] = math.Exp(-t*t) * (l*l + t*t)
	}
	shifted := make([]float64, 2*m)
	for i := range shifted {
		shifted[i] = f[(i+m)%(2*m)]
	}
	coeffs := fourier.NewFFT(2*m).Coefficients(nil, shifted)

	faddeevaCoef = make([]float64, n)
	for j := 1; j <= n; j++ {
		faddeevaCoef[j-1] = real(coeffs[j]) / float64(2*m)
	}
	faddeevaScale = l
}

// Faddeeva returns w(z) = exp(-z²)·erfc(-iz).
func Faddeeva(z complex128) complex128 {
	faddeevaOnce.Do(initFaddeeva)
	if imag(z) < 0 {
		return 2*cmplx.Exp(-z*z) - Faddeeva(-z)
	}
	l := complex(faddeevaScale, 0)
	iz := complex(0, 1) * z
	den := l - iz
	zz := (l + iz) / den
	var p complex128
	for j := len(faddeevaCoef) - 1; j >= 0; j-- {
		p = p*zz + complex(faddeevaCoef[j], 0)
	}
	return 2*p/(den*den) + complex(invSqrtPi, 0)/den
}
