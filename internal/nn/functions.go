package nn

import "math"

func Identity(x float64) float64 { return x }

func ReLU(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func Tanh(x float64) float64 { return math.Tanh(x) }

func Exp(x float64) float64 { return math.Exp(x) }

// ShiftedExp is exp(x-1), so a zero-initialised output starts near 1/e.
func ShiftedExp(x float64) float64 { return math.Exp(x - 1) }

// TruncExp matches Exp on the forward pass. Only its gradient is truncated,
// and gradients are computed by the optimizer that owns the parameters.
func TruncExp(x float64) float64 { return math.Exp(x) }

func ShiftedTruncExp(x float64) float64 { return TruncExp(x - 1) }

// Softplus is log(1+exp(x)) computed without overflow for large x.
func Softplus(x float64) float64 {
	return math.Log1p(math.Exp(-math.Abs(x))) + math.Max(x, 0)
}

func ShiftedSoftplus(x float64) float64 { return Softplus(x - 1) }

// ScaleToUnit maps [-1, 1] to [0, 1].
func ScaleToUnit(x float64) float64 { return x*0.5 + 0.5 }

func Negative(x float64) float64 { return -x }

// LinearToSRGB applies the sRGB transfer curve and clamps to [0, 1].
func LinearToSRGB(x float64) float64 {
	var y float64
	if x > 0.0031308 {
		y = math.Pow(x, 1.0/2.4)*1.055 - 0.055
	} else {
		y = 12.92 * x
	}
	return Sat(y, 1, 0)
}

// Sat clamps value to [min, max].
func Sat(value, max, min float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}
