package rasterio

import "math"

// applyKernel evaluates the configured resampling kernel over a
// (2*radius+1)×(2*radius+1) window of raw values, centered at fractional
// offset (fx, fy) from the window's center cell. Grounded on
// internal/tile/resample.go's separable-weight bilinear/bicubic/Lanczos
// implementations, generalized from per-channel uint8 pixels to a single
// float64 band.
func applyKernel(k Kernel, values []float64, window, radius int, fx, fy float64) float64 {
	switch k {
	case Bilinear:
		return bilinearWindow(values, window, radius, fx, fy)
	case Cubic, CubicSpline:
		return cubicWindow(values, window, radius, fx, fy)
	case Lanczos:
		return lanczosWindow(values, window, radius, fx, fy)
	case Average:
		return averageWindow(values)
	case Mode:
		return modeWindow(values)
	case Gaussian:
		return gaussianWindow(values, window, radius, fx, fy)
	default:
		return values[radius*window+radius]
	}
}

func at(values []float64, window, x, y int) float64 {
	x = clampInt(x, 0, window-1)
	y = clampInt(y, 0, window-1)
	return values[y*window+x]
}

// bilinearWindow interpolates the 2×2 cells straddling the center.
func bilinearWindow(values []float64, window, radius int, fx, fy float64) float64 {
	v00 := at(values, window, radius, radius)
	v10 := at(values, window, radius+1, radius)
	v01 := at(values, window, radius, radius+1)
	v11 := at(values, window, radius+1, radius+1)

	top := v00*(1-fx) + v10*fx
	bot := v01*(1-fx) + v11*fx
	return top*(1-fy) + bot*fy
}

// cubic computes the Catmull-Rom (a = -0.5) bicubic kernel weight,
// grounded on internal/tile/resample.go's bicubic().
func cubic(x float64) float64 {
	if x < 0 {
		x = -x
	}
	if x >= 2 {
		return 0
	}
	x2 := x * x
	x3 := x2 * x
	if x <= 1 {
		return 1.5*x3 - 2.5*x2 + 1
	}
	return -0.5*x3 + 2.5*x2 - 4*x + 2
}

func cubicWindow(values []float64, window, radius int, fx, fy float64) float64 {
	var sum, wsum float64
	for dy := -1; dy <= 2; dy++ {
		wy := cubic(float64(dy) - fy)
		for dx := -1; dx <= 2; dx++ {
			wx := cubic(float64(dx) - fx)
			w := wx * wy
			sum += w * at(values, window, radius+dx, radius+dy)
			wsum += w
		}
	}
	if wsum == 0 {
		return at(values, window, radius, radius)
	}
	return sum / wsum
}

// lanczos3 computes the windowed-sinc Lanczos-3 kernel weight, grounded on
// internal/tile/resample.go's lanczos3().
func lanczos3(x float64) float64 {
	if x == 0 {
		return 1
	}
	if x < -3 || x > 3 {
		return 0
	}
	xPi := x * math.Pi
	return 3 * math.Sin(xPi) * math.Sin(xPi/3) / (xPi * xPi)
}

func lanczosWindow(values []float64, window, radius int, fx, fy float64) float64 {
	var sum, wsum float64
	for dy := -3; dy <= 3; dy++ {
		wy := lanczos3(float64(dy) - fy)
		for dx := -3; dx <= 3; dx++ {
			wx := lanczos3(float64(dx) - fx)
			w := wx * wy
			sum += w * at(values, window, radius+dx, radius+dy)
			wsum += w
		}
	}
	if wsum == 0 {
		return at(values, window, radius, radius)
	}
	return sum / wsum
}

// gaussianWindow applies a Gaussian-weighted average over the full window,
// with sigma scaled to the window radius so that the kernel naturally
// widens or narrows with the configured sampling radius.
func gaussianWindow(values []float64, window, radius int, fx, fy float64) float64 {
	sigma := math.Max(float64(radius)/2, 0.5)
	var sum, wsum float64
	for dy := -radius; dy <= radius; dy++ {
		dyf := float64(dy) - fy
		for dx := -radius; dx <= radius; dx++ {
			dxf := float64(dx) - fx
			d2 := dxf*dxf + dyf*dyf
			w := math.Exp(-d2 / (2 * sigma * sigma))
			sum += w * at(values, window, radius+dx, radius+dy)
			wsum += w
		}
	}
	if wsum == 0 {
		return at(values, window, radius, radius)
	}
	return sum / wsum
}

func averageWindow(values []float64) float64 {
	var sum float64
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// modeWindow returns the most frequently occurring value in the window,
// breaking ties by the smallest value (stable, deterministic).
func modeWindow(values []float64) float64 {
	counts := make(map[float64]int, len(values))
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		counts[v]++
	}
	if len(counts) == 0 {
		return math.NaN()
	}

	bestVal := math.Inf(1)
	bestCount := 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < bestVal) {
			bestVal = v
			bestCount = c
		}
	}
	return bestVal
}
