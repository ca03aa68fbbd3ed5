package similarity

// SquaredL2 returns the squared Euclidean distance between equal-length vectors.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Score maps a non-negative distance into (0,1]; identical vectors score 1.
func Score(distance float64) float64 {
	return 1 / (1 + distance)
}
