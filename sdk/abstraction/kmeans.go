package abstraction

import (
	"math"
	rand "math/rand/v2"
	"sort"
)

// kmeans clusters points into k centroids with k-means++ seeding and Lloyd
// iterations. The returned centroids are sorted by their first coordinate so
// cluster ids follow hand strength.
func kmeans(points [][]float64, k, maxIter int, rng *rand.Rand) [][]float64 {
	if len(points) == 0 || k <= 0 {
		return nil
	}
	if k > len(points) {
		k = len(points)
	}
	dim := len(points[0])
	centroids := seedCentroids(points, k, rng)
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			c := nearest(centroids, p)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			c := assign[i]
			counts[c]++
			for d, v := range p {
				sums[c][d] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Re-seed an empty cluster at the point worst served by the others.
				centroids[c] = append([]float64(nil), points[farthest(centroids, points)]...)
				continue
			}
			for d := range sums[c] {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}

	sort.SliceStable(centroids, func(i, j int) bool {
		for d := 0; d < dim; d++ {
			if centroids[i][d] != centroids[j][d] {
				return centroids[i][d] < centroids[j][d]
			}
		}
		return false
	})
	return centroids
}

func seedCentroids(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), points[rng.IntN(len(points))]...))
	dist := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			dist[i] = sqDist(p, centroids[nearest(centroids, p)])
			total += dist[i]
		}
		if total == 0 {
			// Every point coincides with a centroid; duplicate to keep k stable.
			centroids = append(centroids, append([]float64(nil), points[rng.IntN(len(points))]...))
			continue
		}
		target := rng.Float64() * total
		chosen := len(points) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				chosen = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), points[chosen]...))
	}
	return centroids
}

func nearest(centroids [][]float64, p []float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func farthest(centroids [][]float64, points [][]float64) int {
	best, bestDist := 0, -1.0
	for i, p := range points {
		if d := sqDist(p, centroids[nearest(centroids, p)]); d > bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
