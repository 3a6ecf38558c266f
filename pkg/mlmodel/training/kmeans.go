package training

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mimir-aip/triage-ml/pkg/models"
)

// KMeansConfig controls a k-means fit
type KMeansConfig struct {
	K         int
	Inits     int // independent k-means++ seedings; the lowest inertia wins
	MaxIter   int
	Seed      int64
	Tolerance float64 // relative to the mean per-column variance
}

// KMeansModel is a fitted partition
type KMeansModel struct {
	Centroids  [][]float64
	Inertia    float64
	Iterations int
}

// FitKMeans clusters rows with k-means++ seeding and Lloyd iterations
func FitKMeans(rows [][]float64, cfg KMeansConfig) (*KMeansModel, error) {
	n := len(rows)
	if cfg.K < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", models.ErrValidation, cfg.K)
	}
	if cfg.K > n {
		return nil, fmt.Errorf("%w: k=%d exceeds the %d available records", models.ErrValidation, cfg.K, n)
	}
	if cfg.Inits < 1 {
		cfg.Inits = 10
	}
	if cfg.MaxIter < 1 {
		cfg.MaxIter = 300
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-4
	}

	tol := cfg.Tolerance * meanVariance(rows)
	rng := rand.New(rand.NewSource(cfg.Seed))

	var best *KMeansModel
	for init := 0; init < cfg.Inits; init++ {
		centroids := seedPlusPlus(rows, cfg.K, rng)
		model := lloyd(rows, centroids, cfg.MaxIter, tol)
		if best == nil || model.Inertia < best.Inertia {
			best = model
		}
	}
	return best, nil
}

// Nearest returns the index of the closest centroid; ties go to the lowest index
func Nearest(centroids [][]float64, x []float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, c := range centroids {
		if d := squaredDistance(c, x); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

func seedPlusPlus(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(rows)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), rows[rng.Intn(n)]...))

	dist := make([]float64, n)
	for i, row := range rows {
		dist[i] = squaredDistance(row, centroids[0])
	}

	for len(centroids) < k {
		total := floats.Sum(dist)
		var next int
		if total == 0 {
			next = rng.Intn(n)
		} else {
			target := rng.Float64() * total
			var cum float64
			next = n - 1
			for i, d := range dist {
				cum += d
				if cum >= target && d > 0 {
					next = i
					break
				}
			}
		}
		c := append([]float64(nil), rows[next]...)
		centroids = append(centroids, c)
		for i, row := range rows {
			if d := squaredDistance(row, c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

func lloyd(rows [][]float64, centroids [][]float64, maxIter int, tol float64) *KMeansModel {
	k := len(centroids)
	dim := len(rows[0])
	labels := make([]int, len(rows))
	model := &KMeansModel{Centroids: centroids}

	for iter := 1; iter <= maxIter; iter++ {
		model.Iterations = iter
		for i, row := range rows {
			labels[i] = Nearest(centroids, row)
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, row := range rows {
			floats.Add(sums[labels[i]], row)
			counts[labels[i]]++
		}

		var shift float64
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// empty cluster keeps its previous centroid
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			shift += squaredDistance(sums[c], centroids[c])
			centroids[c] = sums[c]
		}
		if shift <= tol {
			break
		}
	}

	var inertia float64
	for _, row := range rows {
		inertia += squaredDistance(row, centroids[Nearest(centroids, row)])
	}
	model.Centroids = centroids
	model.Inertia = inertia
	return model
}

func squaredDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func meanVariance(rows [][]float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	dim := len(rows[0])
	col := make([]float64, len(rows))
	var total float64
	for j := 0; j < dim; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		_, std := stat.PopMeanStdDev(col, nil)
		total += std * std
	}
	return total / float64(dim)
}
