package diarize

import (
	"math"
	"sort"
)

// ClusterConfig holds the agglomerative clustering parameters. The
// defaults reproduce the tuned speaker-separation behavior: cosine
// geometry via centroid linkage over L2-normalized embeddings, a 0.8
// dendrogram cut, and no minimum cluster size.
type ClusterConfig struct {
	// Threshold is the dendrogram cut distance for the initial
	// partition.
	Threshold float64

	// MinClusterSize is the smallest cluster counted as a speaker;
	// smaller clusters are folded into their nearest large neighbor.
	MinClusterSize int
}

// DefaultClusterConfig returns the production clustering parameters.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{Threshold: 0.8, MinClusterSize: 1}
}

// merge is one dendrogram row: clusters a and b joined at dist,
// forming a cluster of size members. Merge i creates cluster id n+i.
type merge struct {
	a, b int
	dist float64
	size int
}

// Cluster partitions the embeddings into speaker clusters and returns
// a dense label per embedding, labels assigned in first-appearance
// order. The number of distinct labels is steered into
// [minSpeakers, maxSpeakers] by re-cutting the dendrogram near the
// configured threshold.
func Cluster(embeddings [][]float64, minSpeakers, maxSpeakers int, cfg ClusterConfig) []int {
	n := len(embeddings)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}
	if minSpeakers < 1 {
		minSpeakers = 1
	}
	if maxSpeakers < minSpeakers {
		maxSpeakers = minSpeakers
	}

	normalized := normalizeRows(embeddings)
	dendrogram := linkage(normalized)

	clusters := cutByDistance(dendrogram, n, cfg.Threshold)
	large := largeClusters(clusters, cfg.MinClusterSize)
	numLarge := len(large)

	target := 0
	if numLarge < minSpeakers {
		target = minSpeakers
	} else if numLarge > maxSpeakers {
		target = maxSpeakers
	}

	if target != 0 && numLarge != target {
		clusters = recut(dendrogram, n, cfg, target)
		large = largeClusters(clusters, cfg.MinClusterSize)
		numLarge = len(large)
	}

	if numLarge == 0 {
		out := make([]int, n)
		return out
	}

	clusters = absorbSmallClusters(clusters, normalized, large, cfg.MinClusterSize)
	return relabelFirstAppearance(clusters)
}

// normalizeRows L2-normalizes each embedding. All-zero rows are left
// as-is instead of dividing by zero.
func normalizeRows(embeddings [][]float64) [][]float64 {
	out := make([][]float64, len(embeddings))
	for i, row := range embeddings {
		norm := 0.0
		for _, v := range row {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		normalized := make([]float64, len(row))
		if norm > 0 {
			for j, v := range row {
				normalized[j] = v / norm
			}
		}
		out[i] = normalized
	}
	return out
}

// linkage runs agglomerative clustering with centroid linkage on
// Euclidean distance, returning the merges in execution order.
// Euclidean distance between normalized embeddings orders pairs the
// same way cosine distance on the originals does.
func linkage(points [][]float64) []merge {
	n := len(points)
	dim := len(points[0])

	type node struct {
		centroid []float64
		size     int
		alive    bool
	}
	nodes := make([]node, n, 2*n-1)
	for i, p := range points {
		centroid := make([]float64, dim)
		copy(centroid, p)
		nodes[i] = node{centroid: centroid, size: 1, alive: true}
	}

	merges := make([]merge, 0, n-1)
	for len(merges) < n-1 {
		bestA, bestB := -1, -1
		bestDist := math.Inf(1)
		for a := range nodes {
			if !nodes[a].alive {
				continue
			}
			for b := a + 1; b < len(nodes); b++ {
				if !nodes[b].alive {
					continue
				}
				d := euclidean(nodes[a].centroid, nodes[b].centroid)
				if d < bestDist {
					bestDist = d
					bestA, bestB = a, b
				}
			}
		}

		sa, sb := nodes[bestA].size, nodes[bestB].size
		total := sa + sb
		centroid := make([]float64, dim)
		for j := range centroid {
			centroid[j] = (nodes[bestA].centroid[j]*float64(sa) +
				nodes[bestB].centroid[j]*float64(sb)) / float64(total)
		}
		nodes[bestA].alive = false
		nodes[bestB].alive = false
		nodes = append(nodes, node{centroid: centroid, size: total, alive: true})
		merges = append(merges, merge{a: bestA, b: bestB, dist: bestDist, size: total})
	}
	return merges
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// cutByDistance flattens the dendrogram at a distance threshold.
// Centroid linkage is not monotone, so each merge is judged by the
// maximum distance along its subtree, matching how flat clusters are
// conventionally extracted.
func cutByDistance(merges []merge, n int, threshold float64) []int {
	effective := make([]float64, len(merges))
	for i, m := range merges {
		h := m.dist
		if m.a >= n && effective[m.a-n] > h {
			h = effective[m.a-n]
		}
		if m.b >= n && effective[m.b-n] > h {
			h = effective[m.b-n]
		}
		effective[i] = h
	}
	apply := make([]bool, len(merges))
	for i := range merges {
		apply[i] = effective[i] <= threshold
	}
	return flatten(merges, n, apply)
}

// cutByIteration flattens the dendrogram keeping only the first
// iteration+1 merges, the cut used during the re-cut search.
func cutByIteration(merges []merge, n, iteration int) []int {
	apply := make([]bool, len(merges))
	for i := range merges {
		apply[i] = i <= iteration
	}
	return flatten(merges, n, apply)
}

// flatten assigns a flat cluster id per observation given which merges
// are applied. A merge only takes effect if both children were formed
// by applied merges.
func flatten(merges []merge, n int, apply []bool) []int {
	parent := make([]int, n+len(merges))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	formed := make([]bool, len(merges))
	for i, m := range merges {
		childrenFormed := (m.a < n || formed[m.a-n]) && (m.b < n || formed[m.b-n])
		if !apply[i] || !childrenFormed {
			continue
		}
		formed[i] = true
		ra, rb := find(m.a), find(m.b)
		parent[ra] = n + i
		parent[rb] = n + i
	}

	labels := make([]int, n)
	seen := make(map[int]int)
	for i := 0; i < n; i++ {
		root := find(i)
		id, ok := seen[root]
		if !ok {
			id = len(seen)
			seen[root] = id
		}
		labels[i] = id
	}
	return labels
}

// largeClusters returns the ids of clusters holding at least
// minClusterSize members, in ascending id order.
func largeClusters(labels []int, minClusterSize int) []int {
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	var large []int
	for id, count := range counts {
		if count >= minClusterSize {
			large = append(large, id)
		}
	}
	sort.Ints(large)
	return large
}

// recut searches dendrogram cut-points for one whose large-cluster
// count matches the target. Candidate iterations are ranked by how
// close their merge distance sits to the configured threshold, ties
// broken by earliest iteration; merges below the minimum cluster size
// are skipped. An exact match wins immediately, otherwise the closest
// count seen is used.
func recut(merges []merge, n int, cfg ClusterConfig, target int) []int {
	order := make([]int, len(merges))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		di := math.Abs(merges[order[i]].dist - cfg.Threshold)
		dj := math.Abs(merges[order[j]].dist - cfg.Threshold)
		if di != dj {
			return di < dj
		}
		return order[i] < order[j]
	})

	bestIteration := len(merges) - 1
	bestCount := 1
	var clusters []int

	for _, iteration := range order {
		if merges[iteration].size < cfg.MinClusterSize {
			continue
		}
		candidate := cutByIteration(merges, n, iteration)
		count := len(largeClusters(candidate, cfg.MinClusterSize))
		if abs(count-target) < abs(bestCount-target) {
			bestIteration = iteration
			bestCount = count
		}
		if count == target {
			return candidate
		}
		clusters = candidate
	}

	if clusters == nil || bestCount != target {
		clusters = cutByIteration(merges, n, bestIteration)
	}
	return clusters
}

// absorbSmallClusters folds below-size clusters into the large cluster
// whose centroid is nearest by cosine distance.
func absorbSmallClusters(labels []int, embeddings [][]float64, large []int, minClusterSize int) []int {
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	var small []int
	for id, count := range counts {
		if count < minClusterSize {
			small = append(small, id)
		}
	}
	if len(small) == 0 {
		return labels
	}
	sort.Ints(small)

	centroid := func(cluster int) []float64 {
		c := make([]float64, len(embeddings[0]))
		n := 0
		for i, l := range labels {
			if l != cluster {
				continue
			}
			for j, v := range embeddings[i] {
				c[j] += v
			}
			n++
		}
		for j := range c {
			c[j] /= float64(n)
		}
		return c
	}

	largeCentroids := make([][]float64, len(large))
	for i, id := range large {
		largeCentroids[i] = centroid(id)
	}

	out := make([]int, len(labels))
	copy(out, labels)
	for _, smallID := range small {
		sc := centroid(smallID)
		best := 0
		bestDist := math.Inf(1)
		for i, lc := range largeCentroids {
			if d := cosineDistance(lc, sc); d < bestDist {
				bestDist = d
				best = i
			}
		}
		for i, l := range out {
			if l == smallID {
				out[i] = large[best]
			}
		}
	}
	return out
}

func cosineDistance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// relabelFirstAppearance renames cluster ids to 0..K-1 in the order
// they first occur.
func relabelFirstAppearance(labels []int) []int {
	next := 0
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := mapping[l]
		if !ok {
			id = next
			mapping[l] = id
			next++
		}
		out[i] = id
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
