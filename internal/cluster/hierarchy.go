package cluster

import (
	"math"
	"sort"
)

// The density hierarchy follows the HDBSCAN construction: single linkage
// over mutual reachability distances, condensed by minimum cluster size,
// with clusters selected by stability (how long a grouping persists as the
// density threshold is relaxed). Everything here is deterministic: ties are
// broken by index, and there is no sampling.

const (
	minLambdaWeight = 1e-12
	maxLambda       = 1e12
)

type mstEdge struct {
	u, v int
	w    float64
}

// hdbscanLabels assigns each point a cluster label, or -1 for noise.
// Labels are contiguous starting at 0 and stable across runs on identical
// input.
func hdbscanLabels(points [][]float64, minClusterSize, minSamples int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	if n == 0 {
		return labels
	}
	if minClusterSize < 2 {
		minClusterSize = 2
	}
	if minSamples < 1 {
		minSamples = 1
	}
	if n < minClusterSize {
		return labels
	}

	core := coreDistances(points, minSamples)
	edges := buildMST(points, core)
	tree := buildDendrogram(n, edges)
	cond := condense(tree, minClusterSize)
	selected := selectClusters(cond)

	next := 0
	for _, cid := range selected {
		for _, p := range memberPoints(cond, cid) {
			labels[p] = next
		}
		next++
	}
	return labels
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// coreDistances returns each point's distance to its minSamples-th nearest
// neighbor (excluding itself).
func coreDistances(points [][]float64, minSamples int) []float64 {
	n := len(points)
	k := minSamples
	if k > n-1 {
		k = n - 1
	}
	core := make([]float64, n)
	if k < 1 {
		return core
	}

	row := make([]float64, 0, n-1)
	for i := range points {
		row = row[:0]
		for j := range points {
			if i == j {
				continue
			}
			row = append(row, euclidean(points[i], points[j]))
		}
		sort.Float64s(row)
		core[i] = row[k-1]
	}
	return core
}

// buildMST computes a minimum spanning tree over the mutual reachability
// graph with Prim's algorithm, returning edges sorted by ascending weight.
func buildMST(points [][]float64, core []float64) []mstEdge {
	n := len(points)
	inTree := make([]bool, n)
	bestW := make([]float64, n)
	bestFrom := make([]int, n)
	for i := range bestW {
		bestW[i] = math.Inf(1)
		bestFrom[i] = -1
	}

	edges := make([]mstEdge, 0, n-1)
	current := 0
	inTree[0] = true
	for len(edges) < n-1 {
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			d := euclidean(points[current], points[j])
			mr := math.Max(d, math.Max(core[current], core[j]))
			if mr < bestW[j] {
				bestW[j] = mr
				bestFrom[j] = current
			}
		}

		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			if next == -1 || bestW[j] < bestW[next] {
				next = j
			}
		}

		edges = append(edges, mstEdge{u: bestFrom[next], v: next, w: bestW[next]})
		inTree[next] = true
		current = next
	}

	sort.SliceStable(edges, func(a, b int) bool {
		if edges[a].w != edges[b].w {
			return edges[a].w < edges[b].w
		}
		if edges[a].v != edges[b].v {
			return edges[a].v < edges[b].v
		}
		return edges[a].u < edges[b].u
	})
	return edges
}

// dendrogram is the single-linkage merge tree. Nodes 0..n-1 are leaves;
// node n+t is the t-th merge. lambda is 1/weight of the merge edge: large
// lambda = tight grouping, lambda shrinks as the density threshold relaxes.
type dendrogram struct {
	n      int
	left   []int
	right  []int
	lambda []float64
	size   []int
	root   int
}

func buildDendrogram(n int, edges []mstEdge) *dendrogram {
	total := 2*n - 1
	d := &dendrogram{
		n:      n,
		left:   make([]int, total),
		right:  make([]int, total),
		lambda: make([]float64, total),
		size:   make([]int, total),
	}
	for i := 0; i < n; i++ {
		d.size[i] = 1
	}

	parent := make([]int, n)
	nodeOf := make([]int, n)
	for i := range parent {
		parent[i] = i
		nodeOf[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	next := n
	for _, e := range edges {
		ra, rb := find(e.u), find(e.v)
		na, nb := nodeOf[ra], nodeOf[rb]

		lam := maxLambda
		if e.w > minLambdaWeight {
			lam = math.Min(1.0/e.w, maxLambda)
		}
		d.left[next] = na
		d.right[next] = nb
		d.lambda[next] = lam
		d.size[next] = d.size[na] + d.size[nb]

		parent[rb] = ra
		nodeOf[ra] = next
		next++
	}
	d.root = next - 1
	return d
}

// leaves collects all leaf points under a dendrogram node.
func (d *dendrogram) leaves(node int, out []int) []int {
	stack := []int{node}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur < d.n {
			out = append(out, cur)
			continue
		}
		stack = append(stack, d.left[cur], d.right[cur])
	}
	return out
}

// condCluster is one cluster in the condensed tree.
type condCluster struct {
	parent    int
	birth     float64 // lambda at which the cluster came into existence
	children  []int
	points    []int     // points that left this cluster directly
	lambdas   []float64 // lambda at which each point left
	stability float64
}

// condense collapses the dendrogram into clusters of at least
// minClusterSize points. Branches smaller than the minimum "fall out" of
// their parent as candidate noise; splits where both sides meet the minimum
// create child clusters.
func condense(d *dendrogram, minClusterSize int) []*condCluster {
	root := &condCluster{parent: -1, birth: 0}
	clusters := []*condCluster{root}

	type frame struct {
		node int
		cid  int
	}
	stack := []frame{{node: d.root, cid: 0}}
	var scratch []int

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, cid := f.node, f.cid
		c := clusters[cid]

		for {
			if node < d.n {
				// Lone point left while descending; it exits at the
				// cluster's current edge of existence.
				c.points = append(c.points, node)
				c.lambdas = append(c.lambdas, c.birth)
				break
			}

			left, right := d.left[node], d.right[node]
			lam := d.lambda[node]
			bigL := d.size[left] >= minClusterSize
			bigR := d.size[right] >= minClusterSize

			switch {
			case bigL && bigR:
				// Genuine split: the cluster's remaining points all leave
				// here, into two child clusters.
				c.stability += float64(d.size[node]) * (lam - c.birth)
				for _, child := range []int{left, right} {
					cc := &condCluster{parent: cid, birth: lam}
					clusters = append(clusters, cc)
					ccID := len(clusters) - 1
					c.children = append(c.children, ccID)
					stack = append(stack, frame{node: child, cid: ccID})
				}
				node = -1
			case bigL || bigR:
				// The small side falls out at this density; keep
				// descending the big side within the same cluster.
				small, big := left, right
				if bigL {
					small, big = right, left
				}
				scratch = d.leaves(small, scratch[:0])
				for _, p := range scratch {
					c.points = append(c.points, p)
					c.lambdas = append(c.lambdas, lam)
					c.stability += lam - c.birth
				}
				node = big
				continue
			default:
				// Both sides are below the minimum: the cluster dies and
				// every remaining point leaves here.
				scratch = d.leaves(node, scratch[:0])
				for _, p := range scratch {
					c.points = append(c.points, p)
					c.lambdas = append(c.lambdas, lam)
					c.stability += lam - c.birth
				}
				node = -1
			}
			if node < 0 {
				break
			}
		}
	}
	return clusters
}

// selectClusters picks the most stable clusters by excess of mass: a parent
// is selected only when its own stability exceeds the combined stability of
// its children. The root is selectable only when the hierarchy produced no
// splits at all (a single-topic cycle). Returns selected cluster ids in
// deterministic order.
func selectClusters(clusters []*condCluster) []int {
	nc := len(clusters)
	selected := make([]bool, nc)
	subtree := make([]float64, nc)

	var deselect func(int)
	deselect = func(cid int) {
		for _, ch := range clusters[cid].children {
			selected[ch] = false
			deselect(ch)
		}
	}

	for cid := nc - 1; cid >= 0; cid-- {
		c := clusters[cid]
		if len(c.children) == 0 {
			if cid == 0 || c.stability > 0 {
				selected[cid] = true
			}
			subtree[cid] = c.stability
			continue
		}

		childSum := 0.0
		for _, ch := range c.children {
			childSum += subtree[ch]
		}
		if cid != 0 && c.stability > childSum {
			selected[cid] = true
			deselect(cid)
			subtree[cid] = c.stability
		} else {
			subtree[cid] = childSum
		}
	}

	var out []int
	for cid := 0; cid < nc; cid++ {
		if selected[cid] {
			out = append(out, cid)
		}
	}
	return out
}

// memberPoints returns the points of a cluster: everything that left it
// directly plus everything belonging to its (deselected) descendants.
func memberPoints(clusters []*condCluster, cid int) []int {
	var out []int
	stack := []int{cid}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, clusters[cur].points...)
		stack = append(stack, clusters[cur].children...)
	}
	sort.Ints(out)
	return out
}
