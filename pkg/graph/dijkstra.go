package graph

import (
	"container/heap"
	"math"
)

// Result holds the output of a single-source Dijkstra run: Distance[v] is
// the shortest distance from the source to v (+Inf if unreachable), and
// Predecessor[v] is the preceding node on that shortest path (NoPath if
// unreachable, or the source itself for Predecessor[source]).
type Result struct {
	Distance    []float64
	Predecessor []int
}

type pqItem struct {
	node int
	dist float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int { return len(pq) }

// Less ties on distance first, then breaks ties by ascending node index so
// that results are deterministic regardless of insertion order.
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].dist != pq[j].dist {
		return pq[i].dist < pq[j].dist
	}
	return pq[i].node < pq[j].node
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) { *pq = append(*pq, x.(pqItem)) }

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// Compute runs Dijkstra from source over g's non-negative edge weights.
func (g *Graph) Compute(source int) Result {
	dist := make([]float64, g.n)
	pred := make([]int, g.n)
	visited := make([]bool, g.n)
	for v := 0; v < g.n; v++ {
		dist[v] = math.Inf(1)
		pred[v] = NoPath
	}
	dist[source] = 0
	pred[source] = source

	pq := &priorityQueue{{node: source, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true

		for slot := g.indptr[cur.node]; slot < g.indptr[cur.node+1]; slot++ {
			t := g.indices[slot]
			if visited[t] {
				continue
			}
			w := g.weight[slot]
			nd := cur.dist + w
			if nd < dist[t] {
				dist[t] = nd
				pred[t] = cur.node
				heap.Push(pq, pqItem{node: t, dist: nd})
			}
		}
	}

	return Result{Distance: dist, Predecessor: pred}
}
