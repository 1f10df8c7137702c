package spatial

import "math"

// Index buckets points on a uniform grid for fixed-radius neighbour queries.
type Index struct {
	pts        []Point
	xmin, ymin float64
	cell       float64
	nx, ny     int
	buckets    [][]int
}

// NewIndex builds an index whose bucket size is radius, so a query only
// visits the 3x3 block of buckets around the query point.
func NewIndex(pts []Point, radius float64) *Index {
	idx := &Index{pts: pts}
	if len(pts) == 0 {
		return idx
	}
	xmin, ymin := math.Inf(1), math.Inf(1)
	xmax, ymax := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		xmin, xmax = math.Min(xmin, p.X), math.Max(xmax, p.X)
		ymin, ymax = math.Min(ymin, p.Y), math.Max(ymax, p.Y)
	}
	span := math.Max(xmax-xmin, ymax-ymin)
	if radius <= 0 || math.IsInf(radius, 0) || radius > span {
		radius = math.Max(span, 1e-12)
	}
	// Cap the bucket count so tiny radii over large extents stay bounded.
	const maxBuckets = 1 << 20
	for (xmax-xmin)/radius*(ymax-ymin)/radius > maxBuckets {
		radius *= 2
	}
	idx.xmin, idx.ymin, idx.cell = xmin, ymin, radius
	idx.nx = int((xmax-xmin)/radius) + 1
	idx.ny = int((ymax-ymin)/radius) + 1
	idx.buckets = make([][]int, idx.nx*idx.ny)
	for i, p := range pts {
		b := idx.bucket(p.X, p.Y)
		idx.buckets[b] = append(idx.buckets[b], i)
	}
	return idx
}

func (idx *Index) cellOf(x, y float64) (int, int) {
	cx := int(math.Floor((x - idx.xmin) / idx.cell))
	cy := int(math.Floor((y - idx.ymin) / idx.cell))
	return cx, cy
}

func (idx *Index) bucket(x, y float64) int {
	cx, cy := idx.cellOf(x, y)
	cx = min(max(cx, 0), idx.nx-1)
	cy = min(max(cy, 0), idx.ny-1)
	return cy*idx.nx + cx
}

// Within calls fn for every indexed point within distance r of (x, y),
// passing the point's index and its distance.
func (idx *Index) Within(x, y, r float64, fn func(i int, d float64)) {
	if len(idx.pts) == 0 {
		return
	}
	reach := int(math.Ceil(r / idx.cell))
	cx, cy := idx.cellOf(x, y)
	r2 := r * r
	for gy := max(cy-reach, 0); gy <= min(cy+reach, idx.ny-1); gy++ {
		for gx := max(cx-reach, 0); gx <= min(cx+reach, idx.nx-1); gx++ {
			for _, i := range idx.buckets[gy*idx.nx+gx] {
				dx, dy := idx.pts[i].X-x, idx.pts[i].Y-y
				if d2 := dx*dx + dy*dy; d2 <= r2 {
					fn(i, math.Sqrt(d2))
				}
			}
		}
	}
}
