package labels

import (
	"sort"
)

// Moore neighbourhood in clockwise order (y grows downwards), starting from west
var mooreOffsets = [8]Pixel{
	{Y: 0, X: -1},  // W
	{Y: -1, X: -1}, // NW
	{Y: -1, X: 0},  // N
	{Y: -1, X: 1},  // NE
	{Y: 0, X: 1},   // E
	{Y: 1, X: 1},   // SE
	{Y: 1, X: 0},   // S
	{Y: 1, X: -1},  // SW
}

const dirWest = 0

// ContourOptions tunes contour extraction
type ContourOptions struct {
	// Hull returns convex hull of the boundary instead of the traced boundary
	Hull bool
}

// Contours returns outer boundary of every requested object as an ordered list of pixels.
// IDs without pixels are omitted from the result
func Contours(img Image, ids []int, opts ContourOptions) map[int][]Pixel {
	rm := NewRegionMap(Regions(img))
	out := make(map[int][]Pixel, len(ids))
	for _, id := range ids {
		region, ok := rm[id]
		if !ok {
			continue
		}
		contour := TraceRegion(region)
		if opts.Hull {
			contour = ConvexHull(contour)
		}
		out[id] = contour
	}
	return out
}

// TraceRegion traces outer boundary of the largest 8-connected component of region
// using Moore-neighbour tracing. Start pixel is the top-most, then left-most pixel.
func TraceRegion(region Region) []Pixel {
	if len(region.Coords) == 0 {
		return nil
	}
	component := largestComponent(region)
	inside := func(p Pixel) bool {
		y, x := p.Y-region.BBox.MinY, p.X-region.BBox.MinX
		if y < 0 || x < 0 || y >= len(component) || x >= len(component[0]) {
			return false
		}
		return component[y][x]
	}
	start, ok := firstRasterPixel(component, region.BBox)
	if !ok {
		return nil
	}
	// step returns next boundary pixel clockwise from the backtrack direction and
	// the direction (seen from the next pixel) of the last background pixel examined
	step := func(cur Pixel, back int) (Pixel, int, bool) {
		prev := Pixel{Y: cur.Y + mooreOffsets[back].Y, X: cur.X + mooreOffsets[back].X}
		for i := 1; i <= 8; i++ {
			k := (back + i) % 8
			candidate := Pixel{Y: cur.Y + mooreOffsets[k].Y, X: cur.X + mooreOffsets[k].X}
			if inside(candidate) {
				return candidate, directionTo(candidate, prev), true
			}
			prev = candidate
		}
		return Pixel{}, 0, false
	}

	maxSteps := 4*len(region.Coords) + 8
	points := make([]Pixel, 0, 64)
	cur, back := start, dirWest
	var second Pixel
	for i := 0; i < maxSteps; i++ {
		next, nextBack, found := step(cur, back)
		if !found {
			// Isolated pixel
			return []Pixel{start}
		}
		if len(points) == 0 {
			second = next
		} else if cur == start && next == second {
			break
		}
		points = append(points, cur)
		cur, back = next, nextBack
	}
	return points
}

// directionTo returns Moore direction index from 'from' to its neighbour 'to'
func directionTo(from, to Pixel) int {
	dy, dx := to.Y-from.Y, to.X-from.X
	for k, off := range mooreOffsets {
		if off.Y == dy && off.X == dx {
			return k
		}
	}
	return dirWest
}

// largestComponent returns mask (in region bbox coordinates) of the largest 8-connected
// component of region. On equal sizes the component met first in raster order wins
func largestComponent(region Region) [][]bool {
	h, w := region.BBox.Height(), region.BBox.Width()
	mask := region.Mask()
	visited := make([][]bool, h)
	for i := range visited {
		visited[i] = make([]bool, w)
	}
	var best []Pixel
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y][x] || visited[y][x] {
				continue
			}
			queue := []Pixel{{Y: y, X: x}}
			visited[y][x] = true
			component := make([]Pixel, 0)
			for len(queue) > 0 {
				p := queue[0]
				queue = queue[1:]
				component = append(component, p)
				for _, off := range mooreOffsets {
					ny, nx := p.Y+off.Y, p.X+off.X
					if ny < 0 || nx < 0 || ny >= h || nx >= w {
						continue
					}
					if mask[ny][nx] && !visited[ny][nx] {
						visited[ny][nx] = true
						queue = append(queue, Pixel{Y: ny, X: nx})
					}
				}
			}
			if len(component) > len(best) {
				best = component
			}
		}
	}
	out := make([][]bool, h)
	for i := range out {
		out[i] = make([]bool, w)
	}
	for _, p := range best {
		out[p.Y][p.X] = true
	}
	return out
}

func firstRasterPixel(component [][]bool, bbox Rectangle) (Pixel, bool) {
	for y := range component {
		for x := range component[y] {
			if component[y][x] {
				return Pixel{Y: y + bbox.MinY, X: x + bbox.MinX}, true
			}
		}
	}
	return Pixel{}, false
}

// ConvexHull returns convex hull of points (Andrew's monotone chain), counter-clockwise
// in (x, y) space, without collinear points
func ConvexHull(points []Pixel) []Pixel {
	if len(points) < 3 {
		out := make([]Pixel, len(points))
		copy(out, points)
		return out
	}
	pts := make([]Pixel, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
	// Deduplicate: traced contours revisit pinch pixels
	uniq := pts[:1]
	for _, p := range pts[1:] {
		if p != uniq[len(uniq)-1] {
			uniq = append(uniq, p)
		}
	}
	pts = uniq
	if len(pts) < 3 {
		return pts
	}
	cross := func(o, a, b Pixel) int {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	hull := make([]Pixel, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// NearestPixels returns the minimal squared distance between two pixel sets.
// Returns -1 when either set is empty
func NearestPixels(a, b []Pixel) int {
	if len(a) == 0 || len(b) == 0 {
		return -1
	}
	best := -1
	for _, pa := range a {
		for _, pb := range b {
			d := squaredPixelDistance(pa, pb)
			if best < 0 || d < best {
				best = d
			}
		}
	}
	return best
}
