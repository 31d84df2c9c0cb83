package labels

import (
	"image"
	"math"
)

// Pixel is an integer image coordinate in (row, column) order
type Pixel struct {
	Y int
	X int
}

// YX returns pixel as [y, x] pair
func (p Pixel) YX() [2]int {
	return [2]int{p.Y, p.X}
}

// Point is a sub-pixel position, e.g. an object centroid
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

func NewPointFrom(pixel Pixel) Point {
	return Point{
		X: float64(pixel.X),
		Y: float64(pixel.Y),
	}
}

// Rectangle is a half-open bounding box: rows [MinY, MaxY), columns [MinX, MaxX)
type Rectangle struct {
	MinY int
	MinX int
	MaxY int
	MaxX int
}

func NewRectFrom(rect image.Rectangle) Rectangle {
	return Rectangle{
		MinY: rect.Min.Y,
		MinX: rect.Min.X,
		MaxY: rect.Max.Y,
		MaxX: rect.Max.X,
	}
}

// Height returns number of rows covered by rectangle
func (r Rectangle) Height() int {
	return r.MaxY - r.MinY
}

// Width returns number of columns covered by rectangle
func (r Rectangle) Width() int {
	return r.MaxX - r.MinX
}

// Empty reports whether rectangle covers no pixels
func (r Rectangle) Empty() bool {
	return r.MaxY <= r.MinY || r.MaxX <= r.MinX
}

// Image converts rectangle to image.Rectangle (X is column, Y is row)
func (r Rectangle) Image() image.Rectangle {
	return image.Rect(r.MinX, r.MinY, r.MaxX, r.MaxY)
}

// EuclideanDistance returns distance between two points
func EuclideanDistance(p1, p2 Point) float64 {
	return math.Sqrt(math.Pow(p1.X-p2.X, 2) + math.Pow(p1.Y-p2.Y, 2))
}

// squaredPixelDistance is exact for integer coordinates, so it is safe for tie detection
func squaredPixelDistance(a, b Pixel) int {
	dy := a.Y - b.Y
	dx := a.X - b.X
	return dy*dy + dx*dx
}
