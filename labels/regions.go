package labels

import (
	"sort"
)

// Region holds properties of one labelled object
type Region struct {
	ID       int
	Area     int
	Centroid Point
	BBox     Rectangle
	// Coords is the binary footprint of object as a pixel list in raster order
	Coords []Pixel
}

// Regions extracts properties of every object in a single raster pass. Result is sorted by ID
func Regions(img Image) []Region {
	byID := make(map[int]*Region)
	sumY := make(map[int]int)
	sumX := make(map[int]int)
	for y := 0; y < img.Height; y++ {
		rowOffset := y * img.Width
		for x := 0; x < img.Width; x++ {
			id := int(img.Pix[rowOffset+x])
			if id == Background {
				continue
			}
			region, ok := byID[id]
			if !ok {
				region = &Region{
					ID:   id,
					BBox: Rectangle{MinY: y, MinX: x, MaxY: y + 1, MaxX: x + 1},
				}
				byID[id] = region
			}
			region.Area++
			region.Coords = append(region.Coords, Pixel{Y: y, X: x})
			sumY[id] += y
			sumX[id] += x
			if x < region.BBox.MinX {
				region.BBox.MinX = x
			}
			if x+1 > region.BBox.MaxX {
				region.BBox.MaxX = x + 1
			}
			// Rows are visited in order, so MinY is already the first row seen
			region.BBox.MaxY = y + 1
		}
	}
	regions := make([]Region, 0, len(byID))
	for id, region := range byID {
		region.Centroid = Point{
			X: float64(sumX[id]) / float64(region.Area),
			Y: float64(sumY[id]) / float64(region.Area),
		}
		regions = append(regions, *region)
	}
	sort.Slice(regions, func(i, j int) bool {
		return regions[i].ID < regions[j].ID
	})
	return regions
}

// RegionMap indexes regions by ID
type RegionMap map[int]Region

// NewRegionMap builds index over regions
func NewRegionMap(regions []Region) RegionMap {
	rm := make(RegionMap, len(regions))
	for _, region := range regions {
		rm[region.ID] = region
	}
	return rm
}

// IDs returns sorted IDs of regions
func (rm RegionMap) IDs() []int {
	ids := make([]int, 0, len(rm))
	for id := range rm {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Areas returns ID -> pixel count
func Areas(img Image) map[int]int {
	areas := make(map[int]int)
	for _, v := range img.Pix {
		if v > Background {
			areas[int(v)]++
		}
	}
	return areas
}

// Mask returns binary footprint of a region inside its bounding box
func (region Region) Mask() [][]bool {
	h, w := region.BBox.Height(), region.BBox.Width()
	mask := make([][]bool, h)
	for i := range mask {
		mask[i] = make([]bool, w)
	}
	for _, px := range region.Coords {
		mask[px.Y-region.BBox.MinY][px.X-region.BBox.MinX] = true
	}
	return mask
}
