package labels

import (
	"sort"
)

// Relabel applies old -> new ID map in a single pass and returns new image.
// IDs missing from the map keep their value; mapping to 0 erases the object.
func Relabel(img Image, mapping map[int]int) Image {
	out := Image{Height: img.Height, Width: img.Width, Pix: make([]int32, len(img.Pix))}
	if len(mapping) == 0 {
		copy(out.Pix, img.Pix)
		return out
	}
	lut := make(map[int32]int32, len(mapping))
	for oldID, newID := range mapping {
		lut[int32(oldID)] = int32(newID)
	}
	for i, v := range img.Pix {
		if v == Background {
			continue
		}
		if mapped, ok := lut[v]; ok {
			out.Pix[i] = mapped
		} else {
			out.Pix[i] = v
		}
	}
	return out
}

// Erase sets pixels of given IDs to background in place and returns number of erased pixels
func Erase(img Image, ids ...int) int {
	if len(ids) == 0 {
		return 0
	}
	targets := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		targets[int32(id)] = struct{}{}
	}
	erased := 0
	for i, v := range img.Pix {
		if v == Background {
			continue
		}
		if _, ok := targets[v]; ok {
			img.Pix[i] = Background
			erased++
		}
	}
	return erased
}

// RemoveSmallObjects erases objects with area below minSize in place.
// Returns sorted IDs of erased objects
func RemoveSmallObjects(img Image, minSize int) []int {
	if minSize <= 1 {
		return nil
	}
	areas := Areas(img)
	small := make([]int, 0)
	for id, area := range areas {
		if area < minSize {
			small = append(small, id)
		}
	}
	sort.Ints(small)
	Erase(img, small...)
	return small
}

// SequentialMapping builds old -> new map which renumbers all IDs observed in frames to 1..K,
// preserving their relative order
func SequentialMapping(frames []Image) map[int]int {
	seen := make(map[int]struct{})
	for _, frame := range frames {
		for _, v := range frame.Pix {
			if v > Background {
				seen[int(v)] = struct{}{}
			}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	mapping := make(map[int]int, len(ids))
	for i, id := range ids {
		mapping[id] = i + 1
	}
	return mapping
}

// RelabelSequential renumbers IDs consistently across frames to 1..K.
// Returns relabelled frames and applied mapping
func RelabelSequential(frames []Image) ([]Image, map[int]int) {
	mapping := SequentialMapping(frames)
	out := make([]Image, len(frames))
	for i, frame := range frames {
		out[i] = Relabel(frame, mapping)
	}
	return out, mapping
}
