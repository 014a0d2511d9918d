package catalog

import "sort"

// Target expresses the caller's rendition preference (spec §4.6).
type Target struct {
	// Rendition, if non-empty, names an exact rendition to select
	// regardless of Pixels.
	Rendition string
	// Pixels is the desired coded area (width*height). Zero means "as
	// large as possible".
	Pixels int
}

// Select implements the deterministic rendition-selection policy of spec
// §4.6 over the supported subset of a catalog's renditions. supported must
// be a subset of the catalog's rendition names that the platform decoder
// has accepted (see source.Supported). Returns "" if supported is
// empty.
func Select(supported []string, video map[string]VideoConfig, target Target) string {
	if len(supported) == 0 {
		return ""
	}

	if target.Rendition != "" {
		for _, name := range supported {
			if name == target.Rendition {
				return name
			}
		}
	}

	anyDims := false
	for _, name := range supported {
		if video[name].HasDimensions() {
			anyDims = true
			break
		}
	}
	if !anyDims {
		return firstByName(supported)
	}

	desired := target.Pixels
	if desired <= 0 {
		return largestByArea(supported, video)
	}

	// Smallest rendition whose area >= desired; else largest whose area < desired.
	haveSmallestAbove := false
	var smallestAbove string
	smallestAboveArea := 0

	haveLargestBelow := false
	var largestBelow string
	largestBelowArea := 0

	ordered := append([]string(nil), supported...)
	sort.Strings(ordered)

	for _, name := range ordered {
		area := video[name].Area()
		if area >= desired {
			if !haveSmallestAbove || area < smallestAboveArea {
				haveSmallestAbove = true
				smallestAbove = name
				smallestAboveArea = area
			}
		} else {
			if !haveLargestBelow || area > largestBelowArea {
				haveLargestBelow = true
				largestBelow = name
				largestBelowArea = area
			}
		}
	}

	if haveSmallestAbove {
		return smallestAbove
	}
	if haveLargestBelow {
		return largestBelow
	}
	return firstByName(supported)
}

func firstByName(names []string) string {
	ordered := append([]string(nil), names...)
	sort.Strings(ordered)
	return ordered[0]
}

func largestByArea(names []string, video map[string]VideoConfig) string {
	ordered := append([]string(nil), names...)
	sort.Strings(ordered)

	best := ordered[0]
	bestArea := video[best].Area()
	for _, name := range ordered[1:] {
		area := video[name].Area()
		if area > bestArea {
			best = name
			bestArea = area
		}
	}
	return best
}
