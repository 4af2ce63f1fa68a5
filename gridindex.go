package main

// CellData is what the grid index holds for a covered cell.
type CellData struct {
	ID       string `json:"id"` // "x,y"
	Prompt   string `json:"prompt"`
	ImageURL string `json:"image_url"`
}

// GridIndex maps a cell key to the feature covering that cell.
type GridIndex map[string]CellData

// BuildGridIndex derives the index from the feature list. Features are
// applied in list order, so on overlapping cells the later feature wins.
func BuildGridIndex(features []Feature) GridIndex {
	idx := make(GridIndex)
	for _, f := range features {
		minX, maxX, minY, maxY := f.Selection.Normalize()
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				key := CellKey(x, y)
				idx[key] = CellData{
					ID:       key,
					Prompt:   f.Prompt,
					ImageURL: f.ImageURL,
				}
			}
		}
	}
	return idx
}

// Lookup returns the cell at (x, y). Any coordinate is accepted; cells
// outside the grid simply miss.
func (idx GridIndex) Lookup(x, y int) (CellData, bool) {
	c, ok := idx[CellKey(x, y)]
	return c, ok
}

// indexCache memoizes the grid index by feature version.
type indexCache struct {
	version uint64
	idx     GridIndex
}

// get returns the cached index for version, rebuilding it on a miss.
func (c *indexCache) get(version uint64, features []Feature) GridIndex {
	if c.idx == nil || c.version != version {
		c.idx = BuildGridIndex(features)
		c.version = version
	}
	return c.idx
}
