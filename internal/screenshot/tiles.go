package screenshot

// Tile is one viewport-sized region of the document.
type Tile struct {
	// X and Y are the scroll position for the capture.
	X, Y int
	// OffsetX and OffsetY are where the capture is pasted on the canvas.
	OffsetX, OffsetY int
}

// PlanTiles partitions a totalW x totalH document into viewport-sized tiles,
// scanning top-to-bottom then left-to-right. A tile that would overshoot the
// bottom of the canvas is pasted at totalH-viewH instead.
func PlanTiles(totalW, totalH, viewW, viewH int) []Tile {
	if totalW <= 0 || totalH <= 0 || viewW <= 0 || viewH <= 0 {
		return nil
	}
	rows := (totalH + viewH - 1) / viewH
	cols := (totalW + viewW - 1) / viewW
	tiles := make([]Tile, 0, rows*cols)
	for y := 0; y < totalH; y += viewH {
		offY := y
		if y+viewH > totalH {
			offY = max(totalH-viewH, 0)
		}
		for x := 0; x < totalW; x += viewW {
			tiles = append(tiles, Tile{X: x, Y: y, OffsetX: x, OffsetY: offY})
		}
	}
	return tiles
}
