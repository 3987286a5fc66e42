package grid

// GetGridCoords maps a linear cell index onto column and row in a grid that is
// cols cells wide.
func GetGridCoords(index, cols int) (x, y int) {
	return index % cols, index / cols
}

// Window returns the first index and the number of cells of a window of at
// most visible cells over a tape of length cells, placed so that cursor is
// shown. The window pages rather than scrolls: it only moves once the cursor
// leaves it.
func Window(cursor, length, visible int) (start, count int) {
	if length <= 0 || visible <= 0 {
		return 0, 0
	}
	if visible >= length {
		return 0, length
	}
	start = (cursor / visible) * visible
	if start+visible > length {
		start = length - visible
	}
	return start, visible
}
