package grid

import "testing"

func TestGetGridCoords(t *testing.T) {
	tests := []struct {
		index int
		cols  int
		wantX int
		wantY int
	}{
		// 64 cols (Standard)
		{0, 64, 0, 0},
		{1, 64, 1, 0},
		{63, 64, 63, 0},
		{64, 64, 0, 1},
		{65, 64, 1, 1},
		{127, 64, 63, 1},
		{128, 64, 0, 2},
		{1023, 64, 63, 15},

		// 32 cols (Low Res)
		{0, 32, 0, 0},
		{31, 32, 31, 0},
		{32, 32, 0, 1},
		{63, 32, 31, 1},
		{1023, 32, 31, 31},
	}

	for _, tc := range tests {
		gotX, gotY := GetGridCoords(tc.index, tc.cols)
		if gotX != tc.wantX || gotY != tc.wantY {
			t.Errorf("GetGridCoords(%d, %d) = (%d, %d); want (%d, %d)", tc.index, tc.cols, gotX, gotY, tc.wantX, tc.wantY)
		}
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		cursor, length, visible int
		wantStart, wantCount    int
	}{
		{0, 30000, 256, 0, 256},
		{255, 30000, 256, 0, 256},
		{256, 30000, 256, 256, 256},
		{29999, 30000, 256, 30000 - 256, 256},
		{3, 5, 256, 0, 5},
		{0, 0, 256, 0, 0},
		{7, 10, 4, 4, 4},
		{9, 10, 4, 6, 4},
	}

	for _, tc := range tests {
		gotStart, gotCount := Window(tc.cursor, tc.length, tc.visible)
		if gotStart != tc.wantStart || gotCount != tc.wantCount {
			t.Errorf("Window(%d, %d, %d) = (%d, %d); want (%d, %d)", tc.cursor, tc.length, tc.visible, gotStart, gotCount, tc.wantStart, tc.wantCount)
		}
		if gotCount > 0 && (tc.cursor < gotStart || tc.cursor >= gotStart+gotCount) {
			t.Errorf("Window(%d, %d, %d) does not contain the cursor", tc.cursor, tc.length, tc.visible)
		}
	}
}
