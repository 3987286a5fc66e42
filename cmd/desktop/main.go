package main

import (
	"bytes"
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"os"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/basicfont"

	"tapec/pkg/compiler"
	"tapec/pkg/grid"
	"tapec/pkg/interp"
	"tapec/pkg/utils"
)

const (
	screenWidth  = 640
	screenHeight = 480

	cols       = 16
	rows       = 8
	cellWidth  = 40
	cellHeight = 24
	gridTop    = 24

	outputTop   = gridTop + rows*cellHeight + 32
	outputLines = 14
	lineHeight  = 16
)

var (
	face       = text.NewGoXFace(basicfont.Face7x13)
	cursorFill = color.RGBA{0x30, 0x60, 0xa0, 0xff}
	cellFill   = color.RGBA{0x20, 0x20, 0x20, 0xff}
)

// viewer steps a machine a bounded number of times per frame. Input
// instructions wait for typed keys instead of blocking the frame.
type viewer struct {
	tree *compiler.Tree
	m    *interp.Machine

	keys   []byte
	eof    bool
	out    bytes.Buffer
	paused bool
	err    error

	stepsPerFrame int
}

func newViewer(src string, tape, stepsPerFrame int) (*viewer, error) {
	tree, err := compiler.Parse(src)
	if err != nil {
		return nil, err
	}
	v := &viewer{tree: tree, stepsPerFrame: stepsPerFrame}
	v.m, err = interp.New(tree, tape, interp.WithInput(v), interp.WithOutput(&v.out))
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Read hands the machine one typed key. It is only called when a key is
// pending or the user has closed input.
func (v *viewer) Read(p []byte) (int, error) {
	if len(v.keys) == 0 || len(p) == 0 {
		return 0, io.EOF
	}
	p[0] = v.keys[0]
	v.keys = v.keys[1:]
	return 1, nil
}

func (v *viewer) waitingForInput() bool {
	return !v.m.Halted() && v.tree.Kind(v.m.Current()) == compiler.Input && len(v.keys) == 0 && !v.eof
}

// advance executes up to n instructions.
func (v *viewer) advance(n int) {
	for i := 0; i < n; i++ {
		if v.err != nil || v.m.Halted() || v.waitingForInput() {
			return
		}
		v.err = v.m.Step()
	}
}

func (v *viewer) status() string {
	switch {
	case v.err != nil:
		return "error: " + v.err.Error()
	case v.m.Halted():
		return fmt.Sprintf("halted after %d steps", v.m.Steps())
	case v.waitingForInput():
		return "waiting for input (type, Ctrl+D for end of input)"
	case v.paused:
		return fmt.Sprintf("paused at step %d (F1 resume, F2 step)", v.m.Steps())
	}
	return fmt.Sprintf("running: step %d, loop depth %d", v.m.Steps(), v.m.LoopDepth())
}

// outputTail returns the last n lines written by the program.
func (v *viewer) outputTail(n int) []string {
	lines := strings.Split(v.out.String(), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

type Game struct {
	v *viewer
}

func (g *Game) Update() error {
	v := g.v
	for _, r := range ebiten.AppendInputChars(nil) {
		if r < 0x80 {
			v.keys = append(v.keys, byte(r))
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		v.keys = append(v.keys, '\n')
	}
	if ebiten.IsKeyPressed(ebiten.KeyControl) && inpututil.IsKeyJustPressed(ebiten.KeyD) {
		v.eof = true
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF1) {
		v.paused = !v.paused
	}

	switch {
	case !v.paused:
		v.advance(v.stepsPerFrame)
	case inpututil.IsKeyJustPressed(ebiten.KeyF2):
		v.advance(1)
	}
	return nil
}

func (g *Game) Draw(screen *ebiten.Image) {
	v := g.v
	tape := v.m.Tape()
	start, count := grid.Window(v.m.Cursor(), len(tape), cols*rows)

	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("cells %d-%d of %d, cursor %d", start, start+count-1, len(tape), v.m.Cursor()), 4, 4)

	for i := 0; i < count; i++ {
		x, y := grid.GetGridCoords(i, cols)
		px := float32(x * cellWidth)
		py := float32(gridTop + y*cellHeight)

		fill := cellFill
		if start+i == v.m.Cursor() {
			fill = cursorFill
		}
		vector.DrawFilledRect(screen, px+1, py+1, cellWidth-2, cellHeight-2, fill, false)

		op := &text.DrawOptions{}
		op.GeoM.Translate(float64(px)+6, float64(py)+5)
		op.ColorScale.ScaleWithColor(color.White)
		text.Draw(screen, fmt.Sprintf("%3d", tape[start+i]), face, op)
	}

	ebitenutil.DebugPrintAt(screen, v.status(), 4, outputTop-24)
	for i, line := range v.outputTail(outputLines) {
		op := &text.DrawOptions{}
		op.GeoM.Translate(4, float64(outputTop+i*lineHeight))
		op.ColorScale.ScaleWithColor(color.White)
		text.Draw(screen, line, face, op)
	}
}

func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return screenWidth, screenHeight
}

func main() {
	tape := flag.Int("tape", interp.DefaultTapeLength, "number of tape cells")
	speed := flag.Int("speed", 2000, "instructions per frame")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: desktop [flags] <program>")
		os.Exit(2)
	}

	fullPath, _, err := utils.GetPathInfo(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to resolve path: %v", err)
	}
	sourceBytes, err := os.ReadFile(fullPath)
	if err != nil {
		log.Fatalf("Failed to read source file: %v", err)
	}

	v, err := newViewer(string(sourceBytes), *tape, *speed)
	if err != nil {
		log.Fatalf("Failed to load program: %v", err)
	}

	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(screenWidth, screenHeight)
	ebiten.SetWindowTitle("tapec: " + utils.TrimExt(fullPath))

	if err := ebiten.RunGame(&Game{v: v}); err != nil {
		log.Fatal(err)
	}
}
