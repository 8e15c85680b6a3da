package game

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strconv"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"
)

// cellSize is the pixel width/height of one board square, a
// spectating aid with no referent in spec.md's scope (supplemental —
// the teacher's ShowBoard() equivalent for off-terminal viewing).
const cellSize = 64

var (
	background = color.RGBA{R: 0xe8, G: 0xd9, B: 0xb5, A: 0xff}
	gridLine   = color.RGBA{R: 0x5a, G: 0x43, B: 0x2a, A: 0xff}
	mover      = color.RGBA{R: 0xd8, G: 0x33, B: 0x33, A: 0xff}
	opponent   = color.RGBA{R: 0xf5, G: 0xf0, B: 0xe6, A: 0xff}
)

// RenderPNG rasterizes g's board to w as PNG, one cell per column/row,
// with a "move <moveNumber>" label printed along the bottom margin.
func RenderPNG(g *ConnectK, moveNumber int, w io.Writer) error {
	rows, cols := g.Rows(), g.Cols()
	margin := cellSize / 2
	width := cols*cellSize + 2*margin
	height := rows*cellSize + 2*margin + cellSize // room for the label row

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cx := margin + c*cellSize
			cy := margin + r*cellSize
			drawCell(img, cx, cy, g.Stone(r, c))
		}
	}

	face, err := loadFace()
	if err != nil {
		return errors.Wrap(err, "load render font")
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(72)
	ctx.SetFont(face)
	ctx.SetFontSize(18)
	ctx.SetClip(img.Bounds())
	ctx.SetDst(img)
	ctx.SetSrc(&image.Uniform{C: gridLine})

	label := "move " + strconv.Itoa(moveNumber)
	pt := freetype.Pt(margin, height-margin/2)
	if _, err := ctx.DrawString(label, pt); err != nil {
		return errors.Wrap(err, "draw move label")
	}

	return errors.Wrap(png.Encode(w, img), "encode png")
}

func drawCell(img *image.RGBA, x, y, stone int) {
	border := 2
	rect := image.Rect(x+border, y+border, x+cellSize-border, y+cellSize-border)
	draw.Draw(img, rect, &image.Uniform{C: gridLine}, image.Point{}, draw.Src)

	inset := 6
	hole := image.Rect(x+border+inset, y+border+inset, x+cellSize-border-inset, y+cellSize-border-inset)
	var fill color.Color
	switch stone {
	case 0:
		fill = mover
	case 1:
		fill = opponent
	default:
		fill = background
	}
	draw.Draw(img, hole, &image.Uniform{C: fill}, image.Point{}, draw.Src)
}

func loadFace() (*truetype.Font, error) {
	return truetype.Parse(goregular.TTF)
}
