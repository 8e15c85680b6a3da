// Command render plays a fixed sequence of moves on a fresh board and
// writes the resulting position out as a PNG, exercising game.RenderPNG.
package main

import (
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/samkirby/connectzero/game"
)

var (
	rows  = flag.Int("rows", 6, "board rows")
	cols  = flag.Int("cols", 7, "board columns")
	k     = flag.Int("k", 4, "stones in a row to win")
	moves = flag.String("moves", "", "comma-separated column indices to play in order")
	out   = flag.String("out", "board.png", "output PNG path")
)

func main() {
	flag.Parse()

	g := game.NewConnectK(*rows, *cols, *k)
	n := 0
	if *moves != "" {
		for _, field := range strings.Split(*moves, ",") {
			col, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				log.Fatalf("render: invalid move %q: %+v", field, err)
			}
			g = g.Play(col).(*game.ConnectK)
			n++
		}
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("render: create %s: %+v", *out, err)
	}
	defer f.Close()

	if err := game.RenderPNG(g, n, f); err != nil {
		log.Fatalf("render: %+v", err)
	}
	log.Printf("render: wrote %s after %d moves", *out, n)
}
