package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/lox/skylineoracle/internal/scoring"
)

// CardWidth and CardHeight are the standard Open Graph image dimensions.
const (
	CardWidth  = 1200
	CardHeight = 630
)

// CardRows is how many leaderboard entries a card shows.
const CardRows = 5

var (
	fontTitle font.Face
	fontRow   font.Face
	fontSmall font.Face
	fontOnce  sync.Once
	fontErr   error
)

func newFace(data []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

func loadFonts() {
	fontOnce.Do(func() {
		var err error
		if fontTitle, err = newFace(gobold.TTF, 56); err != nil {
			fontErr = fmt.Errorf("load bold face: %w", err)
			return
		}
		if fontRow, err = newFace(goregular.TTF, 40); err != nil {
			fontErr = fmt.Errorf("load regular face: %w", err)
			return
		}
		if fontSmall, err = newFace(goregular.TTF, 26); err != nil {
			fontErr = fmt.Errorf("load small face: %w", err)
			return
		}
	})
}

// CardData is the content of a shareable leaderboard card.
type CardData struct {
	Date    string
	Entries []scoring.Entry
}

// RenderLeaderboardCard draws the top of the leaderboard as a PNG.
func RenderLeaderboardCard(data CardData) ([]byte, error) {
	loadFonts()
	if fontErr != nil {
		return nil, fmt.Errorf("load fonts: %w", fontErr)
	}

	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))
	drawBackground(img)

	white := color.RGBA{255, 255, 255, 255}
	gold := color.RGBA{250, 204, 21, 255}
	lightGray := color.RGBA{200, 200, 200, 255}

	drawText(img, "Skyline Oracle", 60, 90, white, fontTitle)
	drawText(img, "Leaderboard for "+data.Date, 60, 140, lightGray, fontSmall)

	y := 220
	shown := 0
	for _, e := range data.Entries {
		if shown == CardRows {
			break
		}
		pts, graded := e.Total.Points()
		if !graded {
			continue
		}
		col := white
		if e.Rank == 1 {
			col = gold
		}
		name := e.Username
		if name == "" {
			name = e.UserID
		}
		drawText(img, fmt.Sprintf("%d.", e.Rank), 60, y, col, fontRow)
		drawText(img, truncate(name, 28), 140, y, col, fontRow)
		drawText(img, fmt.Sprintf("%d pts", pts), 900, y, col, fontRow)
		drawText(img, fmt.Sprintf("%d/%d", e.StationsCompleted, e.StationCount), 1060, y, lightGray, fontSmall)
		y += 70
		shown++
	}
	if shown == 0 {
		drawText(img, "No graded forecasts yet", 60, y, lightGray, fontRow)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode leaderboard card: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBackground fills a dark blue vertical gradient.
func drawBackground(img *image.RGBA) {
	for y := 0; y < CardHeight; y++ {
		progress := float64(y) / float64(CardHeight)
		c := color.RGBA{uint8(20 + progress*10), uint8(20 + progress*15), uint8(40 + progress*20), 255}
		for x := 0; x < CardWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
