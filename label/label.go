// Package label renders printable card labels with the cover art, title and artist of an album.
package label

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
)

// image size of 50x81.6mm (85.60 mm × 53.98 with 2mm margin on each side) at 600 DPI
// = 1181 x 1928 pix
const (
	a4Width          = 4962
	a4Height         = 7014
	horizontalLabels = 3
	verticalLabels   = 3
	LabelsPerSheet   = horizontalLabels * verticalLabels

	labelHeight = 1928
	labelWidth  = 1181
	artSize     = 755
	strokeSize  = 4

	DefaultFontFile = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"
)

var colors = []string{
	"#0048BA",
	"#D3212D",
	"#32CD32",
	"#F4C2C2",
	"#8A2BE2",
	"#FF7E00",
	"#FDEE00",
}

var parenthesized = regexp.MustCompile(`\(.*\)`)

// Card is what ends up on a label.
type Card struct {
	ID     string
	Title  string
	Artist string
	// Cover may be nil, a placeholder is drawn then.
	Cover image.Image
}

func CreateLabel(card Card, fontFile string, out io.Writer) error {
	l, err := renderLabelContext(card, fontFile)
	if err != nil {
		return err
	}

	logrus.Debugf("Render label %v to a PNG", card.ID)
	if err := l.EncodePNG(out); err != nil {
		return fmt.Errorf("could not render PNG: %w", err)
	}
	return nil
}

// CreateLabelSheet lays out up to LabelsPerSheet labels on an A4 page with cut marks.
func CreateLabelSheet(cards []Card, fontFile string, out io.Writer) error {
	if len(cards) > LabelsPerSheet {
		return fmt.Errorf("too many albums for a single sheet. Max: %v, got: %v", LabelsPerSheet, len(cards))
	}

	contexts := make([]*gg.Context, len(cards))
	errs := make([]error, len(cards))
	wg := sync.WaitGroup{}
	for index, card := range cards {
		wg.Add(1)
		go func(index int, card Card) {
			defer wg.Done()
			contexts[index], errs[index] = renderLabelContext(card, fontFile)
		}(index, card)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	l := gg.NewContext(a4Width, a4Height)
	l.SetRGB(1, 1, 1)
	l.Clear()
	l.SetRGB(0, 0, 0)
	l.SetLineWidth(4)

	baseX := (a4Width - (horizontalLabels * labelWidth)) / 2
	baseY := (a4Height - (verticalLabels * labelHeight)) / 2
	for index, c := range contexts {
		x := baseX + (index % horizontalLabels * labelWidth)
		y := baseY + (index / horizontalLabels * labelHeight)
		logrus.Debugf("Placing label %v at index %v", cards[index].ID, index)

		l.DrawImage(c.Image(), x, y)
		drawCutMark(l, x, y)
		drawCutMark(l, x, y+labelHeight)
		drawCutMark(l, x+labelWidth, y)
		drawCutMark(l, x+labelWidth, y+labelHeight)
		l.Stroke()
	}

	logrus.Debugln("Rendering label sheet to a PNG")
	if err := l.EncodePNG(out); err != nil {
		return fmt.Errorf("could not render PNG: %w", err)
	}
	return nil
}

// FetchCover downloads cover art. Failures are logged and give a nil image.
func FetchCover(ctx context.Context, client *http.Client, uri string) image.Image {
	if uri == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		logrus.Debug(err)
		return nil
	}
	res, err := client.Do(req)
	if err != nil {
		logrus.Debug(err)
		return nil
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		logrus.Debugf("Cover art %v answered %v", uri, res.Status)
		return nil
	}

	img, _, err := image.Decode(res.Body)
	if err != nil {
		logrus.Debug(err)
		return nil
	}
	return img
}

func drawCutMark(l *gg.Context, x, y int) {
	fx := float64(x)
	fy := float64(y)
	l.DrawLine(fx-30, fy, 30+fx, fy)
	l.DrawLine(fx, fy-30, fx, fy+30)
}

func renderLabelContext(card Card, fontFile string) (*gg.Context, error) {
	logrus.Debugf("Generating label for %v (%v - %v)", card.ID, card.Artist, card.Title)

	l := gg.NewContext(labelWidth, labelHeight)
	l.SetRGB(1, 1, 1)
	l.Clear()

	col := labelColor(card.ID)
	origin := float64(labelWidth / 2)
	if card.Cover != nil {
		scaled := resize.Resize(artSize, 0, card.Cover, resize.Lanczos3)
		l.DrawImageAnchored(scaled, int(origin), int(origin), 0.5, 0.5)
	} else {
		l.SetHexColor(col)
		l.DrawRectangle(origin-artSize/2, origin-artSize/2, artSize, artSize)
		l.Fill()
	}

	l.SetHexColor(col)
	l.SetLineWidth(24)
	l.DrawRectangle(12, 12, labelWidth-24, labelHeight-24)
	l.Stroke()

	l.Push()
	l.DrawRectangle(0, 1200, float64(labelWidth), 465)
	l.Clip()
	if err := renderString(l, fontFile, strings.ToUpper(cleanTitle(card.Title)), 96, 1250); err != nil {
		return nil, err
	}
	l.ResetClip()
	l.Pop()

	l.SetHexColor(col + "60")
	if err := renderString(l, fontFile, strings.ToUpper(card.Artist), 64, 1700); err != nil {
		return nil, err
	}
	return l, nil
}

// cleanTitle drops edition notes like "(Remastered 2011)".
func cleanTitle(title string) string {
	return strings.Join(strings.Fields(parenthesized.ReplaceAllString(title, "")), " ")
}

// labelColor is stable per card so a reprint looks the same.
func labelColor(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	return colors[h.Sum32()%uint32(len(colors))]
}

func renderString(c *gg.Context, fontFile, s string, size, y float64) error {
	if err := c.LoadFontFace(fontFile, size); err != nil {
		return fmt.Errorf("could not load the font: %w", err)
	}
	lines := c.WordWrap(s, labelWidth-(labelWidth/10))
	for i, line := range lines {
		c.Push()
		w := float64(labelWidth / 2)
		h := y + float64(i)*size*1.2

		c.SetColor(color.Gray{Y: 0x33})
		for dy := -strokeSize; dy <= strokeSize; dy++ {
			for dx := -strokeSize; dx <= strokeSize; dx++ {
				if dx*dx+dy*dy >= strokeSize*strokeSize {
					// give it rounded corners
					continue
				}
				c.DrawStringAnchored(line, w+float64(dx), h+float64(dy), 0.5, 0.5)
			}
		}
		c.Pop()
		c.DrawStringAnchored(line, w, h, 0.5, 0.5)
	}
	return nil
}
