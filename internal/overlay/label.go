package overlay

import (
	stdimage "image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/styletransfer/image"
)

// labelMargin is the distance of the HUD text from the top-left corner.
const labelMargin = 10

// Label renders the upsample factor HUD line.
type Label struct {
	printer *message.Printer
	face    font.Face
}

// NewLabel creates a label formatting numbers for tag.
func NewLabel(tag language.Tag) *Label {
	return &Label{
		printer: message.NewPrinter(tag),
		face:    basicfont.Face7x13,
	}
}

// Text returns the HUD line for factor.
func (l *Label) Text(factor int) string {
	return l.printer.Sprintf("Mouse wheel: framerate upsample x%d", factor)
}

// Bounds returns the rectangle covered by text drawn at the HUD position.
func (l *Label) Bounds(text string) stdimage.Rectangle {
	adv := font.MeasureString(l.face, text).Ceil()
	m := l.face.Metrics()
	return stdimage.Rect(labelMargin-2, labelMargin-2,
		labelMargin+adv+2, labelMargin+(m.Ascent+m.Descent).Ceil()+2)
}

// Draw paints text at the top-left corner of dst as white on a black
// backing box. dst must be RGBA8; other formats are left untouched.
func (l *Label) Draw(dst *image.ImageBuf, text string) {
	view := dst.NRGBA()
	if view == nil || text == "" {
		return
	}
	draw.Draw(view, l.Bounds(text), stdimage.NewUniform(color.Black), stdimage.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  view,
		Src:  stdimage.NewUniform(color.White),
		Face: l.face,
		Dot:  fixed.P(labelMargin, labelMargin+l.face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)
}
