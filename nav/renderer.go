package nav

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// nrgbaToRGBA premultiplies alpha; canvas paints expect premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	switch c.A {
	case 0:
		return color.RGBA{}
	case 255:
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

var (
	zoneFillColors = map[ZoneType]color.NRGBA{
		ZoneGeneric:  {R: 200, G: 215, B: 235, A: 255},
		ZoneStairs:   {R: 245, G: 190, B: 120, A: 255},
		ZoneElevator: {R: 200, G: 170, B: 230, A: 255},
	}
	poiColors = map[PointOfInterestType]color.NRGBA{
		POIGeneric:    {R: 90, G: 90, B: 90, A: 255},
		POIToilet:     {R: 40, G: 120, B: 200, A: 255},
		POIShop:       {R: 60, G: 160, B: 80, A: 255},
		POIRestaurant: {R: 220, G: 120, B: 40, A: 255},
		POIExit:       {R: 30, G: 170, B: 30, A: 255},
	}
	wallColor      = color.NRGBA{R: 50, G: 50, B: 50, A: 255}
	routeColor     = color.NRGBA{R: 20, G: 90, B: 220, A: 200}
	highlightColor = color.NRGBA{R: 220, G: 30, B: 30, A: 255}
	labelColor     = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// FloorRenderer draws one floor of a building as vector graphics
type FloorRenderer struct {
	Building   *Building
	FloorID    uuid.UUID
	Route      *Route    // optional overlay; only the segment on this floor is drawn
	Highlight  uuid.UUID // zone to outline, uuid.Nil for none
	Scale      float64   // canvas millimetres per building unit
	Padding    float64   // padding in canvas millimetres
	Resolution canvas.Resolution
	Labels     bool // zone names on PNG output
}

// NewFloorRenderer creates a renderer with default settings
func NewFloorRenderer(b *Building, floorID uuid.UUID) *FloorRenderer {
	return &FloorRenderer{
		Building:   b,
		FloorID:    floorID,
		Scale:      10.0,
		Padding:    10.0,
		Resolution: canvas.DPI(150),
		Labels:     true,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// floorLayout maps building coordinates onto the canvas
type floorLayout struct {
	floor         *Floor
	bound         orb.Bound
	width, height float64
	scale, pad    float64
}

func (l floorLayout) toCanvas(p Point) (float64, float64) {
	return (p.X-l.bound.Min.X())*l.scale + l.pad, (p.Y-l.bound.Min.Y())*l.scale + l.pad
}

func (r *FloorRenderer) layout() (floorLayout, error) {
	f := r.Building.Floor(r.FloorID)
	if f == nil {
		return floorLayout{}, fmt.Errorf("floor %s not found", r.FloorID)
	}

	var pts orb.MultiPoint
	for _, n := range f.Nodes {
		pts = append(pts, orb.Point{n.X, n.Y})
	}
	for _, p := range f.PointsOfInterest {
		pts = append(pts, orb.Point{p.X, p.Y})
	}
	if len(pts) == 0 {
		return floorLayout{}, fmt.Errorf("floor %s has no geometry", f.Name)
	}

	scale := r.Scale
	if scale <= 0 {
		scale = 1
	}
	bound := pts.Bound()
	return floorLayout{
		floor:  f,
		bound:  bound,
		width:  (bound.Max.X()-bound.Min.X())*scale + 2*r.Padding,
		height: (bound.Max.Y()-bound.Min.Y())*scale + 2*r.Padding,
		scale:  scale,
		pad:    r.Padding,
	}, nil
}

// RenderToSVG writes the floor as an SVG to the provided writer
func (r *FloorRenderer) RenderToSVG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}

	svgRenderer := svg.New(w, l.width, l.height, nil)
	r.renderToCanvas(svgRenderer, l)
	return svgRenderer.Close()
}

// RenderToPNG writes the floor as a PNG to the provided writer
func (r *FloorRenderer) RenderToPNG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}

	res := r.Resolution
	if res <= 0 {
		res = canvas.DPI(150)
	}
	rast := rasterizer.New(l.width, l.height, res, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, l)
	if r.Labels {
		r.drawLabels(rast, l, res)
	}
	return png.Encode(w, rast)
}

// renderToCanvas is the drawing shared by SVG and PNG output
func (r *FloorRenderer) renderToCanvas(renderer canvasRenderer, l floorLayout) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(l.width, l.height), bgStyle, canvas.Identity)

	// Zones
	for _, z := range l.floor.Zones {
		path := r.zonePath(z, l)
		if path == nil {
			continue
		}
		fill, ok := zoneFillColors[z.Type]
		if !ok {
			fill = zoneFillColors[ZoneGeneric]
		}
		zoneStyle := canvas.DefaultStyle
		zoneStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(fill)}
		zoneStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		renderer.RenderPath(path, zoneStyle, canvas.Identity)
	}

	// Walls
	wallStyle := canvas.DefaultStyle
	wallStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	wallStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(wallColor)}
	wallStyle.StrokeWidth = 1.0
	for _, wall := range l.floor.Walls {
		start, ok1 := r.Building.Node(wall.Start)
		end, ok2 := r.Building.Node(wall.End)
		if !ok1 || !ok2 {
			continue
		}
		p := &canvas.Path{}
		p.MoveTo(l.toCanvas(Point{X: start.X, Y: start.Y}))
		p.LineTo(l.toCanvas(Point{X: end.X, Y: end.Y}))
		renderer.RenderPath(p, wallStyle, canvas.Identity)
	}

	// Current zone
	if z := r.Building.Zone(r.Highlight); z != nil && z.FloorID == l.floor.ID {
		if path := r.zonePath(z, l); path != nil {
			hlStyle := canvas.DefaultStyle
			hlStyle.Fill = canvas.Paint{Color: canvas.Transparent}
			hlStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(highlightColor)}
			hlStyle.StrokeWidth = 1.5
			renderer.RenderPath(path, hlStyle, canvas.Identity)
		}
	}

	r.renderRoute(renderer, l)

	// Points of interest
	for _, poi := range l.floor.PointsOfInterest {
		c, ok := poiColors[poi.Type]
		if !ok {
			c = poiColors[POIGeneric]
		}
		poiStyle := canvas.DefaultStyle
		poiStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(c)}
		poiStyle.Stroke = canvas.Paint{Color: canvas.Black}
		poiStyle.StrokeWidth = 0.3

		cx, cy := l.toCanvas(Point{X: poi.X, Y: poi.Y})
		renderer.RenderPath(canvas.Circle(2.0).Translate(cx, cy), poiStyle, canvas.Identity)
	}
}

// renderRoute draws the part of the route that lies on this floor as a
// polyline through zone centers. Consecutive runs are drawn separately so a
// route leaving and re-entering the floor does not jump across it.
func (r *FloorRenderer) renderRoute(renderer canvasRenderer, l floorLayout) {
	routeStyle := canvas.DefaultStyle
	routeStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	routeStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(routeColor)}
	routeStyle.StrokeWidth = 1.5

	markerStyle := canvas.DefaultStyle
	markerStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(routeColor)}

	for _, seg := range r.Route.Segments() {
		if seg.FloorID != l.floor.ID {
			continue
		}
		p := &canvas.Path{}
		for i, z := range seg.Zones {
			x, y := l.toCanvas(z.Center())
			if i == 0 {
				p.MoveTo(x, y)
			} else {
				p.LineTo(x, y)
			}
			renderer.RenderPath(canvas.Circle(1.0).Translate(x, y), markerStyle, canvas.Identity)
		}
		if len(seg.Zones) > 1 {
			renderer.RenderPath(p, routeStyle, canvas.Identity)
		}
	}
}

func (r *FloorRenderer) zonePath(z *Zone, l floorLayout) *canvas.Path {
	pts := r.Building.BoundaryPoints(z.ID)
	if len(pts) < 3 {
		return nil
	}
	p := &canvas.Path{}
	for i, pt := range pts {
		x, y := l.toCanvas(pt)
		if i == 0 {
			p.MoveTo(x, y)
		} else {
			p.LineTo(x, y)
		}
	}
	p.Close()
	return p
}

// drawLabels writes zone names centered on each zone. The rasterizer's
// y axis points up while image rows grow downwards.
func (r *FloorRenderer) drawLabels(img draw.Image, l floorLayout, res canvas.Resolution) {
	dpmm := res.DPMM()
	imgHeight := img.Bounds().Dy()
	face := basicfont.Face7x13

	for _, z := range l.floor.Zones {
		if z.Name == "" {
			continue
		}
		cx, cy := l.toCanvas(z.Center())
		width := font.MeasureString(face, z.Name).Round()
		x := int(cx*dpmm) - width/2
		y := imgHeight - int(cy*dpmm) + face.Ascent/2
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(labelColor),
			Face: face,
			Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
		}
		d.DrawString(z.Name)
	}
}
