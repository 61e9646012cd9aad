package canvas

import (
	"math"

	"github.com/dukex/crmflow/pkg/models"
)

const (
	minZoom = 0.1
	maxZoom = 4
)

// Viewport is the pan and zoom of the canvas. A screen point p maps to the graph point
// (p - pan) / zoom.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// DefaultViewport is the unpanned viewport at zoom 1.
func DefaultViewport() Viewport {
	return Viewport{Zoom: 1}
}

// normalized resets a missing, negative or NaN zoom to 1 and clamps the rest.
func (v Viewport) normalized() Viewport {
	switch {
	case v.Zoom <= 0 || math.IsNaN(v.Zoom):
		v.Zoom = 1
	case v.Zoom < minZoom:
		v.Zoom = minZoom
	case v.Zoom > maxZoom:
		v.Zoom = maxZoom
	}

	return v
}

// ToGraph translates a screen position into graph coordinates.
func (v Viewport) ToGraph(screen models.Position) models.Position {
	v = v.normalized()

	return models.Position{
		X: (screen.X - v.X) / v.Zoom,
		Y: (screen.Y - v.Y) / v.Zoom,
	}
}
