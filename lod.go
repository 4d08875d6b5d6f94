package seedmap

import (
	"image"
	"math"
)

// Vec2 is a pair of per-axis values.
type Vec2 struct {
	X, Y float64
}

// LevelOfDetail returns log2(max(renderedCells.X*tilesPerCell.X,
// renderedCells.Y*tilesPerCell.Y)). Render passes the cells covered by one
// output pixel, weighted by the natural tile size in texels, so the result
// is the texel-to-pixel minification on the denser axis.
func LevelOfDetail(renderedCells, tilesPerCell Vec2) float64 {
	return math.Log2(math.Max(renderedCells.X*tilesPerCell.X, renderedCells.Y*tilesPerCell.Y))
}

// MipLevel rounds lod to the nearest level of a chain of the given length.
func MipLevel(lod float64, levels int) int {
	if levels <= 1 || math.IsNaN(lod) || lod <= 0 {
		return 0
	}
	level := int(math.Floor(lod + 0.5))
	if level >= levels {
		return levels - 1
	}
	return level
}

// DestinationRect returns the canvas rectangle covered by the part of the
// requested cell range that lies inside the world. World y grows upward
// while canvas rows grow downward. An empty rectangle means the request
// does not overlap the world.
func DestinationRect(p RenderParams) image.Rectangle {
	visLeft := math.Max(p.LeftCellOffset, 0)
	visRight := math.Min(p.LeftCellOffset+p.CellsWide, float64(p.WorldWidth))
	visBottom := math.Max(p.BottomCellOffset, 0)
	visTop := math.Min(p.BottomCellOffset+p.CellsHigh, float64(p.WorldHeight))
	if visRight <= visLeft || visTop <= visBottom {
		return image.Rectangle{}
	}

	cw, ch := float64(p.CanvasWidth), float64(p.CanvasHeight)
	x0 := math.Round(cw * (visLeft - p.LeftCellOffset) / p.CellsWide)
	x1 := math.Round(cw * (visRight - p.LeftCellOffset) / p.CellsWide)
	y0 := math.Round(ch * (visBottom - p.BottomCellOffset) / p.CellsHigh)
	y1 := math.Round(ch * (visTop - p.BottomCellOffset) / p.CellsHigh)

	return image.Rect(int(x0), p.CanvasHeight-int(y1), int(x1), p.CanvasHeight-int(y0))
}
