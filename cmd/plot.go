// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"

	"github.com/NimbleMarkets/ntcharts/canvas"
	"github.com/NimbleMarkets/ntcharts/linechart"

	"github.com/Thermoquad/voltstat/pkg/estat"
)

const plotPoint = '•'

// samplePlot is a scatter chart of a run's samples on a selectable pair
// of axes
type samplePlot struct {
	chart  linechart.Model
	x, y   estat.Axis
	points int
}

func newSamplePlot(width, height int, x, y estat.Axis) samplePlot {
	return samplePlot{
		chart: linechart.New(width, height, 0, 1, 0, 1,
			linechart.WithXYSteps(4, 2),
			linechart.WithXLabelFormatter(plotLabel),
			linechart.WithYLabelFormatter(plotLabel),
		),
		x: x,
		y: y,
	}
}

func plotLabel(_ int, v float64) string {
	return fmt.Sprintf("%.4g", v)
}

// title names the plotted axes with their units
func (p samplePlot) title() string {
	return fmt.Sprintf("%s (%s) vs %s (%s)", p.y, p.y.Unit(), p.x, p.x.Unit())
}

func (p *samplePlot) resize(width, height int) {
	p.chart.Resize(width, height)
}

// draw replaces the chart contents with samples. Values that are not
// finite are skipped.
func (p *samplePlot) draw(samples []estat.Sample) {
	p.points = 0
	p.chart.Clear()

	xlo, xhi, okX := sampleBounds(samples, p.x)
	ylo, yhi, okY := sampleBounds(samples, p.y)
	if !okX || !okY {
		return
	}

	p.chart.SetXRange(xlo, xhi)
	p.chart.SetYRange(ylo, yhi)
	p.chart.SetViewXRange(xlo, xhi)
	p.chart.SetViewYRange(ylo, yhi)
	p.chart.DrawXYAxisAndLabel()

	for _, s := range samples {
		xv, yv := s.Value(p.x), s.Value(p.y)
		if !finite(xv) || !finite(yv) {
			continue
		}
		p.chart.DrawRune(canvas.Float64Point{X: xv, Y: yv}, plotPoint)
		p.points++
	}
}

func (p samplePlot) View() string {
	if p.points == 0 {
		return fmt.Sprintf("(no data: %s vs %s)", p.y, p.x)
	}
	return p.chart.View()
}

// sampleBounds returns the range of the finite values of samples on a,
// widened when every value is equal. ok is false when there are none.
func sampleBounds(samples []estat.Sample, a estat.Axis) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		v := s.Value(a)
		if !finite(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0, false
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return lo, hi, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
