// Package visual 把一次出价计划渲染成 go-echarts HTML 页面（Pareto 前沿、Nash 点与让步曲线）。
package visual

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"negotiator/internal/strategy"
)

type FrontierInput struct {
	Partner string
	Plan    strategy.Plan
	// Aspiration maps t to the aspiration level; nil skips the curve chart.
	Aspiration func(t float64) float64
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorGrid          = "#64748b"
	colorFrontier      = "#34d399"
	colorNash          = "#fbbf24"
	colorOffer         = "#f87171"
	colorAspiration    = "#3b82f6"

	chartWidthPx  = 960
	chartHeightPx = 520
	curveSamples  = 50
)

// RenderFrontier returns a standalone HTML page for plan.
func RenderFrontier(input FrontierInput) ([]byte, error) {
	plan := input.Plan
	if len(plan.Grid) == 0 && len(plan.Frontier) == 0 {
		return nil, fmt.Errorf("plan has no scored offers to render")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(buildFrontierChart(input.Partner, plan))
	if input.Aspiration != nil {
		page.AddCharts(buildAspirationChart(plan, input.Aspiration))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func initOpts() opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", chartHeightPx),
		BackgroundColor: colorBackground,
	}
}

func valueAxisX(name string) opts.XAxis {
	return opts.XAxis{
		Name:      name,
		Type:      "value",
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
	}
}

func valueAxisY(name string) opts.YAxis {
	return opts.YAxis{
		Name:      name,
		Type:      "value",
		Scale:     opts.Bool(true),
		AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
	}
}

func buildFrontierChart(partner string, plan strategy.Plan) *charts.Scatter {
	scatter := charts.NewScatter()
	title := "Pareto frontier"
	if p := strings.TrimSpace(partner); p != "" {
		title = fmt.Sprintf("Pareto frontier vs %s", p)
	}
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      fmt.Sprintf("t=%.3f aspiration=%.4f target=%.4f offer=%s", plan.T, plan.Aspiration, plan.Target, plan.Offer),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30", TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "item"}),
		charts.WithXAxisOpts(valueAxisX("mine")),
		charts.WithYAxisOpts(valueAxisY("theirs")),
	)
	scatter.AddSeries("grid", scatterData(plan.Grid, 4),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorGrid, Opacity: opts.Float(0.4)}))
	scatter.AddSeries("frontier", scatterData(plan.Frontier, 9),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorFrontier}))
	if plan.HasNash {
		scatter.AddSeries("nash", scatterData([]strategy.Point{plan.Nash}, 16),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorNash}))
	}
	if offer, ok := offerPoint(plan); ok {
		scatter.AddSeries("offer", scatterData([]strategy.Point{offer}, 14),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorOffer}))
	}
	return scatter
}

// offerPoint locates the proposed offer among the scored points.
func offerPoint(plan strategy.Plan) (strategy.Point, bool) {
	for _, set := range [][]strategy.Point{plan.Frontier, plan.Grid} {
		for _, pt := range set {
			if pt.Offer == plan.Offer {
				return pt, true
			}
		}
	}
	return strategy.Point{}, false
}

func scatterData(points []strategy.Point, size int) []opts.ScatterData {
	out := make([]opts.ScatterData, 0, len(points))
	for _, pt := range points {
		if math.IsNaN(pt.Mine) || math.IsNaN(pt.Theirs) {
			continue
		}
		out = append(out, opts.ScatterData{
			Name:       pt.Offer.String(),
			Value:      []float64{round(pt.Mine, 4), round(pt.Theirs, 4)},
			SymbolSize: size,
		})
	}
	return out
}

func buildAspirationChart(plan strategy.Plan, aspiration func(float64) float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts()),
		charts.WithTitleOpts(opts.Title{
			Title:      "Aspiration",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30", TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(valueAxisX("t")),
		charts.WithYAxisOpts(valueAxisY("utility")),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.AddSeries("target", TargetSeries(aspiration, plan.BestUtility, plan.Floor, curveSamples),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorAspiration, Width: 2}))
	line.AddSeries("now", []opts.LineData{{Value: []float64{round(plan.T, 4), round(plan.Target, 4)}, SymbolSize: 12}},
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorOffer}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	return line
}

// TargetSeries samples aspiration(t)*best + (1-aspiration(t))*floor at n+1
// evenly spaced times in [0,1].
func TargetSeries(aspiration func(float64) float64, best, floor float64, n int) []opts.LineData {
	if n < 1 {
		n = 1
	}
	out := make([]opts.LineData, 0, n+1)
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		a := aspiration(t)
		v := a*best + (1-a)*floor
		out = append(out, opts.LineData{Value: []float64{round(t, 4), round(v, 4)}})
	}
	return out
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
