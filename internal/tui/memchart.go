package tui

import (
	"time"

	tslc "github.com/NimbleMarkets/ntcharts/linechart/timeserieslinechart"
	"github.com/charmbracelet/lipgloss"

	"github.com/cjeanneret/simcam/internal/diag/memwatch"
)

// memHistory is how many memory samples the RSS chart keeps.
const memHistory = 120

const memChartHeight = 8

// pushSample appends s to the history unless it is the sample already seen.
func pushSample(history []memwatch.Sample, s memwatch.Sample) []memwatch.Sample {
	if n := len(history); n > 0 && !s.At.After(history[n-1].At) {
		return history
	}
	history = append(history, s)
	if len(history) > memHistory {
		history = history[len(history)-memHistory:]
	}
	return history
}

// renderMemChart plots RSS in MiB over the sampled time range. It returns ""
// until two samples with distinct times exist.
func renderMemChart(history []memwatch.Sample, width, height int) string {
	if len(history) < 2 || width < 10 || height < 3 {
		return ""
	}
	start, end := history[0].At, history[len(history)-1].At
	if !end.After(start) {
		return ""
	}

	lo, hi := mib(history[0].RSS), mib(history[0].RSS)
	for _, s := range history[1:] {
		v := mib(s.RSS)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo < 1 {
		hi = lo + 1
	}

	chart := tslc.New(width, height)
	chart.SetStyle(lipgloss.NewStyle().Foreground(colorAlert))
	chart.AxisStyle = lipgloss.NewStyle().Foreground(colorBorder)
	chart.LabelStyle = lipgloss.NewStyle().Foreground(colorDimmed)
	chart.SetTimeRange(start, end)
	chart.SetViewTimeRange(start, end)
	chart.SetYRange(lo, hi)
	chart.SetViewYRange(lo, hi)
	for _, s := range history {
		chart.Push(tslc.TimePoint{Time: s.At, Value: mib(s.RSS)})
	}
	chart.DrawBraille()
	return chart.View()
}

func mib(n uint64) float64 { return float64(n) / (1 << 20) }

// memSpan describes the time covered by the history, for the chart caption.
func memSpan(history []memwatch.Sample) time.Duration {
	if len(history) < 2 {
		return 0
	}
	return history[len(history)-1].At.Sub(history[0].At).Round(time.Second)
}
