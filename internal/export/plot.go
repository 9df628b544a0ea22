// Package export renders stored run series to image files.
package export

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/mdstep/internal/storage"
)

// SeriesPlot writes a PNG with the run's temperature, pressure and energy
// traces over time.
func SeriesPlot(path, title string, series *storage.Series) error {
	if len(series.Times) == 0 {
		return fmt.Errorf("export: empty series")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (ps)"
	p.Legend.Top = true

	err := plotutil.AddLinePoints(p,
		"temperature (K)", points(series.Times, series.Temperatures),
		"pressure", points(series.Times, series.Pressures),
		"energy (kJ/mol)", points(series.Times, series.Energies),
	)
	if err != nil {
		return err
	}

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

// TemperaturePlot writes a PNG of the temperature trace alone, with the
// target temperature drawn as a horizontal reference.
func TemperaturePlot(path string, series *storage.Series, target float64) error {
	if len(series.Times) == 0 {
		return fmt.Errorf("export: empty series")
	}

	p := plot.New()
	p.Title.Text = "Temperature"
	p.X.Label.Text = "time (ps)"
	p.Y.Label.Text = "T (K)"

	line, err := plotter.NewLine(points(series.Times, series.Temperatures))
	if err != nil {
		return err
	}
	p.Add(line)
	p.Legend.Add("instantaneous", line)

	if target > 0 {
		ref := plotter.XYs{
			{X: series.Times[0], Y: target},
			{X: series.Times[len(series.Times)-1], Y: target},
		}
		refLine, err := plotter.NewLine(ref)
		if err != nil {
			return err
		}
		refLine.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(refLine)
		p.Legend.Add("target", refLine)
	}

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

func points(x, y []float64) plotter.XYs {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	pts := make(plotter.XYs, n)
	for i := 0; i < n; i++ {
		pts[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	return pts
}
