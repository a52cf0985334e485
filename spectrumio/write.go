package spectrumio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"spectrasim/simulation"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

// WriteResult writes one row per grid point: the energy, the category
// totals, every per-series curve and every extra component.
func WriteResult(w io.Writer, res *simulation.Result) error {
	if res == nil {
		return errors.New("spectrumio: nil result")
	}
	header := []string{"energy", "total", "diagram", "satellite", "shake_off", "shake_up", "auger"}
	cols := [][]float64{res.Total, res.Diagram, res.Satellite, res.ShakeOff, res.ShakeUp, res.Auger}
	for _, cv := range res.Series {
		header = append(header, cv.Info.Name)
		cols = append(cols, cv.Y)
	}
	for i, comp := range res.Components {
		header = append(header, fmt.Sprintf("component_%d", i))
		cols = append(cols, comp)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("spectrumio: write header: %w", err)
	}
	record := make([]string, len(header))
	for i, x := range res.Grid {
		record[0] = formatFloat(x)
		for j, col := range cols {
			v := 0.0
			if i < len(col) {
				v = col[i]
			}
			record[j+1] = formatFloat(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("spectrumio: write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSticks writes the discrete lines of every non-empty series.
func WriteSticks(w io.Writer, series []simulation.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"series", "category", "energy", "intensity", "width", "two_j"}); err != nil {
		return fmt.Errorf("spectrumio: write header: %w", err)
	}
	for _, s := range series {
		for i := range s.Energies {
			rec := []string{
				s.Info.Name,
				s.Info.Category.String(),
				formatFloat(s.Energies[i]),
				formatFloat(s.Intensities[i]),
				formatFloat(s.Widths[i]),
				strconv.Itoa(s.TwoJ[i]),
			}
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("spectrumio: write %s: %w", s.Info.Name, err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile creates path (and its directory) and fills it with write.
func WriteFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("spectrumio: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("spectrumio: create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("spectrumio: close %s: %w", path, err)
	}
	return nil
}
