// Package storage persists finished runs: one directory per run holding the
// configuration, a metadata summary and the sampled time series.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/mdstep/internal/config"
	"github.com/san-kum/mdstep/internal/runner"
)

const (
	metadataFile = "metadata.json"
	seriesFile   = "series.csv"
	configFile   = "config.yaml"
)

type Metadata struct {
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	Waters     int       `json:"waters"`
	Steps      int       `json:"steps"`
	Dt         float64   `json:"dt"`
	FinalTemp  float64   `json:"final_temperature"`
	FinalPress float64   `json:"final_pressure"`
}

type Series struct {
	Times        []float64
	Temperatures []float64
	Pressures    []float64
	Energies     []float64
}

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) runDir(name string) string {
	return filepath.Join(s.root, name)
}

// Save writes one run's config, metadata and series under its own directory.
// An existing run of the same name is overwritten.
func (s *Store) Save(name string, cfg *config.Config, result *runner.Result) error {
	dir := s.runDir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := config.Save(filepath.Join(dir, configFile), cfg); err != nil {
		return err
	}

	meta := Metadata{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Waters:    cfg.Waters,
		Steps:     result.StepsTaken,
		Dt:        cfg.Dt,
	}
	if n := len(result.Temperatures); n > 0 {
		meta.FinalTemp = result.Temperatures[n-1]
		meta.FinalPress = result.Pressures[n-1]
	}
	if err := writeJSON(filepath.Join(dir, metadataFile), &meta); err != nil {
		return err
	}

	return writeSeries(filepath.Join(dir, seriesFile), result)
}

// List returns the stored runs, newest first.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var runs []Metadata
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var meta Metadata
		if err := readJSON(filepath.Join(s.runDir(e.Name()), metadataFile), &meta); err != nil {
			continue // not a run directory
		}
		runs = append(runs, meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

// LoadSeries reads a stored run's time series back.
func (s *Store) LoadSeries(name string) (*Series, error) {
	f, err := os.Open(filepath.Join(s.runDir(name), seriesFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("run %q: empty series", name)
	}

	series := &Series{}
	for _, row := range rows[1:] {
		if len(row) != 4 {
			return nil, fmt.Errorf("run %q: malformed series row %v", name, row)
		}
		vals := make([]float64, 4)
		for i, cell := range row {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("run %q: %w", name, err)
			}
			vals[i] = v
		}
		series.Times = append(series.Times, vals[0])
		series.Temperatures = append(series.Temperatures, vals[1])
		series.Pressures = append(series.Pressures, vals[2])
		series.Energies = append(series.Energies, vals[3])
	}
	return series, nil
}

// LoadConfig reads a stored run's configuration back.
func (s *Store) LoadConfig(name string) (*config.Config, error) {
	return config.Load(filepath.Join(s.runDir(name), configFile))
}

// Delete removes a stored run.
func (s *Store) Delete(name string) error {
	return os.RemoveAll(s.runDir(name))
}

func writeSeries(path string, result *runner.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "temperature", "pressure", "energy"}); err != nil {
		return err
	}
	for i := range result.Times {
		row := []string{
			strconv.FormatFloat(result.Times[i], 'g', -1, 64),
			strconv.FormatFloat(result.Temperatures[i], 'g', -1, 64),
			strconv.FormatFloat(result.Pressures[i], 'g', -1, 64),
			strconv.FormatFloat(result.Energies[i], 'g', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
