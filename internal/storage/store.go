package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/pksim/internal/config"
	"github.com/san-kum/pksim/internal/engine"
	"github.com/san-kum/pksim/internal/pkmodel"
)

const (
	metadataFile     = "metadata.json"
	observationsFile = "observations.csv"
	subjectsFile     = "subjects.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type FailureRecord struct {
	ID    int    `json:"id"`
	Error string `json:"error"`
}

type RunMetadata struct {
	ID           string             `json:"id"`
	Model        string             `json:"model"`
	Preset       string             `json:"preset,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
	Seed         int64              `json:"seed"`
	Individuals  int                `json:"individuals"`
	Integrator   string             `json:"integrator"`
	Adaptive     bool               `json:"adaptive"`
	Dt           float64            `json:"dt"`
	Tolerance    float64            `json:"tolerance"`
	Params       map[string]float64 `json:"params"`
	Omega        []float64          `json:"omega"`
	Sigma        []float64          `json:"sigma"`
	TypicalOnly  bool               `json:"typical_only,omitempty"`
	Outputs      []string           `json:"outputs"`
	Compartments []string           `json:"compartments"`
	Simulated    int                `json:"simulated"`
	Failures     []FailureRecord    `json:"failures,omitempty"`
	ElapsedMs    int64              `json:"elapsed_ms"`
	Metrics      map[string]float64 `json:"metrics"`
}

// Observation is one row of observations.csv keyed by column name.
type Observation struct {
	ID     int                `json:"id"`
	Time   float64            `json:"time"`
	Values map[string]float64 `json:"values"`
}

// Run is everything Save needs to persist a population run.
type Run struct {
	Preset string
	Config *config.Config
	Model  *pkmodel.Model
	Result *engine.Result
}

func (s *Store) Save(run Run) (string, error) {
	label := run.Preset
	if label == "" {
		label = run.Model.Name
	}
	now := time.Now()
	runID := fmt.Sprintf("%s_%d_%s", label, now.Unix(), uuid.New().String()[:8])
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:           runID,
		Model:        run.Model.Name,
		Preset:       run.Preset,
		Timestamp:    now,
		Seed:         run.Config.Run.Seed,
		Individuals:  run.Config.Run.Individuals,
		Integrator:   run.Config.Run.Integrator,
		Adaptive:     run.Config.Run.Adaptive,
		Dt:           run.Config.Run.Dt,
		Tolerance:    run.Config.Run.Tolerance,
		Params:       run.Model.Params,
		Omega:        run.Model.Omega.LowerTriangular(),
		Sigma:        run.Model.Sigma.LowerTriangular(),
		TypicalOnly:  run.Model.Omega.Zero(),
		Outputs:      run.Model.Capture,
		Compartments: run.Model.Topology.Names(),
		Simulated:    len(run.Result.Profiles),
		ElapsedMs:    run.Result.Elapsed.Milliseconds(),
		Metrics:      MeanMetrics(run.Result.Profiles),
	}
	for _, f := range run.Result.Failures {
		meta.Failures = append(meta.Failures, FailureRecord{ID: f.ID, Error: f.Err.Error()})
	}

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeObservations(filepath.Join(runDir, observationsFile), meta, run.Result.Profiles); err != nil {
		return "", err
	}
	if err := writeSubjects(filepath.Join(runDir, subjectsFile), run.Result.Profiles); err != nil {
		return "", err
	}

	return runID, nil
}

// MeanMetrics averages each per-subject metric over the simulated subjects.
func MeanMetrics(profiles []*engine.Profile) map[string]float64 {
	means := make(map[string]float64)
	if len(profiles) == 0 {
		return means
	}
	for _, p := range profiles {
		for name, v := range p.Metrics {
			means[name] += v
		}
	}
	for name := range means {
		means[name] /= float64(len(profiles))
	}
	return means
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

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

func writeObservations(path string, meta RunMetadata, profiles []*engine.Profile) error {
	header := append([]string{"ID", "time"}, meta.Outputs...)
	header = append(header, meta.Compartments...)

	var rows [][]string
	for _, p := range profiles {
		for _, rec := range p.Records {
			row := []string{strconv.Itoa(rec.ID), formatFloat(rec.Time)}
			for _, name := range meta.Outputs {
				row = append(row, formatFloat(rec.Outputs[name]))
			}
			for _, v := range rec.Amounts {
				row = append(row, formatFloat(v))
			}
			rows = append(rows, row)
		}
	}
	return writeCSV(path, header, rows)
}

func writeSubjects(path string, profiles []*engine.Profile) error {
	header := []string{"ID"}
	nEta := 0
	var metricNames []string
	if len(profiles) > 0 {
		nEta = len(profiles[0].Eta)
		for name := range profiles[0].Metrics {
			metricNames = append(metricNames, name)
		}
		sort.Strings(metricNames)
	}
	for i := 1; i <= nEta; i++ {
		header = append(header, fmt.Sprintf("ETA%d", i))
	}
	header = append(header, pkmodel.ParameterNames...)
	header = append(header, metricNames...)

	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		row := []string{strconv.Itoa(p.ID)}
		for _, v := range p.Eta {
			row = append(row, formatFloat(v))
		}
		params := p.Params.Map()
		for _, name := range pkmodel.ParameterNames {
			row = append(row, formatFloat(params[name]))
		}
		for _, name := range metricNames {
			row = append(row, formatFloat(p.Metrics[name]))
		}
		rows = append(rows, row)
	}
	return writeCSV(path, header, rows)
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadObservations(runID string) ([]Observation, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, observationsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	if len(records) < 2 {
		return []Observation{}, nil
	}

	header := records[0]
	obs := make([]Observation, 0, len(records)-1)
	for line, record := range records[1:] {
		id, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, fmt.Errorf("run %s line %d: %w", runID, line+2, err)
		}
		t, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("run %s line %d: %w", runID, line+2, err)
		}

		o := Observation{ID: id, Time: t, Values: make(map[string]float64, len(header)-2)}
		for j := 2; j < len(record); j++ {
			v, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				return nil, fmt.Errorf("run %s line %d: %w", runID, line+2, err)
			}
			o.Values[header[j]] = v
		}
		obs = append(obs, o)
	}
	return obs, nil
}

type ExportData struct {
	Metadata     RunMetadata   `json:"metadata"`
	Observations []Observation `json:"observations"`
}

// ExportJSON writes a stored run as a single JSON document.
func (s *Store) ExportJSON(runID string, w io.Writer) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	obs, err := s.LoadObservations(runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ExportData{Metadata: *meta, Observations: obs})
}
