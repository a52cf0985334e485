// Package config loads the YAML run configuration of spectrasim.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"spectrasim/fit"
	"spectrasim/profile"
	"spectrasim/rates"
	"spectrasim/shake"
	"spectrasim/simulation"
)

// Config represents one simulation (and optional fit) run.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Spectrum   SpectrumConfig   `yaml:"spectrum"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Fit        FitConfig        `yaml:"fit"`
	Output     OutputConfig     `yaml:"output"`
	Logging    LoggingConfig    `yaml:"logging"`

	// LoadedFrom is the file the config was read from, empty for defaults.
	LoadedFrom string `yaml:"-"`
	// Warnings lists options that were switched off because a prerequisite
	// is missing.
	Warnings []string `yaml:"-"`
}

// DatabaseConfig points at the SQLite rate database.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
	// CheckOnStart runs the read-only integrity check before loading.
	CheckOnStart bool `yaml:"check_on_start"`
}

// OffsetsConfig mirrors simulation.Offsets.
type OffsetsConfig struct {
	Energy    float64 `yaml:"energy"`
	Satellite float64 `yaml:"satellite"`
	ShakeOff  float64 `yaml:"shake_off"`
	ShakeUp   float64 `yaml:"shake_up"`
	Separate  bool    `yaml:"separate"`
}

// BeamConfig is the excitation beam; energy 0 disables the overlap model.
type BeamConfig struct {
	Energy float64 `yaml:"energy"`
	FWHM   float64 `yaml:"fwhm"`
}

// ChargeStateConfig is one entry of a charge-state mixture.
type ChargeStateConfig struct {
	State    string  `yaml:"state"`
	Fraction float64 `yaml:"fraction"`
}

// ComponentConfig is an extra peak added to the line total.
type ComponentConfig struct {
	Profile      string  `yaml:"profile"`
	Center       float64 `yaml:"center"`
	Amplitude    float64 `yaml:"amplitude"`
	GaussWidth   float64 `yaml:"gauss_width"`
	LorentzWidth float64 `yaml:"lorentz_width"`
}

// SpectrumConfig holds the simulation parameters.
type SpectrumConfig struct {
	Type             string              `yaml:"type"`
	Profile          string              `yaml:"profile"`
	Resolution       float64             `yaml:"resolution"`
	Points           int                 `yaml:"points"`
	XMin             string              `yaml:"x_min"`
	XMax             string              `yaml:"x_max"`
	YOffset          float64             `yaml:"y_offset"`
	Offsets          OffsetsConfig       `yaml:"offsets"`
	Beam             BeamConfig          `yaml:"beam"`
	Cascade          bool                `yaml:"cascade"`
	CrossSection     string              `yaml:"cross_section"`
	Normalize        string              `yaml:"normalize"`
	Transitions      []string            `yaml:"transitions"`
	AugerTransitions []string            `yaml:"auger_transitions"`
	TwoJ             []int               `yaml:"two_j"`
	ChargeStates     []ChargeStateConfig `yaml:"charge_states"`
	// ShakeAmplitudes maps channel names ("off:L1", "up:M1") to multipliers.
	ShakeAmplitudes map[string]float64 `yaml:"shake_amplitudes"`
	Components      []ComponentConfig  `yaml:"components"`
	// WithinExperiment selects every transition overlapping the experiment.
	WithinExperiment bool `yaml:"within_experiment"`
}

// ExperimentConfig names the measured spectrum and detector efficiency files.
type ExperimentConfig struct {
	Path       string `yaml:"path"`
	Efficiency string `yaml:"efficiency"`
}

// BoundConfig limits one fit parameter; a nil side keeps the built-in limit.
type BoundConfig struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// FitConfig controls the optional fit.
type FitConfig struct {
	Enabled            bool                   `yaml:"enabled"`
	Backend            string                 `yaml:"backend"`
	MaxIterations      int                    `yaml:"max_iterations"`
	Tolerance          float64                `yaml:"tolerance"`
	ProgressIntervalMS int                    `yaml:"progress_interval_ms"`
	PenaltyWeight      float64                `yaml:"penalty_weight"`
	Vary               []string               `yaml:"vary"`
	Bounds             map[string]BoundConfig `yaml:"bounds"`
}

// OutputConfig names the result files.
type OutputConfig struct {
	Path   string `yaml:"path"`
	Sticks string `yaml:"sticks"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	File string `yaml:"file"`
}

// DefaultConfig returns the settings of a fresh interactive session.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Path:          "data/rates.db",
			BusyTimeoutMS: 5000,
		},
		Spectrum: SpectrumConfig{
			Type:         "diagram",
			Profile:      "lorentzian",
			Resolution:   1.0,
			Points:       500,
			XMin:         "auto",
			XMax:         "auto",
			CrossSection: "none",
			Normalize:    "no",
		},
		Fit: FitConfig{
			Backend:            fit.BackendLM,
			MaxIterations:      1000,
			Tolerance:          1e-8,
			ProgressIntervalMS: 250,
			PenaltyWeight:      fit.DefaultPenaltyWeight,
		},
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	c.Database.Path = strings.TrimSpace(c.Database.Path)
	if c.Database.BusyTimeoutMS <= 0 {
		c.Database.BusyTimeoutMS = def.Database.BusyTimeoutMS
	}

	s := &c.Spectrum
	s.Type = strings.TrimSpace(s.Type)
	if s.Type == "" {
		s.Type = def.Spectrum.Type
	}
	s.Profile = strings.TrimSpace(s.Profile)
	if s.Profile == "" {
		s.Profile = def.Spectrum.Profile
	}
	if s.Points == 0 {
		s.Points = def.Spectrum.Points
	}
	if strings.TrimSpace(s.XMin) == "" {
		s.XMin = "auto"
	}
	if strings.TrimSpace(s.XMax) == "" {
		s.XMax = "auto"
	}
	if strings.TrimSpace(s.CrossSection) == "" {
		s.CrossSection = def.Spectrum.CrossSection
	}
	if strings.TrimSpace(s.Normalize) == "" {
		s.Normalize = def.Spectrum.Normalize
	}
	s.Transitions = trimNames(s.Transitions)
	s.AugerTransitions = trimNames(s.AugerTransitions)

	f := &c.Fit
	f.Backend = strings.ToLower(strings.TrimSpace(f.Backend))
	if f.Backend == "" {
		f.Backend = def.Fit.Backend
	}
	if f.MaxIterations <= 0 {
		f.MaxIterations = def.Fit.MaxIterations
	}
	if f.Tolerance <= 0 {
		f.Tolerance = def.Fit.Tolerance
	}
	if f.ProgressIntervalMS <= 0 {
		f.ProgressIntervalMS = def.Fit.ProgressIntervalMS
	}
	if f.PenaltyWeight <= 0 {
		f.PenaltyWeight = def.Fit.PenaltyWeight
	}
	f.Vary = trimNames(f.Vary)

	c.Experiment.Path = strings.TrimSpace(c.Experiment.Path)
	c.Experiment.Efficiency = strings.TrimSpace(c.Experiment.Efficiency)
	c.Output.Path = strings.TrimSpace(c.Output.Path)
	c.Output.Sticks = strings.TrimSpace(c.Output.Sticks)
	c.Logging.File = strings.TrimSpace(c.Logging.File)
}

// degrade switches off the options that need an experimental spectrum when
// none is configured, recording a warning for each.
func (c *Config) degrade() {
	if c.Experiment.Path != "" {
		return
	}
	if c.Spectrum.WithinExperiment {
		c.Spectrum.WithinExperiment = false
		c.warnf("spectrum.within_experiment needs experiment.path; using the configured transitions")
	}
	if strings.EqualFold(strings.TrimSpace(c.Spectrum.Normalize), "expmax") {
		c.Spectrum.Normalize = "no"
		c.warnf("spectrum.normalize expmax needs experiment.path; normalization disabled")
	}
	if c.Fit.Enabled {
		c.Fit.Enabled = false
		c.warnf("fit.enabled needs experiment.path; fit disabled")
	}
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func trimNames(in []string) []string {
	out := in[:0]
	for _, name := range in {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// LoadFile loads YAML config, applies defaults and validates the result.
// An empty path returns the defaults.
func LoadFile(path string) (Config, error) {
	return Load(path, nil)
}

// Load is LoadFile with a hook that runs before normalization and
// validation, so command-line overrides are checked together with the
// file. Options whose prerequisites are missing are disabled and listed in
// Warnings rather than rejected.
func Load(path string, override func(*Config)) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		bs, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(bs, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.LoadedFrom = path
	}
	if override != nil {
		override(&cfg)
	}
	cfg.normalize()
	cfg.degrade()
	if err := cfg.Validate(); err != nil {
		if cfg.LoadedFrom == "" {
			return cfg, fmt.Errorf("config: %w", err)
		}
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field by its YAML path.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, err := c.Spectrum.Params(); err != nil {
		return err
	}
	if _, err := c.Spectrum.Amplitudes(); err != nil {
		return err
	}
	if _, err := c.Fit.Optimizer(); err != nil {
		return fmt.Errorf("fit.backend: %w", err)
	}
	for _, name := range c.Fit.BoundNames() {
		b := c.Fit.Bounds[name]
		if b.Min != nil && b.Max != nil && !(*b.Max > *b.Min) {
			return fmt.Errorf("fit.bounds.%s: max must be > min", name)
		}
	}
	return nil
}

// Params converts the spectrum section into simulation parameters. Shake
// amplitudes are left to Amplitudes since they need the loaded tables.
func (s SpectrumConfig) Params() (simulation.Params, error) {
	p := simulation.DefaultParams()
	var err error
	if p.Type, err = simulation.ParseSpectrumType(s.Type); err != nil {
		return p, fmt.Errorf("spectrum.type: %w", err)
	}
	if p.Profile, err = profile.ParseKind(s.Profile); err != nil {
		return p, fmt.Errorf("spectrum.profile: %w", err)
	}
	if s.Resolution < 0 || math.IsNaN(s.Resolution) {
		return p, fmt.Errorf("spectrum.resolution must be >= 0, got %v", s.Resolution)
	}
	p.Resolution = s.Resolution
	if s.Points < 2 {
		return p, fmt.Errorf("spectrum.points must be >= 2, got %d", s.Points)
	}
	p.Points = s.Points
	if p.XMin, err = simulation.ParseBound(s.XMin); err != nil {
		return p, fmt.Errorf("spectrum.x_min: %w", err)
	}
	if p.XMax, err = simulation.ParseBound(s.XMax); err != nil {
		return p, fmt.Errorf("spectrum.x_max: %w", err)
	}
	if !p.XMin.Auto && !p.XMax.Auto && p.XMin.Value >= p.XMax.Value {
		return p, fmt.Errorf("spectrum.x_min must be below spectrum.x_max")
	}
	p.YOffset = s.YOffset
	p.Offsets = simulation.Offsets{
		Energy:    s.Offsets.Energy,
		Satellite: s.Offsets.Satellite,
		ShakeOff:  s.Offsets.ShakeOff,
		ShakeUp:   s.Offsets.ShakeUp,
		Separate:  s.Offsets.Separate,
	}
	if s.Beam.Energy < 0 || s.Beam.FWHM < 0 {
		return p, fmt.Errorf("spectrum.beam energy and fwhm must be >= 0")
	}
	p.Beam = s.Beam.Energy
	p.BeamFWHM = s.Beam.FWHM
	p.Cascade = s.Cascade
	if p.Mechanism, err = simulation.ParseMechanism(s.CrossSection); err != nil {
		return p, fmt.Errorf("spectrum.cross_section: %w", err)
	}
	if p.Normalize, err = simulation.ParseNormalize(s.Normalize); err != nil {
		return p, fmt.Errorf("spectrum.normalize: %w", err)
	}
	if len(s.TwoJ) > 0 {
		p.TwoJ = rates.NewJJSet(s.TwoJ...)
	}
	for i, cs := range s.ChargeStates {
		if strings.TrimSpace(cs.State) == "" {
			return p, fmt.Errorf("spectrum.charge_states[%d].state is required", i)
		}
		p.Mixture = append(p.Mixture, simulation.ChargeFraction{State: strings.TrimSpace(cs.State), Fraction: cs.Fraction})
	}
	for i, cc := range s.Components {
		kind, err := profile.ParseKind(cc.Profile)
		if err != nil {
			return p, fmt.Errorf("spectrum.components[%d].profile: %w", i, err)
		}
		if cc.GaussWidth < 0 || cc.LorentzWidth < 0 || cc.Amplitude < 0 {
			return p, fmt.Errorf("spectrum.components[%d]: widths and amplitude must be >= 0", i)
		}
		p.Components = append(p.Components, simulation.Component{
			Kind:         kind,
			Center:       cc.Center,
			Amplitude:    cc.Amplitude,
			GaussWidth:   cc.GaussWidth,
			LorentzWidth: cc.LorentzWidth,
		})
	}
	return p, nil
}

// Amplitudes parses the shake_amplitudes map.
func (s SpectrumConfig) Amplitudes() (map[shake.Channel]float64, error) {
	out := make(map[shake.Channel]float64, len(s.ShakeAmplitudes))
	for name, v := range s.ShakeAmplitudes {
		ch, err := shake.ParseChannel(name)
		if err != nil {
			return nil, fmt.Errorf("spectrum.shake_amplitudes: %w", err)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("spectrum.shake_amplitudes.%s must be a finite value >= 0", name)
		}
		out[ch] = v
	}
	return out, nil
}

// Selection lists the requested radiative and Auger transition names.
func (s SpectrumConfig) Selection() []string {
	out := append([]string(nil), s.Transitions...)
	return append(out, s.AugerTransitions...)
}

// Optimizer builds the configured backend.
func (f FitConfig) Optimizer() (fit.Optimizer, error) {
	return fit.NewOptimizer(f.Backend, f.MaxIterations, f.Tolerance)
}

// BoundNames lists the parameters with explicit bounds, sorted.
func (f FitConfig) BoundNames() []string {
	names := make([]string, 0, len(f.Bounds))
	for name := range f.Bounds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyTo narrows a fit layout to the configured free set and bounds.
func (f FitConfig) ApplyTo(layout *fit.Layout) error {
	if len(f.Vary) > 0 {
		if err := layout.VaryOnly(f.Vary); err != nil {
			return fmt.Errorf("fit.vary: %w", err)
		}
	}
	for _, name := range f.BoundNames() {
		b := f.Bounds[name]
		p, ok := layout.Get(name)
		if !ok {
			return fmt.Errorf("fit.bounds: unknown parameter %q", name)
		}
		lo, hi := p.Lower, p.Upper
		if b.Min != nil {
			lo = *b.Min
		}
		if b.Max != nil {
			hi = *b.Max
		}
		if err := layout.SetBounds(name, lo, hi); err != nil {
			return fmt.Errorf("fit.bounds.%s: %w", name, err)
		}
	}
	return nil
}
