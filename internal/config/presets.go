package config

import "sort"

var Presets = map[string]func() *Config{
	"2cmtnl": DefaultConfig,
	"2cmtnl-typical": func() *Config {
		cfg := DefaultConfig()
		cfg.Model.Omega.Values = []float64{0, 0, 0}
		cfg.Run.Individuals = 1
		return cfg
	},
	"2cmtnl-qd": func() *Config {
		cfg := DefaultConfig()
		cfg.Doses = []DoseConfig{{Time: 0, Amount: 100, Cmt: "EV1", II: 24, ADDL: 4}}
		cfg.Run.End = 120
		cfg.Run.Delta = 1
		return cfg
	},
	"2cmtnl-infusion": func() *Config {
		cfg := DefaultConfig()
		cfg.Doses = []DoseConfig{{Time: 0, Amount: 100, Cmt: "CENT", Rate: 50}}
		return cfg
	},
	"2cmtnl-highdose": func() *Config {
		cfg := DefaultConfig()
		cfg.Doses = []DoseConfig{{Time: 0, Amount: 1000, Cmt: "EV1"}}
		cfg.Run.End = 72
		cfg.Run.Delta = 1
		return cfg
	},
}

// GetPreset returns a fresh copy of a preset, or nil when it does not exist.
func GetPreset(name string) *Config {
	fn, ok := Presets[name]
	if !ok {
		return nil
	}
	return fn()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
