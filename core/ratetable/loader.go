// Package ratetable loads the static (tier, platform_family, provider) ->
// hourly_rate table from a YAML file at startup (§6.5), and supports a
// SIGHUP-triggered reload (SPEC_FULL.md §D.2a) without ever mutating an
// in-flight snapshot concurrent readers hold.
package ratetable

import (
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/cloudplay/fleet-control-plane/core/models"
)

type fileEntry struct {
	Tier           string  `yaml:"tier"`
	PlatformFamily string  `yaml:"platform_family"`
	Provider       string  `yaml:"provider"`
	HourlyRate     float64 `yaml:"hourly_rate"`
}

type fileFormat struct {
	Rates       []fileEntry        `yaml:"rates"`
	Multipliers map[string]float64 `yaml:"platform_family_multipliers"`
}

// Loader holds a hot-swappable *models.RateTable, loaded from path.
type Loader struct {
	path string
	tbl  atomic.Pointer[models.RateTable]
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load reads the rate file and installs it atomically. Safe to call
// concurrently with Table() reads — no Table() caller ever observes a
// partially-built table.
func (l *Loader) Load() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}

	var ff fileFormat
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return err
	}

	rates := make(map[models.RateKey]float64, len(ff.Rates))
	for _, e := range ff.Rates {
		rates[models.RateKey{
			Tier:           models.Tier(e.Tier),
			PlatformFamily: e.PlatformFamily,
			Provider:       models.Provider(e.Provider),
		}] = e.HourlyRate
	}

	l.tbl.Store(&models.RateTable{Rates: rates, Multipliers: ff.Multipliers})
	return nil
}

// Table returns the currently-installed rate table. Immutable after each Load.
func (l *Loader) Table() *models.RateTable {
	return l.tbl.Load()
}
