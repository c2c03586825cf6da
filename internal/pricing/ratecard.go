package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"smider/broker-service/internal/model"
)

// Material catalog keys.
const (
	MatCablePerMeter = "cable_per_meter"
	MatSocket        = "socket"
	MatDimmer        = "dimmer"
	MatSwitch        = "switch"
	MatSpot          = "spot"
	MatStoveGuard    = "stove_guard"
	MatPaintPerSqm   = "paint_per_sqm"
	MatTilesPerSqm   = "tiles_per_sqm"
	MatMembrane      = "membrane"
	MatPipePerMeter  = "pipe_per_meter"
	MatFixture       = "fixture"
)

// RateCard holds every monetary constant the engine uses. Amounts are whole
// currency units.
type RateCard struct {
	WorkdayHours float64                `yaml:"workday_hours"`
	TripRate     int                    `yaml:"trip_rate"`
	HourlyRates  map[model.Category]int `yaml:"hourly_rates"`
	Materials    map[string]int         `yaml:"materials"`
}

// DefaultRateCard returns the pilot prices (NOK).
func DefaultRateCard() RateCard {
	return RateCard{
		WorkdayHours: 7.5,
		TripRate:     900,
		HourlyRates: map[model.Category]int{
			model.CategoryElectrician:        1500,
			model.CategoryPlumber:            1600,
			model.CategoryPainter:            850,
			model.CategoryCarpenter:          950,
			model.CategoryTiling:             1000,
			model.CategoryHandyman:           750,
			model.CategoryBathroomRenovation: 1200,
			model.CategoryKitchenInstall:     950,
		},
		Materials: map[string]int{
			MatCablePerMeter: 100,
			MatSocket:        450,
			MatDimmer:        800,
			MatSwitch:        300,
			MatSpot:          600,
			MatStoveGuard:    1500,
			MatPaintPerSqm:   60,
			MatTilesPerSqm:   450,
			MatMembrane:      2500,
			MatPipePerMeter:  150,
			MatFixture:       1200,
		},
	}
}

// LoadRateCard reads a YAML rate card from path and overlays it on the
// defaults. Keys missing from the file keep their default value.
func LoadRateCard(path string) (RateCard, error) {
	card := DefaultRateCard()
	data, err := os.ReadFile(path)
	if err != nil {
		return card, fmt.Errorf("read rate card: %w", err)
	}

	var file RateCard
	if err := yaml.Unmarshal(data, &file); err != nil {
		return card, fmt.Errorf("parse rate card %s: %w", path, err)
	}

	if file.WorkdayHours > 0 {
		card.WorkdayHours = file.WorkdayHours
	}
	if file.TripRate > 0 {
		card.TripRate = file.TripRate
	}
	for cat, rate := range file.HourlyRates {
		if !cat.IsSupported() {
			return card, fmt.Errorf("rate card %s: unknown category %q", path, cat)
		}
		card.HourlyRates[cat] = rate
	}
	for key, price := range file.Materials {
		card.Materials[key] = price
	}
	return card, nil
}
