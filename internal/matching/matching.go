// Package matching selects the contractors a job can be offered to.
package matching

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"smider/broker-service/internal/model"
)

const (
	earthRadiusKm = 6371.0

	// DefaultRadiusKm applies to contractors without a positive service radius.
	DefaultRadiusKm = 20.0
)

// ContractorSource is the read side of the contractor store.
type ContractorSource interface {
	ListContractors(ctx context.Context) ([]model.Contractor, error)
}

// Match is a candidate contractor with its distance to the job.
type Match struct {
	Contractor model.Contractor `json:"contractor"`
	DistanceKm float64          `json:"distanceKm"`
}

// Engine ranks contractors for a job.
type Engine struct {
	src ContractorSource

	// FallbackToAll widens the search to every contractor when none is
	// registered for the category. Demo environments only: it ignores the
	// category match.
	FallbackToAll bool
}

func NewEngine(src ContractorSource) *Engine {
	return &Engine{src: src}
}

// FindProviders returns the contractors serving cat whose service radius
// covers (lat, lng), nearest first.
func (e *Engine) FindProviders(ctx context.Context, cat model.Category, lat, lng float64) ([]Match, error) {
	all, err := e.src.ListContractors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contractors: %w", err)
	}

	pool := make([]model.Contractor, 0, len(all))
	for _, c := range all {
		if c.Serves(cat) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 && e.FallbackToAll {
		slog.Warn("matching: no contractors for category, falling back to all",
			"category", cat, "contractors", len(all))
		pool = all
	}

	matches := make([]Match, 0, len(pool))
	for _, c := range pool {
		if c.Available != nil && !*c.Available {
			continue
		}
		if c.Location == nil {
			continue
		}
		d := Haversine(lat, lng, c.Location.Lat, c.Location.Lng)
		radius := DefaultRadiusKm
		if c.ServiceRadiusKm != nil && *c.ServiceRadiusKm > 0 {
			radius = *c.ServiceRadiusKm
		}
		if d > radius {
			continue
		}
		matches = append(matches, Match{Contractor: c, DistanceKm: d})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].DistanceKm != matches[j].DistanceKm {
			return matches[i].DistanceKm < matches[j].DistanceKm
		}
		return matches[i].Contractor.CompanyName < matches[j].Contractor.CompanyName
	})
	return matches, nil
}

// Haversine returns the great-circle distance in kilometres between two
// points given in decimal degrees.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
