package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"smider/broker-service/internal/model"
)

// contractorSeed is one entry of a contractors seed file.
type contractorSeed struct {
	ID              string   `yaml:"id"`
	CompanyName     string   `yaml:"company_name"`
	OrgNr           string   `yaml:"org_nr"`
	Categories      []string `yaml:"categories"`
	Lat             *float64 `yaml:"lat"`
	Lng             *float64 `yaml:"lng"`
	ServiceRadiusKm *float64 `yaml:"service_radius_km"`
	Available       *bool    `yaml:"available"`
}

type seedFile struct {
	Contractors []contractorSeed `yaml:"contractors"`
}

// LoadContractorSeed parses a YAML contractors file:
//
//	contractors:
//	  - id: ctr-elara
//	    company_name: Elara Demo AS
//	    categories: [elektriker, rørlegger]
//	    lat: 59.91
//	    lng: 10.75
//	    service_radius_km: 50
//
// Categories accept the same names as job payloads.
func LoadContractorSeed(path string) ([]model.Contractor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contractor seed: %w", err)
	}
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse contractor seed %s: %w", path, err)
	}

	out := make([]model.Contractor, 0, len(file.Contractors))
	seen := make(map[string]bool, len(file.Contractors))
	for i, s := range file.Contractors {
		if s.ID == "" || s.CompanyName == "" {
			return nil, fmt.Errorf("contractor seed %s: entry %d needs id and company_name", path, i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("contractor seed %s: duplicate id %q", path, s.ID)
		}
		seen[s.ID] = true

		c := model.Contractor{
			ID:              s.ID,
			CompanyName:     s.CompanyName,
			OrgNr:           s.OrgNr,
			Categories:      make([]model.Category, 0, len(s.Categories)),
			ServiceRadiusKm: s.ServiceRadiusKm,
			Available:       s.Available,
		}
		for _, raw := range s.Categories {
			cat, err := model.ParseCategory(raw)
			if err != nil {
				return nil, fmt.Errorf("contractor seed %s: %s: %w", path, s.ID, err)
			}
			c.Categories = append(c.Categories, cat)
		}
		if (s.Lat == nil) != (s.Lng == nil) {
			return nil, fmt.Errorf("contractor seed %s: %s: lat and lng must be set together", path, s.ID)
		}
		if s.Lat != nil {
			c.Location = &model.Location{Lat: *s.Lat, Lng: *s.Lng}
		}
		out = append(out, c)
	}
	return out, nil
}

// SeedContractors upserts every contractor in the seed file at path and
// returns how many were written. Re-running it is harmless.
func SeedContractors(ctx context.Context, s Store, path string) (int, error) {
	contractors, err := LoadContractorSeed(path)
	if err != nil {
		return 0, err
	}
	for i := range contractors {
		if err := s.UpsertContractor(ctx, &contractors[i]); err != nil {
			return i, fmt.Errorf("seed contractor %s: %w", contractors[i].ID, err)
		}
	}
	return len(contractors), nil
}
