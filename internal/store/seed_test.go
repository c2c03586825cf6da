package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smider/broker-service/internal/model"
	"smider/broker-service/internal/store"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contractors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestSeedContractors_UpsertsAndIsRepeatable(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	path := writeSeed(t, `
contractors:
  - id: ctr-dummy
    company_name: Dummy Rør AS
    org_nr: "999888777"
    categories: [rørlegger, bathroom_renovation]
    lat: 59.91
    lng: 10.75
    service_radius_km: 40
    available: true
  - id: ctr-offline
    company_name: Offline AS
    categories: [snekker]
`)

	n, err := store.SeedContractors(ctx, s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.SeedContractors(ctx, s, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.ListContractors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := s.GetContractor(ctx, "ctr-dummy")
	require.NoError(t, err)
	assert.Equal(t, []model.Category{model.CategoryPlumber, model.CategoryBathroomRenovation}, got.Categories)
	assert.Equal(t, "999888777", got.OrgNr)
	require.NotNil(t, got.Location)
	assert.Equal(t, 59.91, got.Location.Lat)
	require.NotNil(t, got.ServiceRadiusKm)
	assert.Equal(t, 40.0, *got.ServiceRadiusKm)

	offline, err := s.GetContractor(ctx, "ctr-offline")
	require.NoError(t, err)
	assert.Nil(t, offline.Location)
}

func TestLoadContractorSeed_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "contractors: [", "parse contractor seed"},
		{"missing id", "contractors:\n  - company_name: X AS\n", "needs id and company_name"},
		{"duplicate id", "contractors:\n  - {id: a, company_name: A}\n  - {id: a, company_name: B}\n", `duplicate id "a"`},
		{"unknown category", "contractors:\n  - {id: a, company_name: A, categories: [taktekker]}\n", "unknown category"},
		{"half location", "contractors:\n  - {id: a, company_name: A, lat: 59.9}\n", "lat and lng must be set together"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := store.LoadContractorSeed(writeSeed(t, c.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}

	_, err := store.LoadContractorSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
