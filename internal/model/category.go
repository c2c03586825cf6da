package model

import (
	"fmt"
	"strings"
)

// Category is the trade a job belongs to.
type Category string

const (
	CategoryElectrician        Category = "electrician"
	CategoryPainter            Category = "painter"
	CategoryCarpenter          Category = "carpenter"
	CategoryPlumber            Category = "plumber"
	CategoryTiling             Category = "tiling"
	CategoryHandyman           Category = "handyman"
	CategoryBathroomRenovation Category = "bathroom-renovation"
	CategoryKitchenInstall     Category = "kitchen-install"
)

// Categories lists every supported category in display order.
var Categories = []Category{
	CategoryElectrician,
	CategoryPainter,
	CategoryCarpenter,
	CategoryPlumber,
	CategoryTiling,
	CategoryHandyman,
	CategoryBathroomRenovation,
	CategoryKitchenInstall,
}

// categoryAliases maps Norwegian trade names (as produced by the extraction
// service and used in contractor registrations) to categories.
var categoryAliases = map[string]Category{
	"elektriker":         CategoryElectrician,
	"maler":              CategoryPainter,
	"snekker":            CategoryCarpenter,
	"tømrer":             CategoryCarpenter,
	"rørlegger":          CategoryPlumber,
	"flislegger":         CategoryTiling,
	"flislegging":        CategoryTiling,
	"altmuligmann":       CategoryHandyman,
	"vaktmester":         CategoryHandyman,
	"baderom":            CategoryBathroomRenovation,
	"baderomsrenovering": CategoryBathroomRenovation,
	"kjøkken":            CategoryKitchenInstall,
	"kjøkkenmontering":   CategoryKitchenInstall,
}

// ParseCategory converts a raw string to a Category. Matching is
// case-insensitive, treats '_' and ' ' like '-', and accepts Norwegian names.
func ParseCategory(s string) (Category, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	for _, c := range Categories {
		if norm == string(c) {
			return c, nil
		}
	}
	if c, ok := categoryAliases[norm]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// IsSupported reports whether c is one of the known categories.
func (c Category) IsSupported() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}
