package pricing

import (
	"strings"

	"smider/broker-service/internal/model"
)

// rule is one clause of a category's hour-estimation decision list. A rule
// matches when any keyword occurs in the payload text or when the
// structured trigger returns true.
type rule struct {
	name     string
	keywords []string
	when     func(p *model.Payload) bool
	hours    func(p *model.Payload, text string) float64
}

func (r rule) matches(p *model.Payload, text string) bool {
	for _, kw := range r.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return r.when != nil && r.when(p)
}

// materialLine prices qty(p) units of a catalog entry. Zero quantity means
// the line is skipped.
type materialLine struct {
	label string
	unit  string // shown after the quantity, e.g. "stk" or "m"
	key   string
	qty   func(p *model.Payload) float64
}

// surcharge adds a fixed catalog amount when its trigger holds.
type surcharge struct {
	label string
	key   string
	when  func(p *model.Payload) bool
}

// profile is everything the engine knows about one category.
type profile struct {
	defaultHours float64
	rules        []rule
	materials    []materialLine
	surcharges   []surcharge
}

// estimateHours walks the rule list top to bottom; the first match wins.
func (pr profile) estimateHours(p *model.Payload) (float64, string) {
	text := p.Text()
	for _, r := range pr.rules {
		if r.matches(p, text) {
			return r.hours(p, text), r.name
		}
	}
	return pr.defaultHours, "default"
}

// count returns *n, or def when n is unknown or not positive.
func count(n *float64, def float64) float64 {
	if n == nil || *n <= 0 {
		return def
	}
	return *n
}

func known(n *float64) bool { return n != nil }

func qty(n *float64) float64 {
	if n == nil || *n < 0 {
		return 0
	}
	return *n
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

var stoveWords = []string{"komfyr", "platetopp", "induksjon", "cooktop", "induction", "stove"}

var profiles = map[model.Category]profile{
	model.CategoryElectrician: {
		defaultHours: 2.5,
		rules: []rule{
			{
				name:     "socket",
				keywords: []string{"stikk", "kontakt", "bytte"},
				hours: func(p *model.Payload, _ string) float64 {
					return 1.5 + (count(p.SocketCount, 1)-1)*1.0
				},
			},
			{
				name:     "dimmer",
				keywords: []string{"dimmer"},
				hours: func(p *model.Payload, _ string) float64 {
					h := 2.0
					if model.Str(p.DimmerCircuitType) == "multi" {
						h = 3
					}
					if n := count(p.DimmerCount, 1); n > 1 {
						h += (n - 1) * 1.5
					}
					return h
				},
			},
			{
				name:     "ev_charger",
				keywords: []string{"elbil", "lader", "ladeboks", "zaptec", "easee"},
				hours: func(p *model.Payload, _ string) float64 {
					h := 4.0
					if model.Num(p.EVDistanceMeters, 0) > 10 {
						h += 2
					}
					if model.Str(p.EVPhase) == "3-phase" || model.True(p.EVLoadBalancing) {
						h += 3
					}
					return h
				},
			},
			{
				name:     "new_circuit",
				keywords: []string{"platetopp", "induksjon", "komfyr", "ovn", "ny kurs"},
				hours: func(_ *model.Payload, text string) float64 {
					if containsAny(text, "ny kurs", "egen kurs", "må trekkes") {
						return 5.5
					}
					return 3.5
				},
			},
			{
				name:     "troubleshooting",
				keywords: []string{"sikring", "jordfeil", "feilsøk", "strøm borte"},
				hours: func(p *model.Payload, _ string) float64 {
					if model.True(p.TroubleshootIsAcute) {
						return 3
					}
					return 2
				},
			},
			{
				name:     "spots",
				keywords: []string{"spot", "downlight"},
				hours: func(p *model.Payload, _ string) float64 {
					h := count(p.SpotCount, 4) * 1.25
					if model.Str(p.CeilingType) == "closed" {
						h += 2
					}
					if model.True(p.SpotNeedsDimmer) {
						h += 0.5
					}
					return h
				},
			},
			{
				name:     "outdoor_socket",
				keywords: []string{"utendørs", "terrasse", "balkong"},
				hours: func(p *model.Payload, _ string) float64 {
					h := 3.0
					if model.Num(p.OutdoorDistanceMeters, 0) > 10 {
						h += 2
					}
					if model.True(p.OutdoorWeatherExposed) {
						h += 0.5
					}
					return h
				},
			},
			{
				name:     "lamp",
				keywords: []string{"lampe", "pendel", "lysekrone"},
				hours: func(p *model.Payload, _ string) float64 {
					h := 1.5
					if model.False(p.HasExistingPoint) {
						h = 2.5
					}
					if model.Str(p.CeilingHeightType) == "high_sloped" {
						h += 2
					}
					if n := count(p.LampCount, 1); n > 1 {
						h += (n - 1) * 0.5
					}
					return h
				},
			},
		},
		materials: []materialLine{
			{label: "Kabel", unit: "m", key: MatCablePerMeter, qty: func(p *model.Payload) float64 { return qty(p.CircuitDistanceMeters) }},
			{label: "Stikkontakt", unit: "stk", key: MatSocket, qty: func(p *model.Payload) float64 { return qty(p.SocketCount) }},
			{label: "Dimmer", unit: "stk", key: MatDimmer, qty: func(p *model.Payload) float64 { return qty(p.DimmerCount) }},
			{label: "Lysbryter", unit: "stk", key: MatSwitch, qty: func(p *model.Payload) float64 {
				// A plain switch is only charged when no dimmer replaces it.
				if qty(p.DimmerCount) == 0 && model.Str(p.SwitchType) == "new" {
					return 1
				}
				return 0
			}},
			{label: "Spotter", unit: "stk", key: MatSpot, qty: func(p *model.Payload) float64 { return qty(p.SpotCount) }},
		},
		surcharges: []surcharge{
			{label: "Komfyrvakt (påkrevd)", key: MatStoveGuard, when: func(p *model.Payload) bool {
				return containsAny(strings.ToLower(model.Str(p.ApplianceType)), stoveWords...)
			}},
		},
	},

	model.CategoryPainter: {
		defaultHours: 6,
		rules: []rule{
			{
				name:     "exterior",
				keywords: []string{"fasade", "utvendig", "exterior"},
				when:     func(p *model.Payload) bool { return model.Str(p.SurfaceType) == "exterior" },
				hours: func(p *model.Payload, _ string) float64 {
					area := count(p.AreaSqm, 40)
					h := area * count(p.CoatCount, 2) * 0.15
					if model.True(p.NeedsPrep) {
						h += area * 0.1
					}
					return h
				},
			},
			{
				name:     "interior",
				keywords: []string{"male", "maling", "vegg", "tak", "paint"},
				when:     func(p *model.Payload) bool { return known(p.AreaSqm) || known(p.RoomCount) },
				hours: func(p *model.Payload, _ string) float64 {
					area := count(p.AreaSqm, count(p.RoomCount, 1)*30)
					h := area * count(p.CoatCount, 2) * 0.1
					if model.True(p.NeedsPrep) {
						h += area * 0.05
					}
					return h
				},
			},
		},
		materials: []materialLine{
			{label: "Maling", unit: "m²", key: MatPaintPerSqm, qty: func(p *model.Payload) float64 {
				return qty(p.AreaSqm) * count(p.CoatCount, 2)
			}},
		},
	},

	model.CategoryCarpenter: {
		defaultHours: 4,
		rules: []rule{
			{
				name:     "door",
				keywords: []string{"dør", "door"},
				hours: func(p *model.Payload, _ string) float64 {
					return 2.5 + (count(p.ItemCount, 1)-1)*2
				},
			},
			{
				name:     "window",
				keywords: []string{"vindu", "window"},
				hours: func(p *model.Payload, _ string) float64 {
					return 3 + (count(p.ItemCount, 1)-1)*2.5
				},
			},
			{
				name:     "floor",
				keywords: []string{"gulv", "parkett", "floor"},
				hours:    func(p *model.Payload, _ string) float64 { return count(p.AreaSqm, 15) * 0.6 },
			},
			{
				name:     "deck",
				keywords: []string{"terrasse", "platting", "deck"},
				hours:    func(p *model.Payload, _ string) float64 { return count(p.AreaSqm, 20) * 1.0 },
			},
			{
				name:     "trim",
				keywords: []string{"hylle", "list", "shelf"},
				hours: func(p *model.Payload, _ string) float64 {
					return 1.5 + (count(p.ItemCount, 1)-1)*0.5
				},
			},
		},
	},

	model.CategoryPlumber: {
		defaultHours: 2.5,
		rules: []rule{
			{
				name:     "leak",
				keywords: []string{"lekk", "drypp", "leak"},
				when:     func(p *model.Payload) bool { return model.True(p.LeakIsAcute) },
				hours: func(p *model.Payload, _ string) float64 {
					if model.True(p.LeakIsAcute) {
						return 3
					}
					return 2
				},
			},
			{
				name:     "toilet",
				keywords: []string{"toalett", "wc", "toilet"},
				hours: func(p *model.Payload, _ string) float64 {
					return 3 + (count(p.FixtureCount, 1)-1)*2
				},
			},
			{
				name:     "faucet",
				keywords: []string{"kran", "blandebatteri", "faucet", "tap"},
				hours: func(p *model.Payload, _ string) float64 {
					return 1.5 + (count(p.FixtureCount, 1)-1)*1.0
				},
			},
			{
				name:     "water_heater",
				keywords: []string{"varmtvann", "bereder", "water heater"},
				hours:    func(*model.Payload, string) float64 { return 4 },
			},
			{
				name:     "new_pipe",
				keywords: []string{"nytt rør", "flytte", "new pipe"},
				when:     func(p *model.Payload) bool { return known(p.PipeDistanceMeters) },
				hours: func(p *model.Payload, _ string) float64 {
					return 2 + qty(p.PipeDistanceMeters)*0.3
				},
			},
			{
				name:     "drain",
				keywords: []string{"avløp", "tett", "drain"},
				hours:    func(*model.Payload, string) float64 { return 2 },
			},
		},
		materials: []materialLine{
			{label: "Rør", unit: "m", key: MatPipePerMeter, qty: func(p *model.Payload) float64 { return qty(p.PipeDistanceMeters) }},
			{label: "Armatur", unit: "stk", key: MatFixture, qty: func(p *model.Payload) float64 { return qty(p.FixtureCount) }},
		},
	},

	model.CategoryTiling: {
		defaultHours: 8,
		rules: []rule{
			{
				name:     "tiles",
				keywords: []string{"flis", "tile"},
				when:     func(p *model.Payload) bool { return known(p.AreaSqm) },
				hours: func(p *model.Payload, _ string) float64 {
					h := count(p.AreaSqm, 6) * 1.5
					if model.True(p.NeedsWaterproofing) {
						h += 4
					}
					return h
				},
			},
		},
		materials: []materialLine{
			{label: "Fliser", unit: "m²", key: MatTilesPerSqm, qty: func(p *model.Payload) float64 { return qty(p.AreaSqm) }},
		},
		surcharges: []surcharge{
			{label: "Membran (påkrevd)", key: MatMembrane, when: func(p *model.Payload) bool { return model.True(p.NeedsWaterproofing) }},
		},
	},

	model.CategoryHandyman: {
		defaultHours: 2,
		rules: []rule{
			{
				name:     "furniture",
				keywords: []string{"ikea", "møbel", "furniture"},
				hours: func(p *model.Payload, _ string) float64 {
					return 2 + (count(p.ItemCount, 1)-1)*1.5
				},
			},
			{
				name:     "mounting",
				keywords: []string{"montere", "montering", "henge", "mount"},
				hours: func(p *model.Payload, _ string) float64 {
					return 1 + (count(p.ItemCount, 1)-1)*0.5
				},
			},
		},
	},

	model.CategoryBathroomRenovation: {
		defaultHours: 60,
		rules: []rule{
			{
				name:     "full_renovation",
				keywords: []string{"totalrenover", "full renover", "complete"},
				hours:    func(p *model.Payload, _ string) float64 { return count(p.AreaSqm, 5) * 14 },
			},
			{
				name: "by_area",
				when: func(p *model.Payload) bool { return known(p.AreaSqm) },
				hours: func(p *model.Payload, _ string) float64 {
					h := count(p.AreaSqm, 5) * 10
					if model.True(p.NeedsWaterproofing) {
						h += count(p.AreaSqm, 5) * 2
					}
					return h
				},
			},
		},
		materials: []materialLine{
			{label: "Fliser", unit: "m²", key: MatTilesPerSqm, qty: func(p *model.Payload) float64 { return qty(p.AreaSqm) }},
		},
		surcharges: []surcharge{
			{label: "Membran (påkrevd)", key: MatMembrane, when: func(p *model.Payload) bool { return model.True(p.NeedsWaterproofing) }},
		},
	},

	model.CategoryKitchenInstall: {
		defaultHours: 12,
		rules: []rule{
			{
				name:     "cabinets",
				keywords: []string{"kjøkken", "skap", "kitchen"},
				when:     func(p *model.Payload) bool { return known(p.CabinetCount) },
				hours: func(p *model.Payload, _ string) float64 {
					h := 6 + count(p.CabinetCount, 8)*0.75
					if model.True(p.IncludesAppliances) {
						h += 3
					}
					return h
				},
			},
		},
	},
}
