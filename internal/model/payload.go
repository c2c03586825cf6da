package model

import (
	"reflect"
	"strings"
	"sync"
)

// Payload is the structured set of job facts accumulated during intake.
//
// Every field is optional. A nil pointer means "unknown"; a non-nil pointer
// to false or 0 is a known answer and must not be asked for again.
type Payload struct {
	// Common
	Category             *string  `json:"category,omitempty"`
	TaskDetails          *string  `json:"task_details,omitempty"`
	MaterialsByCustomer  *bool    `json:"materials_by_customer,omitempty"`
	MaterialsDescription *string  `json:"materials_description,omitempty"`
	HasProduct           *bool    `json:"has_product,omitempty"`
	ProductInfo          *string  `json:"product_info,omitempty"`
	Address              *string  `json:"address,omitempty"`
	Latitude             *float64 `json:"latitude,omitempty"`
	Longitude            *float64 `json:"longitude,omitempty"`

	// Electrician: lamp
	HasExistingPoint  *bool    `json:"has_existing_point,omitempty"`
	LampCount         *float64 `json:"lamp_count,omitempty"`
	CeilingHeightType *string  `json:"ceiling_height_type,omitempty"`
	SwitchType        *string  `json:"switch_type,omitempty"`

	// Electrician: socket
	SocketCount        *float64 `json:"socket_count,omitempty"`
	IsGrounded         *bool    `json:"is_grounded,omitempty"`
	IsSocketAccessible *bool    `json:"is_socket_accessible,omitempty"`

	// Electrician: dimmer
	BulbType          *string  `json:"bulb_type,omitempty"`
	DimmerCount       *float64 `json:"dimmer_count,omitempty"`
	DimmerCircuitType *string  `json:"dimmer_circuit_type,omitempty"`

	// Electrician: EV charger
	EVHasCharger     *bool    `json:"ev_has_charger,omitempty"`
	EVDistanceMeters *float64 `json:"ev_distance_meters,omitempty"`
	EVPhase          *string  `json:"ev_phase,omitempty"`
	EVLoadBalancing  *bool    `json:"ev_load_balancing,omitempty"`

	// Electrician: troubleshooting
	TroubleshootIsAcute *bool `json:"troubleshoot_is_acute,omitempty"`

	// Electrician: spots
	SpotCount       *float64 `json:"spot_count,omitempty"`
	CeilingType     *string  `json:"ceiling_type,omitempty"`
	SpotNeedsDimmer *bool    `json:"spot_needs_dimmer,omitempty"`

	// Electrician: moving a socket
	WallType   *string `json:"wall_type,omitempty"`
	WiringType *string `json:"wiring_type,omitempty"`

	// Electrician: new circuit
	ApplianceType         *string  `json:"appliance_type,omitempty"`
	FuseBoxHasSpace       *bool    `json:"fuse_box_has_space,omitempty"`
	CircuitDistanceMeters *float64 `json:"circuit_distance_meters,omitempty"`

	// Electrician: outdoor socket
	OutdoorDistanceMeters *float64 `json:"outdoor_distance_meters,omitempty"`
	OutdoorSocketCount    *float64 `json:"outdoor_socket_count,omitempty"`
	OutdoorWeatherExposed *bool    `json:"outdoor_weather_exposed,omitempty"`

	// Painter, tiling, bathroom renovation, carpenter
	AreaSqm            *float64 `json:"area_sqm,omitempty"`
	RoomCount          *float64 `json:"room_count,omitempty"`
	CoatCount          *float64 `json:"coat_count,omitempty"`
	SurfaceType        *string  `json:"surface_type,omitempty"`
	NeedsPrep          *bool    `json:"needs_prep,omitempty"`
	NeedsWaterproofing *bool    `json:"needs_waterproofing,omitempty"`

	// Carpenter, handyman
	ItemCount *float64 `json:"item_count,omitempty"`

	// Plumber
	FixtureCount       *float64 `json:"fixture_count,omitempty"`
	LeakIsAcute        *bool    `json:"leak_is_acute,omitempty"`
	PipeDistanceMeters *float64 `json:"pipe_distance_meters,omitempty"`

	// Kitchen install
	CabinetCount       *float64 `json:"cabinet_count,omitempty"`
	IncludesAppliances *bool    `json:"includes_appliances,omitempty"`

	// Meta: not job facts.
	Intent       *string `json:"intent,omitempty"`
	UserQuestion *string `json:"user_question,omitempty"`
}

// FieldKind is the JSON type a payload field carries.
type FieldKind int

const (
	KindString FieldKind = iota
	KindNumber
	KindBool
)

// FieldSpec describes one payload field for schema building and sanitizing.
// A non-empty Enum restricts a string field to a closed value set.
type FieldSpec struct {
	Name string
	Kind FieldKind
	Enum []string
}

// PayloadFields lists every field of Payload with its type.
var PayloadFields = []FieldSpec{
	{Name: "category", Kind: KindString},
	{Name: "task_details", Kind: KindString},
	{Name: "materials_by_customer", Kind: KindBool},
	{Name: "materials_description", Kind: KindString},
	{Name: "has_product", Kind: KindBool},
	{Name: "product_info", Kind: KindString},
	{Name: "address", Kind: KindString},
	{Name: "latitude", Kind: KindNumber},
	{Name: "longitude", Kind: KindNumber},

	{Name: "has_existing_point", Kind: KindBool},
	{Name: "lamp_count", Kind: KindNumber},
	{Name: "ceiling_height_type", Kind: KindString, Enum: []string{"standard", "high_sloped"}},
	{Name: "switch_type", Kind: KindString, Enum: []string{"existing", "new"}},
	{Name: "socket_count", Kind: KindNumber},
	{Name: "is_grounded", Kind: KindBool},
	{Name: "is_socket_accessible", Kind: KindBool},
	{Name: "bulb_type", Kind: KindString, Enum: []string{"led", "halogen"}},
	{Name: "dimmer_count", Kind: KindNumber},
	{Name: "dimmer_circuit_type", Kind: KindString, Enum: []string{"single", "multi"}},
	{Name: "ev_has_charger", Kind: KindBool},
	{Name: "ev_distance_meters", Kind: KindNumber},
	{Name: "ev_phase", Kind: KindString, Enum: []string{"1-phase", "3-phase"}},
	{Name: "ev_load_balancing", Kind: KindBool},
	{Name: "troubleshoot_is_acute", Kind: KindBool},
	{Name: "spot_count", Kind: KindNumber},
	{Name: "ceiling_type", Kind: KindString, Enum: []string{"open_loft", "closed"}},
	{Name: "spot_needs_dimmer", Kind: KindBool},
	{Name: "wall_type", Kind: KindString, Enum: []string{"drywall", "concrete"}},
	{Name: "wiring_type", Kind: KindString, Enum: []string{"hidden", "open"}},
	{Name: "appliance_type", Kind: KindString},
	{Name: "fuse_box_has_space", Kind: KindBool},
	{Name: "circuit_distance_meters", Kind: KindNumber},
	{Name: "outdoor_distance_meters", Kind: KindNumber},
	{Name: "outdoor_socket_count", Kind: KindNumber},
	{Name: "outdoor_weather_exposed", Kind: KindBool},

	{Name: "area_sqm", Kind: KindNumber},
	{Name: "room_count", Kind: KindNumber},
	{Name: "coat_count", Kind: KindNumber},
	{Name: "surface_type", Kind: KindString, Enum: []string{"interior", "exterior"}},
	{Name: "needs_prep", Kind: KindBool},
	{Name: "needs_waterproofing", Kind: KindBool},
	{Name: "item_count", Kind: KindNumber},
	{Name: "fixture_count", Kind: KindNumber},
	{Name: "leak_is_acute", Kind: KindBool},
	{Name: "pipe_distance_meters", Kind: KindNumber},
	{Name: "cabinet_count", Kind: KindNumber},
	{Name: "includes_appliances", Kind: KindBool},

	{Name: "intent", Kind: KindString},
	{Name: "user_question", Kind: KindString},
}

var (
	fieldIndexOnce sync.Once
	fieldIndex     map[string]int
)

func payloadFieldIndex() map[string]int {
	fieldIndexOnce.Do(func() {
		t := reflect.TypeOf(Payload{})
		fieldIndex = make(map[string]int, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
			if name != "" && name != "-" {
				fieldIndex[name] = i
			}
		}
	})
	return fieldIndex
}

// Known reports whether the named field holds a value. Unknown field names
// are never known.
func (p *Payload) Known(field string) bool {
	if p == nil {
		return false
	}
	i, ok := payloadFieldIndex()[field]
	if !ok {
		return false
	}
	return !reflect.ValueOf(p).Elem().Field(i).IsNil()
}

// HasField reports whether Payload declares a field with this JSON name.
func HasField(field string) bool {
	_, ok := payloadFieldIndex()[field]
	return ok
}

// Text returns the lower-cased free text used for keyword triggers: the task
// description followed by the extracted intent.
func (p *Payload) Text() string {
	if p == nil {
		return ""
	}
	return strings.ToLower(Str(p.TaskDetails) + " " + Str(p.Intent))
}

// Str dereferences s, returning "" for nil.
func Str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Num dereferences n, returning def for nil.
func Num(n *float64, def float64) float64 {
	if n == nil {
		return def
	}
	return *n
}

// True reports whether b is known and true.
func True(b *bool) bool { return b != nil && *b }

// False reports whether b is known and false.
func False(b *bool) bool { return b != nil && !*b }
