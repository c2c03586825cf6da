package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"smider/broker-service/internal/model"
)

var specsByName = func() map[string]model.FieldSpec {
	m := make(map[string]model.FieldSpec, len(model.PayloadFields))
	for _, f := range model.PayloadFields {
		m[f.Name] = f
	}
	return m
}()

// Sanitize drops or normalizes fields that the extraction service got wrong
// so the rest of the document can still be used. Unknown keys, nulls, empty
// strings, wrong types and out-of-set enum values are removed; numeric and
// boolean strings ("2", "true") are converted. It returns the cleaned
// document and the names of dropped keys.
func Sanitize(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var dropped []string
	for k, v := range m {
		spec, ok := specsByName[k]
		if !ok {
			delete(m, k)
			dropped = append(dropped, k)
			continue
		}
		if v == nil {
			delete(m, k)
			continue
		}
		clean, ok := normalize(spec, v)
		if !ok {
			delete(m, k)
			dropped = append(dropped, k)
			continue
		}
		m[k] = clean
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}

func normalize(spec model.FieldSpec, v any) (any, bool) {
	switch spec.Kind {
	case model.KindNumber:
		switch t := v.(type) {
		case float64:
			return t, t >= 0
		case string:
			f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64)
			if err != nil || f < 0 {
				return nil, false
			}
			return f, true
		}
		return nil, false

	case model.KindBool:
		switch t := v.(type) {
		case bool:
			return t, true
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "ja", "yes":
				return true, true
			case "false", "nei", "no":
				return false, true
			}
		}
		return nil, false
	}

	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil, false
	}
	if len(spec.Enum) == 0 {
		return s, true
	}
	s = strings.ToLower(s)
	for _, e := range spec.Enum {
		if s == e {
			return s, true
		}
	}
	return nil, false
}
