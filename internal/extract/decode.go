package extract

import (
	"bytes"
	"encoding/json"
	"log/slog"

	"smider/broker-service/internal/model"
)

// Decode turns the extraction service's raw output into a Payload. It fails
// closed: anything that cannot be parsed as a JSON object yields an empty
// payload (every field missing) rather than an error, so intake simply asks
// again. Individual malformed fields are dropped and reported.
func Decode(raw []byte) (*model.Payload, []string) {
	raw = bytes.TrimSpace(stripCodeFence(raw))
	if len(raw) == 0 {
		return &model.Payload{}, nil
	}

	cleaned, dropped, err := Sanitize(raw)
	if err != nil {
		slog.Warn("extract.decode.malformed", "error", err, "bytes", len(raw))
		return &model.Payload{}, nil
	}
	if err := Validate(cleaned); err != nil {
		slog.Warn("extract.decode.schema_validation_failed", "error", err)
		return &model.Payload{}, dropped
	}

	var p model.Payload
	if err := json.Unmarshal(cleaned, &p); err != nil {
		slog.Warn("extract.decode.unmarshal_failed", "error", err)
		return &model.Payload{}, dropped
	}
	if len(dropped) > 0 {
		slog.Debug("extract.decode.dropped_fields", "fields", dropped)
	}
	return &p, dropped
}

// stripCodeFence removes a surrounding ``` or ```json fence some models add
// despite being asked for bare JSON.
func stripCodeFence(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	b = bytes.TrimPrefix(b, []byte("```"))
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return bytes.TrimSuffix(bytes.TrimSpace(b), []byte("```"))
}
