package generate

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/gaspardpetit/genserve/internal/model"
)

// Defaults applied when a request omits the corresponding field.
const (
	DefaultMaxLength   = 150
	DefaultTemperature = 0.7
)

// ErrMissingPrompt is returned when a request has no prompt.
var ErrMissingPrompt = errors.New("missing prompt")

// Request is the body of a generate call. Pointer fields distinguish an absent
// key from a zero value: only absent keys take the default, present values are
// passed to the model as given. An explicit null for max_length or temperature
// is passed on as unset rather than defaulted. A null prompt counts as missing.
type Request struct {
	Prompt      *string  `json:"prompt"`
	MaxLength   *int     `json:"max_length,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	NullMaxLength   bool `json:"-"`
	NullTemperature bool `json:"-"`
}

func (r *Request) UnmarshalJSON(b []byte) error {
	type plain Request
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Request(p)
	r.NullMaxLength = isNull(raw, "max_length")
	r.NullTemperature = isNull(raw, "temperature")
	return nil
}

func isNull(raw map[string]json.RawMessage, key string) bool {
	v, ok := raw[key]
	return ok && bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// Response is the body returned to the caller.
type Response struct {
	Text string `json:"text"`
}

// Params resolves the sampling parameters with defaults.
func (r Request) Params() model.Params {
	p := model.Params{MaxLength: DefaultMaxLength, Temperature: DefaultTemperature}
	switch {
	case r.MaxLength != nil:
		p.MaxLength = *r.MaxLength
	case r.NullMaxLength:
		p.MaxLength, p.UnsetMaxLength = 0, true
	}
	switch {
	case r.Temperature != nil:
		p.Temperature = *r.Temperature
	case r.NullTemperature:
		p.Temperature, p.UnsetTemperature = 0, true
	}
	return p
}
