package coprocessor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTimeout governs the coprocessor HTTP call when Config.Timeout is
// left unset.
const DefaultTimeout = 2 * time.Second

// FieldSet is the per-pipeline-point send-filter: which parts of the
// in-flight message are projected into the outbound envelope. The zero
// value enables nothing, which is also how the factory decides a layer is
// unnecessary and skips building it.
type FieldSet struct {
	Headers     bool `json:"headers"`
	Context     bool `json:"context"`
	Body        bool `json:"body"`
	SDL         bool `json:"sdl"`
	Path        bool `json:"path"`
	Method      bool `json:"method"`
	URI         bool `json:"uri"`
	ServiceName bool `json:"service_name"`
	StatusCode  bool `json:"status_code"`
}

// Enabled reports whether any flag in the set is on, i.e. this send-filter
// is non-default and its layer should be built.
func (f FieldSet) Enabled() bool {
	return f.Headers || f.Context || f.Body || f.SDL || f.Path ||
		f.Method || f.URI || f.ServiceName || f.StatusCode
}

// Config is the coprocessor section of the router's configuration file. It
// decodes with unknown keys rejected (spec: "Unknown keys must cause a
// configuration error"), independent of the leniency of the surrounding
// config.Config decode.
type Config struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout"`

	RouterRequest    FieldSet `json:"router.request"`
	RouterResponse   FieldSet `json:"router.response"`
	SubgraphRequest  FieldSet `json:"subgraph.all.request"`
	SubgraphResponse FieldSet `json:"subgraph.all.response"`

	TimeoutDuration time.Duration `json:"-"`
}

// Enabled reports whether a coprocessor is configured at all.
func (c *Config) Enabled() bool {
	return c != nil && c.URL != ""
}

// Validate parses the human-readable timeout and checks the required URL,
// the way config.go's Config.Load parses its own duration fields.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("coprocessor: url is required")
	}
	if c.Timeout == "" {
		c.TimeoutDuration = DefaultTimeout
		return nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("coprocessor: invalid timeout: %w", err)
	}
	c.TimeoutDuration = d
	return nil
}

// UnmarshalJSON rejects unknown keys by decoding into an identically-shaped
// auxiliary type through a strict decoder, avoiding the infinite recursion
// a method on Config itself would cause.
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	var aux alias
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&aux); err != nil {
		return fmt.Errorf("coprocessor: %w", err)
	}
	*c = Config(aux)
	return nil
}
