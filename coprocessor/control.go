package coprocessor

import (
	"encoding/json"
	"fmt"
)

// Control is the tagged Continue/Break discriminator a coprocessor uses to
// tell the router whether to resume the pipeline or short-circuit it. On
// the wire it is `{"Continue": null}` or `{"Break": <status>}`; a Break with
// no status is treated as 200.
type Control struct {
	isBreak bool
	status  *uint16
}

// ContinueControl resumes the pipeline.
func ContinueControl() Control {
	return Control{}
}

// BreakControl short-circuits the pipeline. A nil status defers to 200 when
// converted via HTTPStatus.
func BreakControl(status *uint16) Control {
	return Control{isBreak: true, status: status}
}

// IsBreak reports whether the coprocessor asked to short-circuit.
func (c Control) IsBreak() bool { return c.isBreak }

// HTTPStatus converts a Break's status to an HTTP status code, defaulting to
// 200 when unspecified. It errors if the status falls outside the valid
// 100-599 range. Calling it on a Continue always yields 200, nil.
func (c Control) HTTPStatus() (int, error) {
	if !c.isBreak || c.status == nil {
		return 200, nil
	}
	status := int(*c.status)
	if status < 100 || status > 599 {
		return 0, fmt.Errorf("coprocessor: invalid break status %d", status)
	}
	return status, nil
}

type wireControl struct {
	Continue json.RawMessage `json:"Continue,omitempty"`
	Break    json.RawMessage `json:"Break,omitempty"`
}

// MarshalJSON encodes Control in the `{"Continue":null}` / `{"Break":N}`
// shape the coprocessor protocol expects. Continue always carries a literal
// JSON null, not an empty object, and a Break with no status encodes as
// `{"Break":null}` rather than omitting the key.
func (c Control) MarshalJSON() ([]byte, error) {
	if c.isBreak {
		status := json.RawMessage("null")
		if c.status != nil {
			b, err := json.Marshal(*c.status)
			if err != nil {
				return nil, err
			}
			status = b
		}
		return json.Marshal(wireControl{Break: status})
	}
	return json.Marshal(wireControl{Continue: json.RawMessage("null")})
}

// UnmarshalJSON decodes the `{"Continue":...}` / `{"Break":...}` wire shape.
// Exactly one of the two keys is expected; an absent or empty object is
// treated as Continue for leniency on the inbound side.
func (c *Control) UnmarshalJSON(data []byte) error {
	var wire wireControl
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("coprocessor: invalid control value: %w", err)
	}
	if wire.Break != nil {
		if string(wire.Break) == "null" {
			*c = BreakControl(nil)
			return nil
		}
		var status uint16
		if err := json.Unmarshal(wire.Break, &status); err != nil {
			return fmt.Errorf("coprocessor: invalid break status: %w", err)
		}
		*c = BreakControl(&status)
		return nil
	}
	*c = ContinueControl()
	return nil
}
