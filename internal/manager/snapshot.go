package manager

import (
	"github.com/halfdome/lightstated/internal/platform"
)

// Attribute keys mirrored between the host's light state and turn_on payloads.
const (
	attrBrightness = "brightness"
	attrColorTemp  = "color_temp"
	attrHSColor    = "hs_color"
	attrRGBColor   = "rgb_color"
	attrXYColor    = "xy_color"
	attrEffect     = "effect"
	attrEntityID   = "entity_id"
	attrTransition = "transition"
)

// Snapshot is the captured visual state of one light. Only attributes present
// on the source entity at capture time are set; absent attributes stay nil and
// are never sent back to the host on restore.
type Snapshot struct {
	State      string    `json:"state"`
	Brightness *float64  `json:"brightness,omitempty"`
	ColorTemp  *float64  `json:"color_temp,omitempty"`
	HSColor    []float64 `json:"hs_color,omitempty"`
	RGBColor   []float64 `json:"rgb_color,omitempty"`
	XYColor    []float64 `json:"xy_color,omitempty"`
	Effect     *string   `json:"effect,omitempty"`
}

// Capture builds a Snapshot from the entity's currently reported state.
func Capture(st *platform.State) Snapshot {
	snap := Snapshot{State: st.State}

	if v, ok := numberAttr(st.Attributes, attrBrightness); ok {
		snap.Brightness = &v
	}
	if v, ok := numberAttr(st.Attributes, attrColorTemp); ok {
		snap.ColorTemp = &v
	}
	if v, ok := tupleAttr(st.Attributes, attrHSColor); ok {
		snap.HSColor = v
	}
	if v, ok := tupleAttr(st.Attributes, attrRGBColor); ok {
		snap.RGBColor = v
	}
	if v, ok := tupleAttr(st.Attributes, attrXYColor); ok {
		snap.XYColor = v
	}
	if v, ok := st.Attributes[attrEffect].(string); ok {
		snap.Effect = &v
	}

	return snap
}

// IsOn reports whether the snapshot was captured while the light was on.
func (s Snapshot) IsOn() bool {
	return s.State == platform.StateOn
}

// ServiceData builds the light.turn_on payload for this snapshot. Only
// captured attributes are included; everything else is left to the host's
// default turn-on behavior.
func (s Snapshot) ServiceData(entityID string, transition float64) map[string]any {
	data := map[string]any{
		attrEntityID:   entityID,
		attrTransition: transition,
	}

	if s.Brightness != nil {
		data[attrBrightness] = *s.Brightness
	}
	if s.ColorTemp != nil {
		data[attrColorTemp] = *s.ColorTemp
	}
	if s.HSColor != nil {
		data[attrHSColor] = s.HSColor
	}
	if s.RGBColor != nil {
		data[attrRGBColor] = s.RGBColor
	}
	if s.XYColor != nil {
		data[attrXYColor] = s.XYColor
	}
	if s.Effect != nil {
		data[attrEffect] = *s.Effect
	}

	return data
}

// numberAttr extracts a numeric attribute. Host payloads decode numbers as
// float64, but int is accepted as well.
func numberAttr(attrs map[string]any, key string) (float64, bool) {
	switch v := attrs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// tupleAttr extracts a numeric tuple attribute (color coordinates).
func tupleAttr(attrs map[string]any, key string) ([]float64, bool) {
	switch v := attrs[key].(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out, true
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			default:
				return nil, false
			}
		}
		return out, true
	default:
		return nil, false
	}
}
