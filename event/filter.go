package event

import "strings"

// CustomMode controls which custom:<name> events a Filter allows.
type CustomMode string

// Custom event modes.
const (
	CustomModeNone     CustomMode = "none"
	CustomModeAll      CustomMode = "all"
	CustomModeExplicit CustomMode = "explicit"
)

// Filter is a declarative emit policy. The four mandatory types (started,
// complete, error, cancelled) are always allowed and cannot be configured
// out; everything else is gated by the configurable set and custom mode.
type Filter struct {
	allowed         map[Type]struct{}
	customMode      CustomMode
	explicitCustoms map[string]struct{}
}

var mandatoryTypes = map[Type]struct{}{
	TypeStarted:   {},
	TypeComplete:  {},
	TypeError:     {},
	TypeCancelled: {},
}

// IsAllowed reports whether an event of type t should be emitted under
// this filter. Mandatory types are always allowed; custom types are gated
// by CustomMode; everything else is gated by the configurable set.
func (f *Filter) IsAllowed(t Type) bool {
	if _, ok := mandatoryTypes[t]; ok {
		return true
	}
	if t.IsCustom() {
		switch f.customMode {
		case CustomModeAll:
			return true
		case CustomModeExplicit:
			_, ok := f.explicitCustoms[t.CustomName()]
			return ok
		default:
			return false
		}
	}
	_, ok := f.allowed[t]
	return ok
}

// Allowed returns the set of event types this filter allows, including the
// four mandatory types. Custom types are represented as "custom:*" if the
// mode is "all", or as individual "custom:<name>" entries if explicit.
func (f *Filter) Allowed() map[Type]struct{} {
	out := make(map[Type]struct{}, len(f.allowed)+len(mandatoryTypes)+1)
	for t := range mandatoryTypes {
		out[t] = struct{}{}
	}
	for t := range f.allowed {
		out[t] = struct{}{}
	}
	switch f.customMode {
	case CustomModeAll:
		out["custom:*"] = struct{}{}
	case CustomModeExplicit:
		for name := range f.explicitCustoms {
			out[CustomType(name)] = struct{}{}
		}
	}
	return out
}

func newFilter(allowed []Type, customMode CustomMode, explicitCustoms []string) *Filter {
	f := &Filter{
		allowed:         make(map[Type]struct{}, len(allowed)),
		customMode:      customMode,
		explicitCustoms: make(map[string]struct{}, len(explicitCustoms)),
	}
	for _, t := range allowed {
		f.allowed[t] = struct{}{}
	}
	for _, name := range explicitCustoms {
		f.explicitCustoms[name] = struct{}{}
	}
	return f
}

// Minimal returns the "minimal" preset: only the mandatory types.
func Minimal() *Filter {
	return newFilter(nil, CustomModeNone, nil)
}

// Chat returns the "chat" preset: token, step, heartbeat plus mandatory.
func Chat() *Filter {
	return newFilter([]Type{TypeToken, TypeStep, TypeHeartbeat}, CustomModeNone, nil)
}

// DebugAll returns the "debug"/"all" preset: token, step, progress,
// checkpoint, heartbeat, plus every custom event, plus mandatory.
func DebugAll() *Filter {
	return newFilter(
		[]Type{TypeToken, TypeStep, TypeProgress, TypeCheckpoint, TypeHeartbeat},
		CustomModeAll,
		nil,
	)
}

// Preset resolves a preset name ("minimal", "chat", "debug", "all") to a
// Filter. It returns false if name is not a recognized preset.
func Preset(name string) (*Filter, bool) {
	switch strings.ToLower(name) {
	case "minimal":
		return Minimal(), true
	case "chat":
		return Chat(), true
	case "debug", "all":
		return DebugAll(), true
	default:
		return nil, false
	}
}

// ParseExplicitList builds a Filter from a literal list of allowed entries,
// as used by the events.allowed configuration option when it does not name
// a preset. Bare type names ("token", "progress", ...) enable that type;
// "custom" (bare) enables every custom event; "custom:<name>" enables only
// that named custom event.
func ParseExplicitList(entries []string) *Filter {
	var allowed []Type
	customMode := CustomModeNone
	var explicitCustoms []string
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		switch {
		case e == "":
			continue
		case e == "custom":
			customMode = CustomModeAll
		case strings.HasPrefix(e, customPrefix):
			if customMode != CustomModeAll {
				customMode = CustomModeExplicit
			}
			explicitCustoms = append(explicitCustoms, strings.TrimPrefix(e, customPrefix))
		default:
			allowed = append(allowed, Type(e))
		}
	}
	return newFilter(allowed, customMode, explicitCustoms)
}

// FromConfig resolves the events.allowed / events.custom_mode configuration
// pair into a Filter. allowed is either a preset name or a comma-separated
// explicit list; a non-empty customMode overrides the resolved custom
// handling in either case.
func FromConfig(allowed string, customMode CustomMode) *Filter {
	if f, ok := Preset(allowed); ok {
		if customMode != "" {
			f.customMode = customMode
		}
		return f
	}
	entries := strings.Split(allowed, ",")
	f := ParseExplicitList(entries)
	if customMode != "" {
		f.customMode = customMode
	}
	return f
}
