package descriptor

import "strings"

// ExternalFormat names a peer ecosystem's descriptor shape that
// ToExternal/FromExternal can map to/from. Only "agent-card" is defined.
type ExternalFormat string

// AgentCard is the only supported ExternalFormat.
const AgentCard ExternalFormat = "agent-card"

// ToExternal maps d into the given external format's shape, returned as a
// generic map so callers can marshal it without this package knowing the
// external format's Go types.
func ToExternal(d *AgentDescriptor, format ExternalFormat) (map[string]any, error) {
	if format != AgentCard {
		return nil, unsupportedFormat(format)
	}

	card := map[string]any{
		"name": d.Name,
	}
	if d.Description != "" {
		card["description"] = d.Description
	}
	if d.URL != "" {
		card["url"] = d.URL
	}
	if d.Provider != nil && d.Provider.Organization != "" {
		card["provider"] = map[string]any{"organization": d.Provider.Organization}
	}

	skills := make([]any, len(d.Capabilities))
	for i, c := range d.Capabilities {
		skill := map[string]any{"id": c.Name, "name": c.Name}
		desc := c.Description
		if len(c.Tags) > 0 {
			desc = strings.TrimSpace(desc + " [" + strings.Join(c.Tags, ", ") + "]")
		}
		if desc != "" {
			skill["description"] = desc
		}
		skills[i] = skill
	}
	card["skills"] = skills

	if d.Authentication != nil {
		schemes := make([]any, len(d.Authentication.Schemes))
		for i, s := range d.Authentication.Schemes {
			schemes[i] = string(s)
		}
		card["authentication"] = map[string]any{"schemes": schemes}
	}

	return card, nil
}

// FromExternal reconstructs an AgentDescriptor from an external shape.
// The mapping is lossy: round-tripping through agent-card loses
// Capability.InputSchema/OutputSchema, IsDeterministic,
// ExpectedOutputVariability, ContentTypes, ResponseLatency, and Streaming
// (synthesized with conservative defaults below).
func FromExternal(data map[string]any, format ExternalFormat) (*AgentDescriptor, error) {
	if format != AgentCard {
		return nil, unsupportedFormat(format)
	}

	d := &AgentDescriptor{
		Name:    asString(data["name"]),
		Version: "0.0.0", // agent-card has no version field; synthesize a default
	}
	d.Description = asString(data["description"])
	d.URL = asString(data["url"])

	if prov, ok := data["provider"].(map[string]any); ok {
		d.Provider = &Provider{Organization: asString(prov["organization"])}
	}

	if rawSkills, ok := data["skills"].([]any); ok {
		for _, rs := range rawSkills {
			skill, ok := rs.(map[string]any)
			if !ok {
				continue
			}
			name := asString(skill["name"])
			if name == "" {
				name = asString(skill["id"])
			}
			d.Capabilities = append(d.Capabilities, Capability{
				Name:                      name,
				Description:               asString(skill["description"]),
				ExpectedOutputVariability: VariabilityMedium, // no external signal, conservative default
				ResponseLatency:           LatencyMedium,
			})
			d.Skills = append(d.Skills, Skill{
				ID:          asString(skill["id"]),
				Name:        name,
				Description: asString(skill["description"]),
			})
		}
	}

	if auth, ok := data["authentication"].(map[string]any); ok {
		if rawSchemes, ok := auth["schemes"].([]any); ok {
			a := &Authentication{}
			for _, rs := range rawSchemes {
				a.Schemes = append(a.Schemes, AuthScheme(asString(rs)))
			}
			d.Authentication = a
		}
	}

	return d, nil
}

// IsFormatCompatible reports whether d can be mapped to format, i.e.
// whether ToExternal succeeds. It does not report data loss: the
// agent-card mapping is always lossy.
func IsFormatCompatible(d *AgentDescriptor, format ExternalFormat) bool {
	_, err := ToExternal(d, format)
	return err == nil
}

func unsupportedFormat(format ExternalFormat) error {
	return &unsupportedFormatError{format: format}
}

type unsupportedFormatError struct{ format ExternalFormat }

func (e *unsupportedFormatError) Error() string {
	return "descriptor: unsupported external format " + string(e.format)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
