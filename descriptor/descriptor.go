// Package descriptor implements the self-describing agent.json document:
// its typed data model, schema validator, JSON/JSON-LD codec, and a
// compatibility mapper to the "agent-card" external shape.
package descriptor

import (
	"encoding/json"
	"fmt"
)

// InteractionModel is a closed enum.
type InteractionModel string

const (
	Agent2Agent  InteractionModel = "agent2agent"
	FIPAACL      InteractionModel = "fipa-acl"
	KQML         InteractionModel = "kqml"
	ContractNet  InteractionModel = "contract-net"
	Emergent     InteractionModel = "emergent"
)

var validInteractionModels = map[InteractionModel]bool{
	Agent2Agent: true, FIPAACL: true, KQML: true, ContractNet: true, Emergent: true,
}

// Orchestration is a closed enum.
type Orchestration string

const (
	Delegation  Orchestration = "delegation"
	Composition Orchestration = "composition"
	Choreography Orchestration = "choreography"
	Standalone  Orchestration = "standalone"
)

var validOrchestrations = map[Orchestration]bool{
	Delegation: true, Composition: true, Choreography: true, Standalone: true,
}

// AuthScheme is a closed enum.
type AuthScheme string

const (
	AuthNone   AuthScheme = "None"
	AuthBearer AuthScheme = "Bearer"
	AuthAPIKey AuthScheme = "ApiKey"
	AuthOAuth2 AuthScheme = "OAuth2"
	AuthJWT    AuthScheme = "JWT"
	AuthMTLS   AuthScheme = "mTLS"
)

var validAuthSchemes = map[AuthScheme]bool{
	AuthNone: true, AuthBearer: true, AuthAPIKey: true, AuthOAuth2: true, AuthJWT: true, AuthMTLS: true,
}

// Status is a closed enum.
type Status string

const (
	StatusActive       Status = "active"
	StatusDeprecated   Status = "deprecated"
	StatusExperimental Status = "experimental"
	StatusBeta         Status = "beta"
)

var validStatuses = map[Status]bool{
	StatusActive: true, StatusDeprecated: true, StatusExperimental: true, StatusBeta: true,
}

// Variability is a closed enum for Capability.ExpectedOutputVariability.
type Variability string

const (
	VariabilityNone   Variability = "none"
	VariabilityLow    Variability = "low"
	VariabilityMedium Variability = "medium"
	VariabilityHigh   Variability = "high"
)

var validVariability = map[Variability]bool{
	VariabilityNone: true, VariabilityLow: true, VariabilityMedium: true, VariabilityHigh: true,
}

// Latency is a closed enum for Capability.ResponseLatency.
type Latency string

const (
	LatencyLow    Latency = "low"
	LatencyMedium Latency = "medium"
	LatencyHigh   Latency = "high"
)

var validLatency = map[Latency]bool{LatencyLow: true, LatencyMedium: true, LatencyHigh: true}

// Version accepts either a JSON string or number on input and always
// marshals back out as a string.
type Version string

// UnmarshalJSON accepts a JSON string or a JSON number.
func (v *Version) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Version(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*v = Version(n.String())
		return nil
	}
	return fmt.Errorf("version: expected string or number, got %s", string(data))
}

// MarshalJSON always emits a string.
func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

// ContentTypes lists the media types a capability accepts/produces.
type ContentTypes struct {
	Input  []string `json:"input,omitempty"`
	Output []string `json:"output,omitempty"`
}

// Example is one documented invocation of a Capability.
type Example struct {
	Input       any    `json:"input"`
	Output      any    `json:"output"`
	Description string `json:"description,omitempty"`
}

// Capability describes one named behavior an agent advertises.
type Capability struct {
	Name                      string         `json:"name"`
	Version                   Version        `json:"version,omitempty"`
	Description               string         `json:"description,omitempty"`
	InputSchema               json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema              json.RawMessage `json:"output_schema,omitempty"`
	IsDeterministic           *bool          `json:"is_deterministic,omitempty"`
	ExpectedOutputVariability Variability    `json:"expected_output_variability,omitempty"`
	ContentTypes              *ContentTypes  `json:"content_types,omitempty"`
	RequiresContext           bool           `json:"requires_context,omitempty"`
	MemoryEnabled             bool           `json:"memory_enabled,omitempty"`
	ResponseLatency           Latency        `json:"response_latency,omitempty"`
	Streaming                 bool           `json:"streaming,omitempty"`
	Tags                      []string       `json:"tags,omitempty"`
	Deprecated                bool           `json:"deprecated,omitempty"`
	DeprecatedReason          string         `json:"deprecated_reason,omitempty"`
	Examples                  []Example      `json:"examples,omitempty"`
}

// Key returns the (name, version) identity tuple used for uniqueness (V4).
func (c Capability) Key() string {
	if c.Version == "" {
		return c.Name
	}
	return c.Name + "@" + string(c.Version)
}

// Provider is the nested organization/contact record.
type Provider struct {
	Organization string `json:"organization,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Skill is a lightweight capability summary, also the agent-card shape.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Authentication names the schemes an agent accepts plus opaque details.
type Authentication struct {
	Schemes []AuthScheme   `json:"schemes,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// AgentDescriptor is the typed agent.json document.
type AgentDescriptor struct {
	Name        string       `json:"name"`
	Version     Version      `json:"version"`
	Capabilities []Capability `json:"capabilities"`

	Description       string            `json:"description,omitempty"`
	URL               string            `json:"url,omitempty"`
	Provider          *Provider         `json:"provider,omitempty"`
	DocumentationURL  string            `json:"documentation_url,omitempty"`
	InteractionModel  InteractionModel  `json:"interaction_model,omitempty"`
	Orchestration     Orchestration     `json:"orchestration,omitempty"`
	EnvelopeSchemas   []string          `json:"envelope_schemas,omitempty"`
	SupportedVersions map[string]string `json:"supported_versions,omitempty"`
	Authentication    *Authentication   `json:"authentication,omitempty"`
	Skills            []Skill           `json:"skills,omitempty"`
	Endpoints         map[string]string `json:"endpoints,omitempty"`
	Status            Status            `json:"status,omitempty"`
	TermsOfService    string            `json:"terms_of_service,omitempty"`
	Privacy           string            `json:"privacy,omitempty"`
	Contact           string            `json:"contact,omitempty"`
	JSONLDContext     any               `json:"jsonld_context,omitempty"`
}

// CapabilityByName returns the first capability with the given name.
func (d *AgentDescriptor) CapabilityByName(name string) (Capability, bool) {
	for _, c := range d.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}
