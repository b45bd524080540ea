package descriptor

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationIssue is one rule violation, addressed by a JSON-pointer path
// and a stable code.
type ValidationIssue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Errors []ValidationIssue  `json:"errors"`
}

var semverLike = regexp.MustCompile(`^\d+(\.\d+){0,2}([-+][0-9A-Za-z.-]+)?$`)

var schemeForTransport = map[string]string{
	"https":  "https",
	"wss":    "wss",
	"ws":     "ws",
	"http":   "http",
	"grpc":   "grpc",
	"matrix": "matrix",
	"local":  "local",
	"unix":   "unix",
}

// Validate enforces V1-V9 against d and returns every violation found (it
// does not stop at the first one).
func Validate(d *AgentDescriptor) ValidationResult {
	var errs []ValidationIssue
	add := func(path, code, msg string) {
		errs = append(errs, ValidationIssue{Path: path, Code: code, Message: msg})
	}

	// V1
	if strings.TrimSpace(d.Name) == "" {
		add("/name", "V1", "name is required and must not be empty")
	}

	// V2
	if strings.TrimSpace(string(d.Version)) == "" {
		add("/version", "V2", "version is required")
	}

	// V3
	if len(d.Capabilities) == 0 {
		add("/capabilities", "V3", "capabilities must be present and non-empty")
	}

	// V4
	seenCaps := make(map[string]int)
	for i, c := range d.Capabilities {
		path := fmt.Sprintf("/capabilities/%d", i)
		if strings.TrimSpace(c.Name) == "" {
			add(path+"/name", "V4", "capability name must not be empty")
			continue
		}
		key := c.Key()
		if prev, dup := seenCaps[key]; dup {
			add(path+"/name", "V4", fmt.Sprintf("capability %q duplicates capability at index %d", key, prev))
		}
		seenCaps[key] = i

		// V5 (capability-scoped enums)
		if c.ExpectedOutputVariability != "" && !validVariability[c.ExpectedOutputVariability] {
			add(path+"/expected_output_variability", "V5", "invalid expected_output_variability value")
		}
		if c.ResponseLatency != "" && !validLatency[c.ResponseLatency] {
			add(path+"/response_latency", "V5", "invalid response_latency value")
		}
	}

	// V5 (descriptor-scoped enums)
	if d.InteractionModel != "" && !validInteractionModels[d.InteractionModel] {
		add("/interaction_model", "V5", "invalid interaction_model value")
	}
	if d.Orchestration != "" && !validOrchestrations[d.Orchestration] {
		add("/orchestration", "V5", "invalid orchestration value")
	}
	if d.Status != "" && !validStatuses[d.Status] {
		add("/status", "V5", "invalid status value")
	}

	// V6
	i := 0
	for tag, endpoint := range d.Endpoints {
		path := fmt.Sprintf("/endpoints/%s", tag)
		wantScheme, known := schemeForTransport[tag]
		if !known {
			i++
			continue
		}
		if !strings.HasPrefix(endpoint, wantScheme+"://") {
			add(path, "V6", fmt.Sprintf("endpoint for %q must be an absolute %s:// URI", tag, wantScheme))
		}
		i++
	}

	// V7
	for v := range d.SupportedVersions {
		if !semverLike.MatchString(v) {
			add(fmt.Sprintf("/supported_versions/%s", v), "V7", "supported_versions key must look like a semantic version")
		}
	}

	// V8
	if d.Authentication != nil {
		for i, s := range d.Authentication.Schemes {
			if !validAuthSchemes[s] {
				add(fmt.Sprintf("/authentication/schemes/%d", i), "V8", "invalid authentication scheme")
			}
		}
	}

	// V9
	seenSkills := make(map[string]int)
	for i, s := range d.Skills {
		path := fmt.Sprintf("/skills/%d/id", i)
		if prev, dup := seenSkills[s.ID]; dup {
			add(path, "V9", fmt.Sprintf("skill id %q duplicates skill at index %d", s.ID, prev))
		}
		seenSkills[s.ID] = i
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
