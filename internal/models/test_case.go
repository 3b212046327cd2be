package models

import "fmt"

// Step actions understood by the scripted flow
const (
	StepNavigate   = "navigate"
	StepWait       = "wait"
	StepFill       = "fill"
	StepClick      = "click"
	StepEvaluate   = "evaluate"
	StepScreenshot = "screenshot"
	StepSleep      = "sleep"
)

// TestCase is one independent unit of scripted work producing one artifact bundle
type TestCase struct {
	ID          string `toml:"id" json:"id" validate:"required"`
	Environment string `toml:"environment" json:"environment" validate:"required"`
	PaymentType string `toml:"payment_type" json:"payment_type" validate:"required"`
	URL         string `toml:"url" json:"url" validate:"required,url"`
	Description string `toml:"description" json:"description,omitempty"`
	Record      *bool  `toml:"record" json:"record,omitempty"` // Overrides runner.record_video when set
	Steps       []Step `toml:"steps" json:"steps" validate:"dive"`
}

// Step is one action of a test case's scripted flow
type Step struct {
	Action   string `toml:"action" json:"action" validate:"required,oneof=navigate wait fill click evaluate screenshot sleep"`
	Selector string `toml:"selector" json:"selector,omitempty"`
	Value    string `toml:"value" json:"value,omitempty"`
	URL      string `toml:"url" json:"url,omitempty"`
	Name     string `toml:"name" json:"name,omitempty"`         // Artifact name for screenshot steps
	Timeout  string `toml:"timeout" json:"timeout,omitempty"`   // Per-step timeout, defaults by action
	Retries  int    `toml:"retries" json:"retries,omitempty"`   // Extra attempts on driver errors
	Critical bool   `toml:"critical" json:"critical,omitempty"` // Screenshot steps: use critical backoff and emergency capture
	Expect   string `toml:"expect" json:"expect,omitempty"`     // Evaluate steps: expected string result
}

// Label is a short human-readable description for logs
func (s Step) Label() string {
	switch {
	case s.Selector != "":
		return fmt.Sprintf("%s %s", s.Action, s.Selector)
	case s.URL != "":
		return fmt.Sprintf("%s %s", s.Action, s.URL)
	case s.Name != "":
		return fmt.Sprintf("%s %s", s.Action, s.Name)
	default:
		return s.Action
	}
}

// Catalogue is the on-disk list of test cases (cases.toml)
type Catalogue struct {
	Variables map[string]string `toml:"variables"` // {name} substitutions; PAYRUN_VAR_* overrides
	TestCases []TestCase        `toml:"test_case" validate:"dive"`
}
