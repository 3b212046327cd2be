package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func testVariables() map[string]string {
	return map[string]string{
		"checkout_base": "https://checkout.example.test",
		"visa_card":     "4111111111111111",
		"expiry":        "12/30",
		"card-holder":   "A Tester",
	}
}

func TestReplaceKeyReferences_Simple(t *testing.T) {
	result := ReplaceKeyReferences("{checkout_base}/pay", testVariables(), arbor.NewNoOpLogger())
	assert.Equal(t, "https://checkout.example.test/pay", result)
}

func TestReplaceKeyReferences_Multiple(t *testing.T) {
	result := ReplaceKeyReferences("{visa_card} {expiry} {card-holder}", testVariables(), arbor.NewNoOpLogger())
	assert.Equal(t, "4111111111111111 12/30 A Tester", result)
}

func TestReplaceKeyReferences_MissingKeyLeftUnchanged(t *testing.T) {
	result := ReplaceKeyReferences("cvv={cvv}", testVariables(), arbor.NewNoOpLogger())
	assert.Equal(t, "cvv={cvv}", result)
}

func TestReplaceKeyReferences_NoReferences(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	assert.Equal(t, "", ReplaceKeyReferences("", testVariables(), logger))
	assert.Equal(t, "#card-number", ReplaceKeyReferences("#card-number", testVariables(), logger))
	// Script bodies with spaced braces are not references
	assert.Equal(t, "(() => { return 1 })()", ReplaceKeyReferences("(() => { return 1 })()", testVariables(), logger))
}

func TestReplaceInStruct(t *testing.T) {
	type step struct {
		Selector string
		Value    string
	}
	type testCase struct {
		URL      string
		Steps    []step
		Tags     []string
		Headers  map[string]string
		Optional *step
		Retries  int
		internal string
	}

	tc := &testCase{
		URL:      "{checkout_base}/pay",
		Steps:    []step{{Selector: "#card", Value: "{visa_card}"}, {Selector: "#expiry", Value: "{expiry}"}},
		Tags:     []string{"{card-holder}"},
		Headers:  map[string]string{"X-Card": "{visa_card}"},
		Optional: &step{Value: "{expiry}"},
		Retries:  2,
		internal: "{visa_card}",
	}

	require.NoError(t, ReplaceInStruct(tc, testVariables(), arbor.NewNoOpLogger()))

	assert.Equal(t, "https://checkout.example.test/pay", tc.URL)
	assert.Equal(t, "4111111111111111", tc.Steps[0].Value)
	assert.Equal(t, "#card", tc.Steps[0].Selector)
	assert.Equal(t, "12/30", tc.Steps[1].Value)
	assert.Equal(t, []string{"A Tester"}, tc.Tags)
	assert.Equal(t, "4111111111111111", tc.Headers["X-Card"])
	assert.Equal(t, "12/30", tc.Optional.Value)
	assert.Equal(t, 2, tc.Retries)
	assert.Equal(t, "{visa_card}", tc.internal, "unexported fields are untouched")
}

func TestReplaceInStructRequiresStructPointer(t *testing.T) {
	logger := arbor.NewNoOpLogger()
	assert.Error(t, ReplaceInStruct(struct{}{}, nil, logger))
	s := "x"
	assert.Error(t, ReplaceInStruct(&s, nil, logger))
}

func TestVariablesFromEnv(t *testing.T) {
	t.Setenv("PAYRUN_VAR_VISA_CARD", "4000000000000002")
	t.Setenv("PAYRUN_VAR_", "ignored")

	vars := VariablesFromEnv()
	assert.Equal(t, "4000000000000002", vars["visa_card"])
	_, ok := vars[""]
	assert.False(t, ok)
}

func TestMergeVariables(t *testing.T) {
	merged := MergeVariables(
		map[string]string{"visa_card": "file", "expiry": "12/30"},
		map[string]string{"visa_card": "env"},
	)
	assert.Equal(t, map[string]string{"visa_card": "env", "expiry": "12/30"}, merged)
}
