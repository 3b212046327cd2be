package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/models"
)

const sampleCatalogue = `
[variables]
checkout_base = "https://checkout.example.test"
visa_card = "4111111111111111"

[[test_case]]
id = "TC-001"
environment = "staging"
payment_type = "card"
url = "{checkout_base}/pay"

  [[test_case.steps]]
  action = "fill"
  selector = "#card-number"
  value = "{visa_card}"

  [[test_case.steps]]
  action = "screenshot"
  name = "form-page-fill"

  [[test_case.steps]]
  action = "click"
  selector = "#pay"
  retries = 2

[[test_case]]
id = "TC-002"
environment = "staging"
payment_type = "wallet"
url = "https://checkout.example.test/wallet"
record = false
`

func TestLoadCatalogue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalogue), 0644))

	catalogue, err := LoadCatalogue(path, arbor.NewNoOpLogger())
	require.NoError(t, err)
	require.Len(t, catalogue.TestCases, 2)

	tc := catalogue.TestCases[0]
	assert.Equal(t, "TC-001", tc.ID)
	assert.Equal(t, "https://checkout.example.test/pay", tc.URL)
	require.Len(t, tc.Steps, 3)
	assert.Equal(t, models.StepFill, tc.Steps[0].Action)
	assert.Equal(t, "4111111111111111", tc.Steps[0].Value)
	assert.Equal(t, 2, tc.Steps[2].Retries)
	assert.Nil(t, tc.Record)

	require.NotNil(t, catalogue.TestCases[1].Record)
	assert.False(t, *catalogue.TestCases[1].Record)
}

func TestParseCatalogueValidation(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"missing url", `[[test_case]]
id = "TC-001"
environment = "staging"
payment_type = "card"`},
		{"unknown action", `[[test_case]]
id = "TC-001"
environment = "staging"
payment_type = "card"
url = "https://checkout.example.test"
[[test_case.steps]]
action = "hover"`},
		{"duplicate id", `[[test_case]]
id = "TC-001"
environment = "staging"
payment_type = "card"
url = "https://checkout.example.test"
[[test_case]]
id = "TC-001"
environment = "staging"
payment_type = "wallet"
url = "https://checkout.example.test"`},
		{"not toml", `[[test_case`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalogue([]byte(tt.toml), arbor.NewNoOpLogger())
			assert.Error(t, err)
		})
	}
}

func TestSelect(t *testing.T) {
	catalogue, err := ParseCatalogue([]byte(sampleCatalogue), arbor.NewNoOpLogger())
	require.NoError(t, err)

	all, err := Select(catalogue, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := Select(catalogue, []string{" TC-002 "})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "TC-002", some[0].ID)

	_, err = Select(catalogue, []string{"TC-404"})
	assert.ErrorContains(t, err, "TC-404")
}

func TestLoadCatalogueMissingFile(t *testing.T) {
	_, err := LoadCatalogue(filepath.Join(t.TempDir(), "missing.toml"), arbor.NewNoOpLogger())
	assert.Error(t, err)
}

func TestParseCatalogueEnvironmentVariablesOverride(t *testing.T) {
	t.Setenv("PAYRUN_VAR_VISA_CARD", "4000000000000002")

	catalogue, err := ParseCatalogue([]byte(sampleCatalogue), arbor.NewNoOpLogger())
	require.NoError(t, err)
	assert.Equal(t, "4000000000000002", catalogue.TestCases[0].Steps[0].Value)
}

func TestParseCatalogueUnresolvedURLFailsValidation(t *testing.T) {
	_, err := ParseCatalogue([]byte(`[[test_case]]
id = "TC-001"
environment = "staging"
payment_type = "card"
url = "{missing_base}/pay"`), arbor.NewNoOpLogger())
	assert.Error(t, err)
}
