package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/payrun/internal/common"
	"github.com/ternarybob/payrun/internal/models"
)

// LoadCatalogue reads and validates a cases.toml test case catalogue
func LoadCatalogue(path string, logger arbor.ILogger) (*models.Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalogue %s: %w", path, err)
	}
	return ParseCatalogue(data, logger)
}

// ParseCatalogue decodes catalogue TOML, resolves {name} variable references
// and validates the result
func ParseCatalogue(data []byte, logger arbor.ILogger) (*models.Catalogue, error) {
	var catalogue models.Catalogue
	if err := toml.Unmarshal(data, &catalogue); err != nil {
		return nil, fmt.Errorf("failed to parse catalogue: %w", err)
	}

	// References resolve before validation so "{base}/pay" validates as a URL
	vars := common.MergeVariables(catalogue.Variables, common.VariablesFromEnv())
	for i := range catalogue.TestCases {
		if err := common.ReplaceInStruct(&catalogue.TestCases[i], vars, logger); err != nil {
			return nil, fmt.Errorf("failed to resolve variables in %s: %w", catalogue.TestCases[i].ID, err)
		}
	}

	validate := validator.New()
	if err := validate.Struct(&catalogue); err != nil {
		return nil, fmt.Errorf("invalid catalogue: %w", err)
	}

	// Ids name directories and log channels, so they must be unique
	seen := make(map[string]bool, len(catalogue.TestCases))
	for _, tc := range catalogue.TestCases {
		if seen[tc.ID] {
			return nil, fmt.Errorf("invalid catalogue: duplicate test case id %q", tc.ID)
		}
		seen[tc.ID] = true
	}

	return &catalogue, nil
}

// Select returns the test cases whose id is in ids, in catalogue order.
// An empty ids selects everything.
func Select(catalogue *models.Catalogue, ids []string) ([]models.TestCase, error) {
	if len(ids) == 0 {
		return catalogue.TestCases, nil
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = true
		}
	}

	var selected []models.TestCase
	for _, tc := range catalogue.TestCases {
		if wanted[tc.ID] {
			selected = append(selected, tc)
			delete(wanted, tc.ID)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for id := range wanted {
			missing = append(missing, id)
		}
		return nil, fmt.Errorf("unknown test case ids: %s", strings.Join(missing, ", "))
	}
	return selected, nil
}
