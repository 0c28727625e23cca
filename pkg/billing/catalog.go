package billing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog maps internal plan keys to gateway price identifiers. It is loaded
// once at startup from a YAML file so price rotation never requires a code
// change.
type Catalog struct {
	// RetentionPrices are the subscriber-facing gallery retention plans.
	RetentionPrices map[string]string `yaml:"retention_prices"`

	// ProviderPlatformPrice is the single platform-subscription price every
	// provider pays to stay listed.
	ProviderPlatformPrice string `yaml:"provider_platform_price"`
}

// LoadCatalog reads and validates the price catalog.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnreadable, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnreadable, err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate catches configuration mistakes at startup instead of at the first
// checkout attempt.
func (c *Catalog) Validate() error {
	if len(c.RetentionPrices) == 0 {
		return fmt.Errorf("%w: no retention prices configured", ErrInvalidCatalog)
	}
	for key, priceID := range c.RetentionPrices {
		if !validPriceID(priceID) {
			return fmt.Errorf("%w: retention plan %q has invalid price id %q", ErrInvalidCatalog, key, priceID)
		}
	}
	if !validPriceID(c.ProviderPlatformPrice) {
		return fmt.Errorf("%w: invalid provider platform price id %q", ErrInvalidCatalog, c.ProviderPlatformPrice)
	}
	return nil
}

// RetentionPrice resolves a plan key to its gateway price id.
func (c *Catalog) RetentionPrice(planKey string) (string, error) {
	priceID, ok := c.RetentionPrices[planKey]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrPlanNotFound, planKey)
	}
	return priceID, nil
}

func validPriceID(id string) bool {
	return strings.HasPrefix(id, "pri_") && len(id) > len("pri_")
}
