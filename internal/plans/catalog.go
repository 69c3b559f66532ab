/**
 * @description
 * This package holds the counseling plan catalog: the static table mapping a
 * plan identifier to its display name, price and granted generation units.
 * The catalog is immutable after process start and is passed to the components
 * that need it as an explicit dependency, so tests can substitute fixtures.
 *
 * A plan with UnitPrice == 0 requires no gateway interaction and is activated
 * through the self-service path; the paid purchase path rejects it.
 */

package plans

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/techwave-ventures/payment-service/internal/domain"
)

// Definition describes a single purchasable counseling plan.
type Definition struct {
	ID string `json:"id"`
	// DisplayName is what checkout and receipts show to the user.
	DisplayName string `json:"name"`
	// UnitPrice is the plan price in paise. Zero means self-service.
	UnitPrice int64 `json:"amount"`
	// GrantedUsageUnits is how many preference-list generations the plan
	// grants, or domain.UnlimitedUsage for unbounded access.
	GrantedUsageUnits int `json:"college_list_generator_limit"`
}

// SelfService reports whether the plan is activated without the gateway.
func (d Definition) SelfService() bool {
	return d.UnitPrice == 0
}

// Catalog is a read-only plan lookup table.
type Catalog struct {
	plans map[string]Definition
}

// ErrPlanNotFound is returned by Lookup for unknown plan identifiers.
type ErrPlanNotFound struct {
	PlanID string
}

func (e *ErrPlanNotFound) Error() string {
	return fmt.Sprintf("plan %q not found in catalog", e.PlanID)
}

// NewCatalog builds a catalog from explicit definitions. Definitions with an
// empty ID are skipped.
func NewCatalog(defs []Definition) *Catalog {
	plans := make(map[string]Definition, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			continue
		}
		plans[def.ID] = def
	}
	return &Catalog{plans: plans}
}

// NewDefaultCatalog returns the production plan table. The values mirror the
// pricing page: the free tier grants 3 generations, paid tiers add theirs on
// top of whatever the user already holds.
func NewDefaultCatalog() *Catalog {
	return NewCatalog([]Definition{
		{ID: "free", DisplayName: "Free", UnitPrice: 0, GrantedUsageUnits: 3},
		{ID: "starter", DisplayName: "Starter Pack", UnitPrice: 0, GrantedUsageUnits: 3},
		{ID: "pro", DisplayName: "Guidance Pro", UnitPrice: 79900, GrantedUsageUnits: 25},
		{ID: "accelerator", DisplayName: "Admission Accelerator", UnitPrice: 159900, GrantedUsageUnits: domain.UnlimitedUsage},
	})
}

// LoadCatalog reads plan definitions from a JSON file. The file is a plain
// array of Definition objects. It exists so deployments can override the
// built-in table without a rebuild; a missing path falls back to defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewDefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog file: %w", err)
	}
	var defs []Definition
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("decode plan catalog file: %w", err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("plan catalog file %s contains no plans", path)
	}
	return NewCatalog(defs), nil
}

// Lookup resolves a plan identifier to its definition.
func (c *Catalog) Lookup(planID string) (Definition, error) {
	def, ok := c.plans[planID]
	if !ok {
		return Definition{}, &ErrPlanNotFound{PlanID: planID}
	}
	return def, nil
}

// Len returns the number of plans in the catalog.
func (c *Catalog) Len() int {
	return len(c.plans)
}
