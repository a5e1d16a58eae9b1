// Package routing selects a backend model for each completion request and
// runs it with a bounded wait and a single degraded retry.
package routing

// Complexity describes a request so the strategy can pick a model for it.
type Complexity struct {
	IsSimple          bool `json:"isSimple"`
	MaxTokens         int  `json:"maxTokens"`
	RequiresReasoning bool `json:"requiresReasoning"`
	IsCreative        bool `json:"isCreative"`
}

// Token thresholds used by TieredModelStrategy.
const (
	compactTokenCeiling = 1000
	premiumTokenFloor   = 2000
)

// Models is the two-tier model registry.
type Models struct {
	Premium string
	Compact string
}

// ModelStrategy selects a model for a request.
// Implementations must be pure: identical inputs yield the identical model.
type ModelStrategy interface {
	SelectModel(compactMode bool, c Complexity) string

	// FallbackModel is the model used for the degraded retry.
	FallbackModel() string
}

// TieredModelStrategy chooses between a premium and a compact model.
type TieredModelStrategy struct {
	models Models
}

// NewTieredModelStrategy creates a strategy over the given registry.
func NewTieredModelStrategy(models Models) *TieredModelStrategy {
	return &TieredModelStrategy{models: models}
}

// SelectModel implements ModelStrategy.
//
// Compact mode downgrades small or simple requests first. Otherwise reasoning,
// creative or large-output requests go to the premium model, and the rest
// follow IsSimple.
func (s *TieredModelStrategy) SelectModel(compactMode bool, c Complexity) string {
	if compactMode && (c.IsSimple || c.MaxTokens < compactTokenCeiling) {
		return s.models.Compact
	}
	if c.RequiresReasoning || c.IsCreative || c.MaxTokens > premiumTokenFloor {
		return s.models.Premium
	}
	if c.IsSimple {
		return s.models.Compact
	}
	return s.models.Premium
}

// FallbackModel implements ModelStrategy. It is always the compact model.
func (s *TieredModelStrategy) FallbackModel() string {
	return s.models.Compact
}
