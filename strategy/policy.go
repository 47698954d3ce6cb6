package strategy

import (
	"strings"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

const keySeparator = ":"

type PersistMode string

const (
	PersistAlways PersistMode = "always"
	PersistRecent PersistMode = "recent"
	PersistNever  PersistMode = "never"
)

// Policy describes how one category is cached. A TTL of types.NoExpiry keeps
// entries until they are evicted; a zero TTL defers to the engine default.
type Policy struct {
	TTL           time.Duration `json:"ttl"`
	Priority      int           `json:"priority"`
	KeyPrefix     string        `json:"key_prefix"`
	Persist       PersistMode   `json:"persist"`
	PersistWindow time.Duration `json:"persist_window"`
}

type Policies map[types.Category]Policy

func DefaultPolicies() Policies {
	return Policies{
		types.CategoryTranslation: {
			TTL:       types.NoExpiry,
			Priority:  100,
			KeyPrefix: "translation",
			Persist:   PersistAlways,
		},
		types.CategoryConfig: {
			TTL:       types.NoExpiry,
			Priority:  90,
			KeyPrefix: "config",
			Persist:   PersistAlways,
		},
		types.CategoryOCR: {
			TTL:           24 * time.Hour,
			Priority:      60,
			KeyPrefix:     "ocr",
			Persist:       PersistRecent,
			PersistWindow: 6 * time.Hour,
		},
		types.CategoryOther: {
			TTL:       time.Hour,
			Priority:  30,
			KeyPrefix: "other",
			Persist:   PersistAlways,
		},
		types.CategoryImage: {
			TTL:       30 * time.Minute,
			Priority:  10,
			KeyPrefix: "image",
			Persist:   PersistNever,
		},
	}
}

// BuildPolicies applies configured overrides on top of DefaultPolicies.
func BuildPolicies(config *types.StrategyConfig) (Policies, error) {
	policies := DefaultPolicies()

	if config != nil {
		for name, override := range config.Policies {
			category := types.Category(name)
			if !category.Valid() {
				return nil, types.Errorf(types.ErrCacheCategoryUnknown, "category: %s", name)
			}
			if override == nil {
				continue
			}

			policy := policies[category]
			if override.TTL != nil {
				policy.TTL = *override.TTL
				if policy.TTL < 0 {
					policy.TTL = types.NoExpiry
				}
			}
			if override.Priority != nil {
				policy.Priority = *override.Priority
			}
			if override.KeyPrefix != nil {
				policy.KeyPrefix = *override.KeyPrefix
			}
			if override.Persist != nil {
				policy.Persist = PersistMode(*override.Persist)
			}
			if override.PersistWindow != nil {
				policy.PersistWindow = *override.PersistWindow
			}
			policies[category] = policy
		}
	}

	if err := policies.Validate(); err != nil {
		return nil, err
	}

	return policies, nil
}

func (p Policies) Validate() error {
	prefixes := make(map[string]types.Category, len(p))

	for _, category := range types.Categories {
		policy, ok := p[category]
		if !ok {
			return types.Errorf(types.ErrCachePolicyInvalid, "missing policy for %s", category)
		}

		if policy.KeyPrefix == "" {
			return types.Errorf(types.ErrCachePolicyInvalid, "empty key prefix for %s", category)
		}

		// Keys are joined as prefix:key, so a separator inside a prefix could
		// alias another category's namespace.
		if strings.Contains(policy.KeyPrefix, keySeparator) {
			return types.Errorf(types.ErrCachePolicyInvalid, "key prefix %q for %s contains %q", policy.KeyPrefix, category, keySeparator)
		}

		if other, exists := prefixes[policy.KeyPrefix]; exists {
			return types.Errorf(types.ErrCachePolicyInvalid, "key prefix %q shared by %s and %s", policy.KeyPrefix, other, category)
		}
		prefixes[policy.KeyPrefix] = category

		switch policy.Persist {
		case PersistAlways, PersistNever:
		case PersistRecent:
			if policy.PersistWindow <= 0 {
				return types.Errorf(types.ErrCachePolicyInvalid, "recent persistence without window for %s", category)
			}
		default:
			return types.Errorf(types.ErrCachePolicyInvalid, "unknown persist mode %q for %s", policy.Persist, category)
		}
	}

	return nil
}
