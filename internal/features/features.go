// Package features provides the flag registry and evaluator: boolean flags,
// deterministic percentage rollouts, and A/B experiments with weighted
// variant allocation and sticky per-subject assignment.
package features

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub016/internal/cache"
	apperrors "github.com/drmweyers/FitnessMealPlanner-sub016/internal/errors"
)

// FlagType discriminates flag behavior.
type FlagType string

const (
	TypeBoolean    FlagType = "boolean"
	TypePercentage FlagType = "percentage"
	TypeABTest     FlagType = "abtest"
)

// Evaluation reasons.
const (
	ReasonFlagNotFound     = "flag_not_found"
	ReasonFlagDisabled     = "flag_disabled"
	ReasonBooleanFlag      = "boolean_flag"
	ReasonPercentageIn     = "percentage_in"
	ReasonPercentageOut    = "percentage_out"
	ReasonABTestAssignment = "abtest_assignment"
)

// Targeting holds rollout parameters for percentage flags.
type Targeting struct {
	// Percentage in [0,100]; subjects whose bucket falls below it are in.
	Percentage float64 `json:"percentage"`
}

// Variant is one arm of an A/B experiment. Registration order determines the
// cumulative allocation ranges, so assignment stays stable as long as the
// configuration is unchanged.
type Variant struct {
	Name          string         `json:"name"`
	Allocation    int            `json:"allocation"` // weight, all variants must sum to 100
	Configuration map[string]any `json:"configuration,omitempty"`
}

// Flag is a registered feature flag. Flags live for the process lifetime
// unless explicitly removed; re-registration overwrites.
type Flag struct {
	ID        string    `json:"id"`
	Type      FlagType  `json:"type"`
	Enabled   bool      `json:"enabled"`
	Value     any       `json:"value,omitempty"`
	Targeting Targeting `json:"targeting"`
	Variants  []Variant `json:"variants,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
}

// ABTestConfig registers an experiment.
type ABTestConfig struct {
	ID        string
	Variants  []Variant
	CreatedBy string
}

// EvalContext identifies the subject being evaluated. Attributes are carried
// for telemetry only; bucketing math uses SubjectID alone.
type EvalContext struct {
	SubjectID  string
	Attributes map[string]string
}

// Tracking carries enough information for the caller to emit an analytics
// event about an experiment assignment.
type Tracking struct {
	EvaluationID string    `json:"evaluationId"`
	FlagID       string    `json:"flagId"`
	Variant      string    `json:"variant"`
	SubjectID    string    `json:"subjectId"`
	EvaluatedAt  time.Time `json:"evaluatedAt"`
}

// Result is the outcome of an evaluation.
type Result struct {
	Enabled  bool      `json:"enabled"`
	Value    any       `json:"value,omitempty"`
	Variant  string    `json:"variant,omitempty"`
	Reason   string    `json:"reason"`
	Tracking *Tracking `json:"trackingData,omitempty"`
}

// Service is the flag registry and evaluator. The registry is in-memory and
// shared across request goroutines; evaluation never touches the store, so
// it stays on the hot path budget. Flag definitions are mirrored into the
// cache service (best-effort) purely so operators can inspect them across
// processes.
type Service struct {
	logger *zap.Logger
	mirror *cache.Service // may be nil

	mu    sync.RWMutex
	flags map[string]Flag
}

// New builds a flag service. mirror may be nil to disable definition
// mirroring.
func New(logger *zap.Logger, mirror *cache.Service) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger: logger.Named("features"),
		mirror: mirror,
		flags:  make(map[string]Flag),
	}
}

// CreateFlag registers or overwrites a flag by id. Percentage flags must
// carry a percentage in [0,100].
func (s *Service) CreateFlag(ctx context.Context, flag Flag) error {
	if flag.ID == "" {
		return apperrors.NewConfiguration("flag", "id is required")
	}
	switch flag.Type {
	case TypeBoolean:
	case TypePercentage:
		if flag.Targeting.Percentage < 0 || flag.Targeting.Percentage > 100 {
			return apperrors.NewConfiguration("flag "+flag.ID,
				fmt.Sprintf("percentage %.2f outside [0,100]", flag.Targeting.Percentage))
		}
	case TypeABTest:
		if err := validateVariants(flag.ID, flag.Variants); err != nil {
			return err
		}
	default:
		return apperrors.NewConfiguration("flag "+flag.ID, "unknown flag type "+string(flag.Type))
	}

	now := time.Now()
	s.mu.Lock()
	if existing, ok := s.flags[flag.ID]; ok {
		flag.CreatedAt = existing.CreatedAt
	} else {
		flag.CreatedAt = now
	}
	flag.UpdatedAt = now
	s.flags[flag.ID] = flag
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirror.Set(ctx, "flag:"+flag.ID, flag, nil)
	}
	s.logger.Info("flag registered",
		zap.String("flag", flag.ID),
		zap.String("type", string(flag.Type)),
		zap.Bool("enabled", flag.Enabled),
	)
	return nil
}

// CreateABTest registers an experiment as an abtest-type flag. Variant
// allocations must sum to exactly 100; a mismatch is a configuration error
// surfaced here, not at evaluation time.
func (s *Service) CreateABTest(ctx context.Context, cfg ABTestConfig) error {
	return s.CreateFlag(ctx, Flag{
		ID:        cfg.ID,
		Type:      TypeABTest,
		Enabled:   true,
		Variants:  cfg.Variants,
		CreatedBy: cfg.CreatedBy,
	})
}

func validateVariants(flagID string, variants []Variant) error {
	if len(variants) == 0 {
		return apperrors.NewConfiguration("flag "+flagID, "abtest flag needs at least one variant")
	}
	total := 0
	for _, v := range variants {
		if v.Name == "" {
			return apperrors.NewConfiguration("flag "+flagID, "variant with empty name")
		}
		if v.Allocation < 0 {
			return apperrors.NewConfiguration("flag "+flagID,
				fmt.Sprintf("variant %s has negative allocation", v.Name))
		}
		total += v.Allocation
	}
	if total != 100 {
		return apperrors.NewConfiguration("flag "+flagID,
			fmt.Sprintf("variant allocations sum to %d, want 100", total))
	}
	return nil
}

// RemoveFlag deletes a flag from the registry.
func (s *Service) RemoveFlag(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.flags, id)
	s.mu.Unlock()
	if s.mirror != nil {
		s.mirror.Del(ctx, "flag:"+id)
	}
}

// GetFlag returns a registered flag.
func (s *Service) GetFlag(id string) (Flag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flag, ok := s.flags[id]
	return flag, ok
}

// Evaluate resolves a flag for a subject. Missing or disabled flags resolve
// to a disabled result with the matching reason; they never error, so a
// rollout flag degrades to its off state rather than breaking the request.
func (s *Service) Evaluate(flagID string, evalCtx EvalContext) Result {
	s.mu.RLock()
	flag, ok := s.flags[flagID]
	s.mu.RUnlock()

	if !ok {
		return Result{Enabled: false, Reason: ReasonFlagNotFound}
	}
	if !flag.Enabled {
		return Result{Enabled: false, Reason: ReasonFlagDisabled}
	}

	switch flag.Type {
	case TypeBoolean:
		return Result{Enabled: flag.Enabled, Value: flag.Value, Reason: ReasonBooleanFlag}

	case TypePercentage:
		bucket := bucketFor(flagID, evalCtx.SubjectID)
		if float64(bucket) < flag.Targeting.Percentage {
			return Result{Enabled: true, Value: flag.Value, Reason: ReasonPercentageIn}
		}
		return Result{Enabled: false, Value: flag.Value, Reason: ReasonPercentageOut}

	case TypeABTest:
		bucket := bucketFor(flagID, evalCtx.SubjectID)
		variant := variantFor(flag.Variants, bucket)
		return Result{
			Enabled: true,
			Value:   variant.Configuration,
			Variant: variant.Name,
			Reason:  ReasonABTestAssignment,
			Tracking: &Tracking{
				EvaluationID: uuid.NewString(),
				FlagID:       flagID,
				Variant:      variant.Name,
				SubjectID:    evalCtx.SubjectID,
				EvaluatedAt:  time.Now(),
			},
		}

	default:
		return Result{Enabled: false, Reason: ReasonFlagDisabled}
	}
}

// bucketFor maps (flag, subject) into [0,100) with a stable hash, so the
// same subject always lands in the same bucket for a given flag across
// evaluations and process restarts.
func bucketFor(flagID, subjectID string) int {
	h := fnv.New32a()
	h.Write([]byte(flagID))
	h.Write([]byte{':'})
	h.Write([]byte(subjectID))
	return int(h.Sum32() % 100)
}

// variantFor walks the cumulative allocation ranges in registration order
// and returns the variant whose range contains the bucket.
func variantFor(variants []Variant, bucket int) Variant {
	cumulative := 0
	for _, v := range variants {
		cumulative += v.Allocation
		if bucket < cumulative {
			return v
		}
	}
	// Allocations sum to 100 and bucket < 100, so this is unreachable; keep
	// the last variant as a safe answer for zero-allocation tails.
	return variants[len(variants)-1]
}
