// Package rules provides the CEL-Go based rule catalog and evaluator.
package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/fraudshield/kestrel/internal/domain"
)

// newCategoryEnv builds the CEL environment for one rule category. Each
// category declares exactly the variables its context snapshot flattens to,
// so a condition referencing a foreign variable fails at compile time, not
// at match time.
func newCategoryEnv(category domain.RuleCategory) (*cel.Env, error) {
	opts := []cel.EnvOption{
		// Free-form signals supplied by callers through AdditionalData.
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
	}

	switch category {
	case domain.CategoryTransaction:
		opts = append(opts,
			cel.Variable("transaction_id", cel.StringType),
			cel.Variable("account_id", cel.StringType),
			cel.Variable("amount", cel.DoubleType),
			cel.Variable("currency", cel.StringType),
			cel.Variable("transaction_type", cel.StringType),
			cel.Variable("recipient_country", cel.StringType),
			cel.Variable("user_transaction_count_24h", cel.IntType),
			cel.Variable("user_total_amount_24h", cel.DoubleType),
			cel.Variable("user_average_amount", cel.DoubleType),
			cel.Variable("days_since_first_transaction", cel.IntType),
			cel.Variable("unique_recipient_count_1h", cel.IntType),
		)
	case domain.CategoryAccount:
		opts = append(opts,
			cel.Variable("account_id", cel.StringType),
			cel.Variable("country_code", cel.StringType),
			cel.Variable("is_trusted_device", cel.BoolType),
			cel.Variable("unique_ip_count_24h", cel.IntType),
			cel.Variable("unique_country_count_24h", cel.IntType),
			cel.Variable("is_successful", cel.BoolType),
			cel.Variable("failed_login_attempts", cel.IntType),
			cel.Variable("is_typical_country", cel.BoolType),
			cel.Variable("is_typical_hour", cel.BoolType),
			cel.Variable("access_hour", cel.IntType),
		)
	case domain.CategoryIP, domain.CategoryNetwork:
		opts = append(opts,
			cel.Variable("ip_address", cel.StringType),
			cel.Variable("country_code", cel.StringType),
			cel.Variable("reputation_score", cel.IntType),
			cel.Variable("is_blacklisted", cel.BoolType),
			cel.Variable("is_datacenter_or_proxy", cel.BoolType),
			cel.Variable("network_type", cel.StringType),
			cel.Variable("unique_account_count_10m", cel.IntType),
			cel.Variable("unique_account_count_1h", cel.IntType),
			cel.Variable("unique_account_count_24h", cel.IntType),
			cel.Variable("failed_login_count_10m", cel.IntType),
		)
	case domain.CategoryDevice:
		opts = append(opts,
			cel.Variable("device_id", cel.StringType),
			cel.Variable("device_type", cel.StringType),
			cel.Variable("is_registered", cel.BoolType),
			cel.Variable("is_trusted", cel.BoolType),
			cel.Variable("is_jailbroken", cel.BoolType),
			cel.Variable("is_emulator", cel.BoolType),
			cel.Variable("linked_account_count", cel.IntType),
			cel.Variable("unique_account_count_24h", cel.IntType),
			cel.Variable("unique_ip_count_24h", cel.IntType),
			cel.Variable("first_seen_days", cel.IntType),
		)
	case domain.CategorySession:
		opts = append(opts,
			cel.Variable("session_id", cel.StringType),
			cel.Variable("account_id", cel.StringType),
			cel.Variable("duration_minutes", cel.IntType),
			cel.Variable("transaction_count", cel.IntType),
			cel.Variable("rapid_navigation_count", cel.IntType),
			cel.Variable("settings_changed", cel.BoolType),
			cel.Variable("country_code", cel.StringType),
		)
	default:
		return nil, fmt.Errorf("%w: unknown rule category %q", domain.ErrInvalidInput, category)
	}

	return cel.NewEnv(opts...)
}

// compileCondition compiles a rule condition against its category environment.
// Conditions must produce a bool.
func compileCondition(env *cel.Env, ruleCode, condition string) (cel.Program, error) {
	ast, issues := env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", ruleCode, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: condition must return bool, got %s", ruleCode, ast.OutputType())
	}

	return env.Program(ast)
}

// toBool converts a CEL evaluation result to a match decision.
func toBool(val ref.Val) bool {
	if b, ok := val.(types.Bool); ok {
		return bool(b)
	}
	return false
}
