package automation

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/megicode/stepflow/pkg/models"
)

// EvaluateConditions reports whether every condition holds against the
// process context. An empty condition list always matches.
func EvaluateConditions(conditions []models.Condition, processContext models.ProcessContext, logger *slog.Logger) bool {
	for _, condition := range conditions {
		if !evaluateCondition(condition, processContext, logger) {
			return false
		}
	}

	return true
}

func evaluateCondition(condition models.Condition, processContext models.ProcessContext, logger *slog.Logger) bool {
	value, exists := processContext[condition.Field]

	switch condition.Operator {
	case models.OpIsEmpty:
		return !exists || isEmpty(value)
	case models.OpNotEmpty:
		return exists && !isEmpty(value)
	case models.OpEquals:
		return exists && looseEquals(value, condition.Value)
	case models.OpNotEquals:
		return !exists || !looseEquals(value, condition.Value)
	case models.OpGreaterThan:
		left, right, ok := numericPair(value, condition.Value)

		return exists && ok && left > right
	case models.OpLessThan:
		left, right, ok := numericPair(value, condition.Value)

		return exists && ok && left < right
	case models.OpContains:
		return exists && contains(value, condition.Value)
	default:
		// Validate rejects unknown operators at save time; stored data
		// that predates the check still lands here.
		logger.Warn("unknown condition operator, condition does not match",
			"operator", condition.Operator, "field", condition.Field)

		return false
	}
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}

	switch v := value.(type) {
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map {
		return rv.Len() == 0
	}

	return false
}

// looseEquals compares across the numeric representations JSON decoding
// produces, then falls back to string equality.
func looseEquals(left, right any) bool {
	if leftNum, rightNum, ok := numericPair(left, right); ok {
		return leftNum == rightNum
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func numericPair(left, right any) (float64, float64, bool) {
	leftNum, leftOK := toFloat(left)
	rightNum, rightOK := toFloat(right)

	return leftNum, rightNum, leftOK && rightOK
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)

		return parsed, err == nil
	default:
		return 0, false
	}
}

func contains(haystack, needle any) bool {
	needleStr := fmt.Sprintf("%v", needle)

	switch v := haystack.(type) {
	case string:
		return strings.Contains(v, needleStr)
	case []any:
		for _, item := range v {
			if looseEquals(item, needle) {
				return true
			}
		}

		return false
	case []string:
		for _, item := range v {
			if item == needleStr {
				return true
			}
		}

		return false
	default:
		return false
	}
}

// ExpressionEvaluator compiles and caches rule expressions. Programs are
// evaluated against the process context as their environment.
type ExpressionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExpressionEvaluator() *ExpressionEvaluator {
	return &ExpressionEvaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate runs the expression against the context. The expression must
// produce a boolean.
func (e *ExpressionEvaluator) Evaluate(expression string, processContext models.ProcessContext) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, fmt.Errorf("failed to compile expression: %w", err)
	}

	env := map[string]any(processContext)
	if env == nil {
		env = map[string]any{}
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not produce a boolean", expression)
	}

	return result, nil
}

func (e *ExpressionEvaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = program
	e.mu.Unlock()

	return program, nil
}
