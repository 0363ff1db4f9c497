package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elementstore/core/internal/record"
)

func sourceReturning(script, entryPoint string) FunctionSource {
	return func(ctx context.Context, functionID string) (string, string, error) {
		return script, entryPoint, nil
	}
}

func TestFunctionRunner_BooleanTrueMeansPass(t *testing.T) {
	runner := NewFunctionRunner(sourceReturning(`function validate(value, record) { return value > 0; }`, "validate"))
	msg, err := runner.Run(context.Background(), "fn1", int64(5), record.New("widget"))
	require.NoError(t, err)
	assert.Equal(t, "", msg)
}

func TestFunctionRunner_BooleanFalseMeansFail(t *testing.T) {
	runner := NewFunctionRunner(sourceReturning(`function validate(value, record) { return value > 0; }`, "validate"))
	msg, err := runner.Run(context.Background(), "fn1", int64(-5), record.New("widget"))
	require.NoError(t, err)
	assert.NotEqual(t, "", msg)
}

func TestFunctionRunner_StringResultIsTheFailureMessage(t *testing.T) {
	script := `function validate(value, record) { return "must be even"; }`
	runner := NewFunctionRunner(sourceReturning(script, "validate"))
	msg, err := runner.Run(context.Background(), "fn1", int64(3), record.New("widget"))
	require.NoError(t, err)
	assert.Equal(t, "must be even", msg)
}

func TestFunctionRunner_CanReadRecordFields(t *testing.T) {
	script := `function validate(value, record) { return record.count > value; }`
	runner := NewFunctionRunner(sourceReturning(script, "validate"))
	rec := record.New("widget")
	rec.Fields["count"] = int64(10)
	msg, err := runner.Run(context.Background(), "fn1", int64(5), rec)
	require.NoError(t, err)
	assert.Equal(t, "", msg)
}

func TestFunctionRunner_MissingEntryPointErrors(t *testing.T) {
	runner := NewFunctionRunner(sourceReturning(`function other() { return true; }`, "validate"))
	_, err := runner.Run(context.Background(), "fn1", int64(1), record.New("widget"))
	assert.Error(t, err)
}

func TestFunctionRunner_ResolveErrorPropagates(t *testing.T) {
	runner := NewFunctionRunner(func(ctx context.Context, functionID string) (string, string, error) {
		return "", "", assert.AnError
	})
	_, err := runner.Run(context.Background(), "fn1", int64(1), record.New("widget"))
	assert.Error(t, err)
}
