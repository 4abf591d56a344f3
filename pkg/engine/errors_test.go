package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineErrorFormatting(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewPermanentError("apply failed", cause).
		WithResource("project-stack-demo").
		WithOperation("up")

	assert.Equal(t, "[permanent] apply failed (resource=project-stack-demo, operation=up): exit status 1", err.Error())
	assert.Equal(t, "[transient] no cause", NewTransientError("no cause", nil).Error())
	assert.ErrorIs(t, err, cause)
}

func TestSentinelsMatchByClassAndCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"source auth", NewSourceAuthError("token rejected", nil), ErrSourceAuth},
		{"source not found", NewSourceNotFoundError("no repo", nil), ErrSourceNotFound},
		{"stage", NewStageError("zip", nil), ErrStage},
		{"validation", NewConfigValidationError("bad type", nil), ErrConfigValidation},
		{"engine unavailable", NewEngineUnavailableError("no binary", nil), ErrEngineUnavailable},
		{"conflict", NewConflictError("busy", nil), ErrConflict},
		{"timeout", NewTimeoutError("deadline", nil), ErrTimeout},
		{"provision", NewProvisionError("s", nil, "", nil), ErrProvision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("deploy: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}

	assert.NotErrorIs(t, NewStageError("x", nil), ErrConfigValidation)
}

func TestRetryClassification(t *testing.T) {
	assert.True(t, IsRetryable(NewEngineUnavailableError("down", nil)))
	assert.True(t, IsRetryable(NewTimeoutError("slow", nil)))
	assert.True(t, IsRetryable(NewConflictError("busy", nil)))
	assert.False(t, IsRetryable(NewProvisionError("s", nil, "", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestHasCodeWalksChain(t *testing.T) {
	inner := NewSourceNotFoundError("branch missing", nil)
	outer := NewStageError("acquire source", inner)

	assert.Equal(t, ErrCodeStage, CodeOf(outer))
	assert.True(t, HasCode(outer, ErrCodeSourceNotFound))
	assert.False(t, HasCode(outer, ErrCodeTimeout))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeStage))
}

func TestProvisionDetails(t *testing.T) {
	cfg := map[string]string{"aws:region": "us-east-1", "app:token": "[REDACTED]"}
	err := fmt.Errorf("up: %w", NewProvisionError("project-stack-demo", cfg, "error: boom", errors.New("exit 255")))

	gotCfg, rawLog, ok := ProvisionDetails(err)
	require.True(t, ok)
	assert.Equal(t, cfg, gotCfg)
	assert.Equal(t, "error: boom", rawLog)

	_, _, ok = ProvisionDetails(NewStageError("x", nil))
	assert.False(t, ok)
}

func TestRedactKeepsClassification(t *testing.T) {
	hide := func(s string) string { return strings.ReplaceAll(s, "s3cr3t", "[REDACTED]") }

	cause := fmt.Errorf("clone with s3cr3t: %w", context.DeadlineExceeded)
	err := fmt.Errorf("deploy: %w", NewStageError("fetch failed for s3cr3t", cause).WithResource("demo"))

	got := Redact(err, hide)
	assert.NotContains(t, got.Error(), "s3cr3t")
	assert.Contains(t, got.Error(), "fetch failed for [REDACTED]")
	assert.ErrorIs(t, got, ErrStage)
	assert.ErrorIs(t, got, context.DeadlineExceeded)
	assert.Equal(t, ErrCodeStage, CodeOf(got))

	var e *EngineError
	require.True(t, errors.As(got, &e))
	assert.NotContains(t, e.Error(), "s3cr3t")
	assert.Equal(t, "demo", e.Resource)

	leaf := Redact(errors.New("token s3cr3t"), hide)
	assert.Equal(t, "token [REDACTED]", leaf.Error())
	assert.Nil(t, errors.Unwrap(leaf))

	prov := NewProvisionError("stack", map[string]string{"region": "s3cr3t-east"}, "echo s3cr3t", errors.New("exit 1"))
	config, rawLog, ok := ProvisionDetails(Redact(prov, hide))
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]-east", config["region"])
	assert.Equal(t, "echo [REDACTED]", rawLog)
	assert.Equal(t, "s3cr3t-east", prov.Details[DetailConfig].(map[string]string)["region"], "original untouched")

	clean := errors.New("nothing to hide")
	assert.Same(t, clean, Redact(clean, hide))
	assert.NoError(t, Redact(nil, hide))
}
