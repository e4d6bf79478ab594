package cmd

import (
	"context"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/keyrelay/keyrelay/internal/errors"
)

func TestExitCodeFor(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want foundry.ExitCode
	}{
		{"config invalid", apperrors.NewConfigInvalidError("bad"), foundry.ExitConfigInvalid},
		{"validation", apperrors.NewValidationError("bad flag"), foundry.ExitConfigInvalid},
		{"external service", apperrors.WrapExternalService(ctx, fmt.Errorf("refused"), "redis"), foundry.ExitExternalServiceUnavailable},
		{"unavailable", apperrors.NewServiceUnavailableError("down"), foundry.ExitExternalServiceUnavailable},
		{"wrapped envelope", fmt.Errorf("serve: %w", apperrors.NewConfigInvalidError("bad")), foundry.ExitConfigInvalid},
		{"database", apperrors.WrapDatabaseError(ctx, fmt.Errorf("locked"), "open"), foundry.ExitFailure},
		{"plain error", fmt.Errorf("boom"), foundry.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}
