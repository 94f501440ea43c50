package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	commonerrors "github.com/pivotloop/conductor/internal/common/errors"
)

func TestExitCodeMapsConfigurationErrorsToTwo(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 2, ExitCode(commonerrors.Configuration("bad config", nil)))
	assert.Equal(t, 1, ExitCode(commonerrors.Validation("bad input")))
	assert.Equal(t, 1, ExitCode(commonerrors.Spawn("spawn failed", nil)))
}
