package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrExtraction, cause, "fetching channels")

	assert.True(t, errors.Is(err, ErrExtraction))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrWrite))
	assert.Equal(t, "extraction error: fetching channels: connection reset", err.Error())
}

func TestKindAndExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
		code int
	}{
		{"nil", nil, "", ExitOK},
		{"schema", New(ErrSchema, "bad ddl"), "SchemaError", ExitSchema},
		{"write wrapped", fmt.Errorf("job x: %w", New(ErrWrite, "null")), "WriteError", ExitWrite},
		{"mapping", Newf(ErrMapping, "empty %s", "silver.committee"), "MappingError", ExitMapping},
		{"extraction", Wrap(ErrExtraction, ErrRateLimited, "429"), "ExtractionError", ExitExtraction},
		{"config", New(ErrConfig, "bad mode"), "ConfigError", ExitConfig},
		{"unknown", errors.New("boom"), "InternalError", ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Kind(tt.err))
			assert.Equal(t, tt.code, ExitCode(tt.err))
		})
	}
}
