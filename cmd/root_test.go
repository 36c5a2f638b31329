package cmd

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"satchel/internal/backend"
	"satchel/internal/config"
	"satchel/internal/process"
	"satchel/internal/scaffold"
	"satchel/internal/tools"

	"github.com/stretchr/testify/assert"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "malformed config is a user error",
			err:  &config.MalformedConfigError{Path: "satchel.yaml", Line: 3},
			want: ExitCodeUserError,
		},
		{
			name: "unsupported target is a user error",
			err:  &backend.UnsupportedTargetError{Platform: "beos"},
			want: ExitCodeUserError,
		},
		{
			name: "template mismatch is a user error",
			err:  &scaffold.TemplateError{File: "app.cfg", Err: errors.New("no value")},
			want: ExitCodeUserError,
		},
		{
			name: "download failure is an environment error",
			err:  &tools.DownloadFailedError{Tool: "widgetc", URL: "http://x", Err: errors.New("timeout")},
			want: ExitCodeEnvError,
		},
		{
			name: "integrity failure is an environment error",
			err:  &tools.IntegrityFailedError{Tool: "widgetc"},
			want: ExitCodeEnvError,
		},
		{
			name: "missing system tool is an environment error",
			err:  &tools.MissingToolError{Tool: "codesign"},
			want: ExitCodeEnvError,
		},
		{
			name: "unsupported host is an environment error",
			err:  &tools.UnsupportedPlatformError{Tool: "widgetc", Platform: "plan9-mips"},
			want: ExitCodeEnvError,
		},
		{
			name: "tool invocation failure is a tool error",
			err:  &process.ToolInvocationError{Tool: "widgetc", ExitCode: 2},
			want: ExitCodeToolFailure,
		},
		{
			name: "wrapped tool invocation failure is still a tool error",
			err:  fmt.Errorf("compile stage: %w", &process.ToolInvocationError{Tool: "widgetc", ExitCode: 2}),
			want: ExitCodeToolFailure,
		},
		{
			name: "cancellation",
			err:  process.ErrCancelled,
			want: ExitCodeCancelled,
		},
		{
			name: "context cancellation",
			err:  context.Canceled,
			want: ExitCodeCancelled,
		},
		{
			name: "anything else is a user error",
			err:  errors.New("unknown"),
			want: ExitCodeUserError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}
