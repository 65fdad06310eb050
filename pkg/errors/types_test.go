// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	jobrunnererrors "github.com/tombee/hostedjob/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *jobrunnererrors.ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &jobrunnererrors.ValidationError{
				Field:      "versions.targetPlatform",
				Message:    "required field is missing",
				Suggestion: "set the target platform revision",
			},
			wantMsg: "validation failed on versions.targetPlatform: required field is missing",
		},
		{
			name: "without field",
			err: &jobrunnererrors.ValidationError{
				Message:    "invalid format",
				Suggestion: "check the input format",
			},
			wantMsg: "validation failed: invalid format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *jobrunnererrors.NotFoundError
		wantMsg string
	}{
		{
			name: "run not found",
			err: &jobrunnererrors.NotFoundError{
				Resource: "run",
				ID:       "tenant.app.default:systemTest:7",
			},
			wantMsg: "run not found: tenant.app.default:systemTest:7",
		},
		{
			name: "application not found",
			err: &jobrunnererrors.NotFoundError{
				Resource: "application",
				ID:       "tenant.app.default",
			},
			wantMsg: "application not found: tenant.app.default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigServerError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *jobrunnererrors.ConfigServerError
		want    []string
		notWant []string
	}{
		{
			name: "full error with all fields",
			err: &jobrunnererrors.ConfigServerError{
				Operation:  "prepare",
				StatusCode: 400,
				Message:    "invalid application package",
				RequestID:  "req_123",
			},
			want: []string{"prepare", "HTTP 400", "invalid application package", "req_123"},
		},
		{
			name: "minimal error",
			err: &jobrunnererrors.ConfigServerError{
				Operation: "activate",
				Message:   "connection refused",
			},
			want:    []string{"activate", "connection refused"},
			notWant: []string{"HTTP", "request-id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("ConfigServerError.Error() = %q, want to contain %q", got, want)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(got, notWant) {
					t.Errorf("ConfigServerError.Error() = %q, should not contain %q", got, notWant)
				}
			}
		})
	}
}

func TestConfigServerError_Unwrap(t *testing.T) {
	cause := errors.New("network error")
	err := &jobrunnererrors.ConfigServerError{
		Operation: "prepare",
		Message:   "request failed",
		Cause:     cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("ConfigServerError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestTesterCloudError_Error(t *testing.T) {
	err := &jobrunnererrors.TesterCloudError{
		Operation:  "startTests",
		StatusCode: 503,
		Message:    "tester cloud unavailable",
	}
	got := err.Error()
	for _, want := range []string{"startTests", "HTTP 503", "tester cloud unavailable"} {
		if !strings.Contains(got, want) {
			t.Errorf("TesterCloudError.Error() = %q, want to contain %q", got, want)
		}
	}
}

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *jobrunnererrors.ConfigError
		wantMsg string
	}{
		{
			name: "with key",
			err: &jobrunnererrors.ConfigError{
				Key:    "store.backend",
				Reason: "unknown backend",
			},
			wantMsg: "config error at store.backend: unknown backend",
		},
		{
			name: "without key",
			err: &jobrunnererrors.ConfigError{
				Reason: "file not found",
			},
			wantMsg: "config error: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ConfigError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := errors.New("file read error")
	err := &jobrunnererrors.ConfigError{
		Key:    "config",
		Reason: "failed to load",
		Cause:  cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("ConfigError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestTimeoutError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *jobrunnererrors.TimeoutError
		want []string
	}{
		{
			name: "step timeout",
			err: &jobrunnererrors.TimeoutError{
				Operation: "installReal",
				Duration:  150 * time.Minute,
			},
			want: []string{"installReal", "2h30m0s"},
		},
		{
			name: "lock timeout",
			err: &jobrunnererrors.TimeoutError{
				Operation: "job lock acquisition",
				Duration:  2 * time.Minute,
			},
			want: []string{"job lock acquisition", "2m0s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("TimeoutError.Error() = %q, want to contain %q", got, want)
				}
			}
		})
	}
}

func TestTimeoutError_Unwrap(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := &jobrunnererrors.TimeoutError{
		Operation: "test",
		Duration:  5 * time.Second,
		Cause:     cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("TimeoutError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestErrorWrapping(t *testing.T) {
	t.Run("ValidationError can be wrapped", func(t *testing.T) {
		original := &jobrunnererrors.ValidationError{
			Field:   "versions.targetApplication",
			Message: "invalid format",
		}
		wrapped := fmt.Errorf("submit validation: %w", original)

		var target *jobrunnererrors.ValidationError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ValidationError in wrapped error")
		}
		if target.Field != "versions.targetApplication" {
			t.Errorf("unwrapped error Field = %q, want %q", target.Field, "versions.targetApplication")
		}
	})

	t.Run("NotFoundError can be wrapped", func(t *testing.T) {
		original := &jobrunnererrors.NotFoundError{
			Resource: "run",
			ID:       "test",
		}
		wrapped := fmt.Errorf("loading run: %w", original)

		var target *jobrunnererrors.NotFoundError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find NotFoundError in wrapped error")
		}
		if target.Resource != "run" {
			t.Errorf("unwrapped error Resource = %q, want %q", target.Resource, "run")
		}
	})

	t.Run("ConfigServerError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("network timeout")
		configServerErr := &jobrunnererrors.ConfigServerError{
			Operation: "prepare",
			Message:   "request failed",
			Cause:     rootCause,
		}
		wrapped := fmt.Errorf("executing deploy step: %w", configServerErr)

		var target *jobrunnererrors.ConfigServerError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ConfigServerError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("ConfigServerError.Unwrap() should return root cause")
		}
	})

	t.Run("ConfigError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("file not found")
		configErr := &jobrunnererrors.ConfigError{
			Key:    "store.backend",
			Reason: "missing required field",
			Cause:  rootCause,
		}
		wrapped := fmt.Errorf("loading config: %w", configErr)

		var target *jobrunnererrors.ConfigError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ConfigError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("ConfigError.Unwrap() should return root cause")
		}
	})

	t.Run("TimeoutError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("context deadline exceeded")
		timeoutErr := &jobrunnererrors.TimeoutError{
			Operation: "test",
			Duration:  5 * time.Second,
			Cause:     rootCause,
		}
		wrapped := fmt.Errorf("operation timeout: %w", timeoutErr)

		var target *jobrunnererrors.TimeoutError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find TimeoutError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("TimeoutError.Unwrap() should return root cause")
		}
	})
}

func TestErrorsIs(t *testing.T) {
	t.Run("errors.Is works with wrapped ValidationError", func(t *testing.T) {
		original := &jobrunnererrors.ValidationError{Field: "test"}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})

	t.Run("errors.Is works with wrapped NotFoundError", func(t *testing.T) {
		original := &jobrunnererrors.NotFoundError{Resource: "test", ID: "123"}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})
}
