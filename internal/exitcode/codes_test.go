package exitcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrBead, "bead not found")
	if err.Code != ErrBead {
		t.Errorf("Code = %d, want %d", err.Code, ErrBead)
	}
	if err.Message != "bead not found" {
		t.Errorf("Message = %q, want %q", err.Message, "bead not found")
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(ErrDatabase, "connection failed", cause)

	if err.Code != ErrDatabase {
		t.Errorf("Code = %d, want %d", err.Code, ErrDatabase)
	}
	if !errors.Is(err, cause) {
		t.Error("Wrap should preserve cause for errors.Is")
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  New(ErrBead, "bead swarm-abc not found"),
			want: "bead swarm-abc not found",
		},
		{
			name: "with cause",
			err:  Wrap(ErrDatabase, "connection failed", errors.New("timeout")),
			want: "connection failed: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil error", nil, Success},
		{"coded error", New(ErrBead, "not found"), ErrBead},
		{"wrapped coded", Wrap(ErrConfig, "bad config", errors.New("ctx")), ErrConfig},
		{"plain error", errors.New("plain"), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(ErrStage, "transition violated")

	if !Is(err, ErrStage) {
		t.Error("Is should return true for matching code")
	}
	if Is(err, ErrBead) {
		t.Error("Is should return false for non-matching code")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "ConfigError",
			err:      ConfigError("missing database_url"),
			wantCode: ErrConfig,
			wantMsg:  "missing database_url",
		},
		{
			name:     "AgentNotFound",
			err:      AgentNotFound("myrepo-1"),
			wantCode: ErrAgent,
			wantMsg:  "agent not found: myrepo-1",
		},
		{
			name:     "BeadNotFound",
			err:      BeadNotFound("swarm-xyz"),
			wantCode: ErrBead,
			wantMsg:  "bead not found: swarm-xyz",
		},
		{
			name:     "StageViolation",
			err:      StageViolation("completion requires a confirmed push"),
			wantCode: ErrStage,
			wantMsg:  "completion requires a confirmed push",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %d, want %d", tt.err.Code, tt.wantCode)
			}
			if tt.err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", tt.err.Message, tt.wantMsg)
			}
		})
	}
}

func TestCodeWithWrappedErrors(t *testing.T) {
	original := BeadNotFound("swarm-abc")
	wrapped := fmt.Errorf("failed to process: %w", original)
	doubleWrapped := fmt.Errorf("operation failed: %w", wrapped)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"original", original, ErrBead},
		{"single wrapped", wrapped, ErrBead},
		{"double wrapped", doubleWrapped, ErrBead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := DatabaseError("connect", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("errors.Unwrap should work with Error")
	}

	errNoCause := New(ErrBead, "not found")
	if errNoCause.Unwrap() != nil {
		t.Error("Unwrap should return nil when no cause")
	}
}

func TestWrapf(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrapf(ErrDatabase, cause, "failed to connect to %s on port %d", "localhost", 5437)

	if err.Code != ErrDatabase {
		t.Errorf("Code = %d, want %d", err.Code, ErrDatabase)
	}
	wantMsg := "failed to connect to localhost on port 5437"
	if err.Message != wantMsg {
		t.Errorf("Message = %q, want %q", err.Message, wantMsg)
	}
	wantErr := "failed to connect to localhost on port 5437: connection refused"
	if err.Error() != wantErr {
		t.Errorf("Error() = %q, want %q", err.Error(), wantErr)
	}
}
