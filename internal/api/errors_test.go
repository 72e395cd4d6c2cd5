package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail string", `{"detail":"Invalid MFA code"}`, "Invalid MFA code"},
		{"detail list", `{"detail":[{"msg":"field required"},{"msg":"bad email"}]}`, "field required; bad email"},
		{"message", `{"message":"Tenant suspended"}`, "Tenant suspended"},
		{"error", `{"error":"boom"}`, "boom"},
		{"empty object", `{}`, ""},
		{"not json", `<html>502</html>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseErrorMessage([]byte(tt.body)))
		})
	}
}

type friendlyErr struct{}

func (friendlyErr) Error() string       { return "friendly" }
func (friendlyErr) UserMessage() string { return "Enter a 6-digit code" }

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "Invalid credentials", UserMessage(fmt.Errorf("login: %w", &APIError{Status: 401, Message: "Invalid credentials"})))
	assert.Equal(t, fallbackMessage, UserMessage(&APIError{Status: 500}))
	assert.Equal(t, unreachableMessage, UserMessage(fmt.Errorf("%w: dial tcp", ErrUnreachable)))
	assert.Equal(t, "Enter a 6-digit code", UserMessage(friendlyErr{}))
	assert.Equal(t, fallbackMessage, UserMessage(errors.New("unexpected")))
}

func TestAPIError(t *testing.T) {
	err := &APIError{Status: 422, Message: "bad code", Method: "POST", Path: "/auth/login-step2"}
	assert.Equal(t, "POST /auth/login-step2: HTTP 422: bad code", err.Error())
	assert.True(t, err.IsAuthRejected())
	assert.False(t, err.IsUnauthorized())

	assert.False(t, (&APIError{Status: 503}).IsAuthRejected())
	assert.True(t, (&APIError{Status: 403}).IsUnauthorized())
}
