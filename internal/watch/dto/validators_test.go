package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscordSnowflakeValidation(t *testing.T) {
	validate := NewValidator()

	tests := []struct {
		name    string
		input   interface{}
		wantErr bool
	}{
		{
			name: "valid login input",
			input: &LoginInput{
				ServerID: "123456789012345678",
				UserID:   "987654321098765432",
			},
			wantErr: false,
		},
		{
			name: "missing user id",
			input: &LoginInput{
				ServerID: "123456789012345678",
			},
			wantErr: true,
		},
		{
			name: "server id is not a snowflake",
			input: &LoginInput{
				ServerID: "my-cool-server",
				UserID:   "987654321098765432",
			},
			wantErr: true,
		},
		{
			name: "snowflake too short",
			input: struct {
				ID string `validate:"discord_snowflake"`
			}{ID: "12345"},
			wantErr: true,
		},
		{
			name: "nil optional role passes",
			input: struct {
				Role *string `validate:"omitempty,discord_snowflake"`
			}{},
			wantErr: false,
		},
		{
			name: "bad optional role fails",
			input: struct {
				Role *string `validate:"omitempty,discord_snowflake"`
			}{Role: strPtr("not-a-role")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateStruct(validate, tt.input)
			if tt.wantErr {
				assert.NotEmpty(t, errs)
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestValidateStructMessages(t *testing.T) {
	validate := NewValidator()

	errs := ValidateStruct(validate, &LoginInput{UserID: "abc"})
	assert.Len(t, errs, 2)
	assert.Contains(t, errs[0], "ServerID is required")
	assert.Contains(t, errs[1], "UserID must be a valid Discord ID")
}

func strPtr(s string) *string { return &s }
