package cli_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorstack/tutorguard/internal/auth"
	"github.com/tutorstack/tutorguard/internal/cli"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := cli.NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantTrigger string
		wantCode    string
	}{
		{"rate limit", []string{"classify", "429 Too Many Requests"}, "rate_limited", "RATE_TOO_MANY_REQUESTS"},
		{"unavailable", []string{"classify", "503", "Service", "Unavailable"}, "api_unavailable", "SERVER_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append(tt.args, "--json")...)
			require.NoError(t, err)

			var got map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tt.wantTrigger, got["trigger"])
			assert.Equal(t, tt.wantCode, got["code"])
		})
	}
}

func TestClassify_PlainOutput(t *testing.T) {
	out, err := run(t, "classify", "Connection timeout")
	require.NoError(t, err)

	assert.Contains(t, out, "category:")
	assert.Contains(t, out, "trigger:")
	assert.Contains(t, out, "timeout")
}

func TestTier(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantTier string
	}{
		{"single error", []string{"--errors", "1"}, "TIER_1"},
		{"repeated errors", []string{"--errors", "4", "--trigger", "timeout"}, "TIER_2"},
		{"unavailable escalates", []string{"--errors", "4", "--trigger", "api_unavailable"}, "TIER_4"},
		{"no errors slow", []string{"--errors", "0", "--response-time", "16s"}, "TIER_3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"tier", "--json"}, tt.args...)...)
			require.NoError(t, err)

			var got map[string]string
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tt.wantTier, got["tier"])
		})
	}
}

func TestTier_UnknownTrigger(t *testing.T) {
	_, err := run(t, "tier", "--trigger", "gremlins")
	assert.ErrorContains(t, err, "unknown trigger")
}

func TestCatalogValidate(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.yaml")
	require.NoError(t, os.WriteFile(valid, []byte(`
subjects:
  history:
    general:
      - type: study_suggestion
        tier: TIER_1
        content: "Reread the timeline for this unit."
triggers:
  timeout:
    - type: system_message
      tier: TIER_2
      content: "The tutor is slow right now."
`), 0o600))

	out, err := run(t, "catalog", "validate", valid, "--json")
	require.NoError(t, err)
	var counts map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &counts))
	assert.EqualValues(t, 1, counts["Subjects"])
	assert.EqualValues(t, 2, counts["Entries"])

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte(`
triggers:
  gremlins:
    - type: system_message
      tier: TIER_2
      content: "x"
`), 0o600))

	_, err = run(t, "catalog", "validate", invalid)
	assert.ErrorContains(t, err, "gremlins")
}

func TestCatalogShow(t *testing.T) {
	out, err := run(t, "catalog", "show", "math", "algebra", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "Offline algebra pack")

	_, err = run(t, "catalog", "show", "math", "--tier", "TIER_9")
	assert.ErrorContains(t, err, "unknown tier")
}

func TestToken(t *testing.T) {
	t.Setenv("ADMIN_JWT_SIGNING_KEY", "test-secret-key-for-testing-only")

	out, err := run(t, "token", "--subject", "oncall@tutorstack.dev", "--json")
	require.NoError(t, err)

	var got struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	claims, err := auth.NewTokenService(auth.TokenConfig{SigningKey: "test-secret-key-for-testing-only"}).Validate(got.Token)
	require.NoError(t, err)
	assert.Equal(t, "oncall@tutorstack.dev", claims.Subject)
	assert.Equal(t, "operator", claims.Role)
}

func TestToken_RequiresKey(t *testing.T) {
	t.Setenv("ADMIN_JWT_SIGNING_KEY", "")

	_, err := run(t, "token", "--subject", "ops")
	assert.ErrorContains(t, err, "ADMIN_JWT_SIGNING_KEY")
}
