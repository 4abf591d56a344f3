package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/froyodeploy/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sshpkg "golang.org/x/crypto/ssh"
)

func TestParseEnvPairs(t *testing.T) {
	vars, err := parseEnvPairs([]string{"MODE=prod", "URL=postgres://u:p@h/db?x=1"}, true)
	require.NoError(t, err)
	assert.Equal(t, []engine.EnvVar{
		{Key: "MODE", Value: "prod", IsSecret: true},
		{Key: "URL", Value: "postgres://u:p@h/db?x=1", IsSecret: true},
	}, vars)

	_, err = parseEnvPairs([]string{"NOEQUALS"}, false)
	assert.Error(t, err)
	_, err = parseEnvPairs([]string{"=value"}, false)
	assert.Error(t, err)
}

func TestMaskSecretsLeavesOriginal(t *testing.T) {
	p := &engine.Project{EnvVars: []engine.EnvVar{
		{Key: "API_KEY", Value: "s3cr3t", IsSecret: true},
		{Key: "MODE", Value: "prod"},
	}}
	masked := maskSecrets(p)
	assert.Equal(t, "********", masked.EnvVars[0].Value)
	assert.Equal(t, "prod", masked.EnvVars[1].Value)
	assert.Equal(t, "s3cr3t", p.EnvVars[0].Value)
}

func TestEnsureOperatorKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")

	created, err := ensureOperatorKey(keyPath)
	require.NoError(t, err)
	assert.True(t, created)

	pub, err := os.ReadFile(keyPath + ".pub")
	require.NoError(t, err)
	_, _, _, _, err = sshpkg.ParseAuthorizedKey(pub)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pub), "ssh-ed25519 "))

	created, err = ensureOperatorKey(keyPath)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestFormatMetadataSortsKeys(t *testing.T) {
	assert.Equal(t, "-", formatMetadata(nil))
	assert.Equal(t, "a=1 b=x", formatMetadata(map[string]interface{}{"b": "x", "a": 1}))
}

func TestSplitRepository(t *testing.T) {
	tests := []struct {
		arg, owner, repo string
		wantErr          bool
	}{
		{arg: "acme/api", owner: "acme", repo: "api"},
		{arg: "acme/api.git", owner: "acme", repo: "api"},
		{arg: "https://github.com/acme/api", owner: "acme", repo: "api"},
		{arg: "git@github.com:acme/api.git", owner: "acme", repo: "api"},
		{arg: "acme", wantErr: true},
		{arg: "acme/api/extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			owner, repo, err := splitRepository(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}
