package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbridge/control-plane/internal/config"
)

const sampleManifest = `
eeks:
  - id: eek-local-1
    local_file_name: testdata/master.key
  - id: eek-kms-1
    aws_arn: arn:aws:kms:us-east-1:123456789012:key/abc
    aws_region: us-east-1

resource_servers:
  - id: rs-github
    type_id: oauth2_token
    deployment_type_id: github_oauth2
    dek_alias: rs-github

oauth2_deployment_types:
  - deployment_type_id: github_oauth2
    client_id: abc
    client_secret: def
    auth_url: https://github.com/login/oauth/authorize
    token_url: https://github.com/login/oauth/access_token
    redirect_url: https://controlplane.example.com/oauth2/callback
    scopes: ["repo"]
    use_pkce: true
`

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadManifestParsesAllSections(t *testing.T) {
	path := writeManifest(t, sampleManifest)

	m, err := config.LoadManifest(path)
	require.NoError(t, err)

	require.Len(t, m.EEKs, 2)
	assert.True(t, m.EEKs[0].Local())
	assert.False(t, m.EEKs[1].Local())

	require.Len(t, m.ResourceServers, 1)
	assert.Equal(t, "rs-github", m.ResourceServers[0].ID)
	assert.Equal(t, "github_oauth2", m.ResourceServers[0].DeploymentTypeID)

	require.Len(t, m.OAuth2DeploymentTypes, 1)
	assert.True(t, m.OAuth2DeploymentTypes[0].UsePKCE)
	assert.Equal(t, []string{"repo"}, m.OAuth2DeploymentTypes[0].Scopes)
}

func TestLoadManifestRejectsAmbiguousEEK(t *testing.T) {
	path := writeManifest(t, `
eeks:
  - id: eek-bad
    local_file_name: testdata/master.key
    aws_arn: arn:aws:kms:us-east-1:123456789012:key/abc
`)

	_, err := config.LoadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifestRejectsNeitherVariant(t *testing.T) {
	path := writeManifest(t, `
eeks:
  - id: eek-bad
`)

	_, err := config.LoadManifest(path)
	assert.Error(t, err)
}
