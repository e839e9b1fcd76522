package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the static, operator-authored registration document: which
// envelope-encryption keys exist, which DEK alias a resource server's
// credential is encrypted under, and which resource-server credentials
// and their brokering deployment types are known at startup. It mirrors
// the teacher's reliance on a declarative YAML document for anything that
// is operator-managed rather than derived at runtime.
type Manifest struct {
	EEKs                  []EEKManifest              `yaml:"eeks"`
	ResourceServers       []ResourceServerManifest   `yaml:"resource_servers"`
	OAuth2DeploymentTypes []OAuth2DeploymentManifest `yaml:"oauth2_deployment_types"`
}

// EEKManifest declares one envelope-encryption key. Exactly one of
// LocalFileName or (AwsARN and AwsRegion) must be set, mirroring the
// exclusivity SPEC_FULL.md §12 item 5 enforces at construction time in
// internal/envelope.
type EEKManifest struct {
	ID            string `yaml:"id"`
	LocalFileName string `yaml:"local_file_name,omitempty"`
	AwsARN        string `yaml:"aws_arn,omitempty"`
	AwsRegion     string `yaml:"aws_region,omitempty"`
}

// Local reports whether this entry declares the Local EEK variant.
func (m EEKManifest) Local() bool { return m.LocalFileName != "" }

// Validate checks that exactly one EEK variant is populated.
func (m EEKManifest) Validate() error {
	local := m.LocalFileName != ""
	kms := m.AwsARN != "" || m.AwsRegion != ""
	if local == kms {
		return fmt.Errorf("eek %q: exactly one of local_file_name or aws_arn+aws_region must be set", m.ID)
	}
	if kms && (m.AwsARN == "" || m.AwsRegion == "") {
		return fmt.Errorf("eek %q: aws_arn and aws_region must both be set", m.ID)
	}
	return nil
}

// ResourceServerManifest declares a static resource-server credential and
// the DEK alias its value is encrypted under.
type ResourceServerManifest struct {
	ID               string            `yaml:"id"`
	TypeID           string            `yaml:"type_id"`
	DeploymentTypeID string            `yaml:"deployment_type_id"`
	DEKAlias         string            `yaml:"dek_alias"`
	Metadata         map[string]string `yaml:"metadata,omitempty"`
}

// OAuth2DeploymentManifest declares the static OAuth2 client configuration
// for one credential_deployment_type_id, wired to an
// OAuth2AuthorizationCodeBroker at startup.
type OAuth2DeploymentManifest struct {
	DeploymentTypeID string   `yaml:"deployment_type_id"`
	ClientID         string   `yaml:"client_id"`
	ClientSecret     string   `yaml:"client_secret"`
	AuthURL          string   `yaml:"auth_url"`
	TokenURL         string   `yaml:"token_url"`
	RedirectURL      string   `yaml:"redirect_url"`
	Scopes           []string `yaml:"scopes,omitempty"`
	UsePKCE          bool     `yaml:"use_pkce,omitempty"`
}

// LoadManifest reads and parses the registration manifest at path.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %q: %w", path, err)
	}
	for _, eek := range m.EEKs {
		if err := eek.Validate(); err != nil {
			return Manifest{}, err
		}
	}
	return m, nil
}
