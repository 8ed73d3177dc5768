package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/litoral-labs/micdta/pkg/contracts"
)

// Profile describes how to reach the customs authority in each
// environment. The gateway never mixes environments at runtime; one is
// selected at startup and used for every call.
type Profile struct {
	Name         string                          `yaml:"name" json:"name"`
	Environments map[string]AuthorityEnvironment `yaml:"environments" json:"environments"`
}

// AuthorityEnvironment is one authority endpoint with its invocation
// policy.
type AuthorityEnvironment struct {
	// Endpoint is the base URL of the bridge service. Empty selects
	// the built-in sandbox.
	Endpoint string   `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// Sandbox marks environments whose tracking identifiers are
	// synthetic.
	Sandbox bool `yaml:"sandbox,omitempty" json:"sandbox,omitempty"`
}

// Duration lets YAML profiles write timeouts as "45s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultProfile is used when no profile file exists: the built-in
// sandbox for testing and homologation, nothing for production.
func DefaultProfile() *Profile {
	return &Profile{
		Name: "default",
		Environments: map[string]AuthorityEnvironment{
			EnvTesting:      {Sandbox: true, Timeout: Duration(30 * time.Second)},
			EnvHomologation: {Sandbox: true, Timeout: Duration(30 * time.Second)},
		},
	}
}

// LoadProfile reads the authority profile from path. A missing file
// falls back to DefaultProfile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultProfile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if len(profile.Environments) == 0 {
		return nil, fmt.Errorf("profile %s defines no environments", path)
	}
	return &profile, nil
}

// Environment resolves one named environment, applying defaults.
func (p *Profile) Environment(name string) (AuthorityEnvironment, error) {
	env, ok := p.Environments[name]
	if !ok {
		return AuthorityEnvironment{}, fmt.Errorf("profile %s has no environment %q", p.Name, name)
	}
	if env.Timeout <= 0 {
		env.Timeout = Duration(30 * time.Second)
	}
	if env.Endpoint == "" && !env.Sandbox {
		return AuthorityEnvironment{}, fmt.Errorf("environment %q has neither endpoint nor sandbox", name)
	}
	return env, nil
}

// controlPointFile is the YAML document shape of the checkpoint
// catalogue.
type controlPointFile struct {
	ControlPoints []contracts.ControlPoint `yaml:"control_points"`
}

// LoadControlPoints reads the checkpoint catalogue. A missing file
// yields an empty catalogue; position ingestion still works, only
// crossing detection is inert.
func LoadControlPoints(path string) ([]contracts.ControlPoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load control points %s: %w", path, err)
	}

	var file controlPointFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse control points %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.ControlPoints))
	for _, p := range file.ControlPoints {
		if p.Code == "" {
			return nil, fmt.Errorf("control point %q has no code", p.Name)
		}
		if seen[p.Code] {
			return nil, fmt.Errorf("duplicate control point code %q", p.Code)
		}
		if p.RadiusM <= 0 {
			return nil, fmt.Errorf("control point %s has non-positive radius", p.Code)
		}
		seen[p.Code] = true
	}
	return file.ControlPoints, nil
}
