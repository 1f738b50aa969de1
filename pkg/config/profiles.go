package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is one named browser setup loaded from profiles.yaml.
type Profile struct {
	Name           string `yaml:"name"`
	ExecutablePath string `yaml:"executablePath"`
	Protocol       string `yaml:"protocol"` // cdp | bidi
	Headless       *bool  `yaml:"headless"`
	NoSandbox      bool   `yaml:"noSandbox"`
	UserDataDir    string `yaml:"userDataDir"`
	DebugPort      int    `yaml:"debugPort"`
	StartupURL     string `yaml:"startupUrl"`
	ExtraArgs      string `yaml:"extraArgs"`
}

type profilesFile struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// LoadProfiles reads a profiles.yaml file. A missing file is not an error;
// it yields an empty map.
func LoadProfiles(path string) (map[string]*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Profile{}, nil
		}
		return nil, fmt.Errorf("read profiles %s: %w", path, err)
	}

	var pf profilesFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse profiles %s: %w", path, err)
	}
	if pf.Profiles == nil {
		pf.Profiles = map[string]*Profile{}
	}
	for name, p := range pf.Profiles {
		if p.Name == "" {
			p.Name = name
		}
	}
	return pf.Profiles, nil
}

// Apply overlays the profile onto a launch configuration.
func (p *Profile) Apply(lc *LaunchConfig) {
	if p.ExecutablePath != "" {
		lc.ExecutablePath = p.ExecutablePath
	}
	if p.Protocol != "" {
		lc.Protocol = p.Protocol
	}
	if p.Headless != nil {
		lc.Headless = *p.Headless
	}
	if p.NoSandbox {
		lc.NoSandbox = true
	}
	if p.UserDataDir != "" {
		lc.UserDataDir = p.UserDataDir
	}
	if p.DebugPort != 0 {
		lc.DebugPort = p.DebugPort
	}
	if p.StartupURL != "" {
		lc.StartupURL = p.StartupURL
	}
	if p.ExtraArgs != "" {
		lc.ExtraArgs = p.ExtraArgs
	}
}
