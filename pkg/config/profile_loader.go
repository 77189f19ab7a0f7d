package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/trustgate/trustgate/pkg/gate"
)

// DomainProfile is a per-domain YAML policy profile. It fixes which
// jurisdictions may contribute evidence, which failure modes the domain
// declares up front, and how long its traces are retained.
type DomainProfile struct {
	Name                 string   `yaml:"name" json:"name"`
	Domain               string   `yaml:"domain" json:"domain"`
	AllowedJurisdictions []string `yaml:"allowed_jurisdictions" json:"allowed_jurisdictions"`
	FailureModes         []string `yaml:"failure_modes,omitempty" json:"failure_modes,omitempty"`
	RetentionPolicy      string   `yaml:"retention_policy" json:"retention_policy"`
	RetentionReason      string   `yaml:"retention_reason,omitempty" json:"retention_reason,omitempty"`
	RetentionDays        int      `yaml:"retention_days" json:"retention_days"`
}

var knownRetentionPolicies = map[string]bool{
	"standard_30d":  true,
	"extended_365d": true,
	"legal_hold":    true,
}

// Validate reports the first structural problem in the profile.
func (p *DomainProfile) Validate() error {
	if strings.TrimSpace(p.Domain) == "" {
		return fmt.Errorf("profile %q: domain is required", p.Name)
	}
	if len(p.AllowedJurisdictions) == 0 {
		return fmt.Errorf("profile %q: allowed_jurisdictions must not be empty", p.Name)
	}
	for _, j := range p.AllowedJurisdictions {
		if j != strings.ToUpper(j) {
			return fmt.Errorf("profile %q: jurisdiction %q must be uppercase", p.Name, j)
		}
	}
	if p.RetentionPolicy != "" && !knownRetentionPolicies[p.RetentionPolicy] {
		return fmt.Errorf("profile %q: unknown retention_policy %q", p.Name, p.RetentionPolicy)
	}
	if p.RetentionDays < 0 {
		return fmt.Errorf("profile %q: retention_days must not be negative", p.Name)
	}
	return nil
}

// Apply copies the profile's constraints onto a gate request context.
func (p *DomainProfile) Apply(ctx *gate.RequestContext) {
	ctx.Domain = p.Domain
	ctx.AllowedJurisdictions = append([]string(nil), p.AllowedJurisdictions...)
	if len(p.FailureModes) > 0 {
		ctx.FailureModes = append([]string(nil), p.FailureModes...)
	}
	if p.RetentionPolicy != "" {
		ctx.RetentionPolicy = p.RetentionPolicy
	}
	if p.RetentionReason != "" {
		ctx.RetentionReason = p.RetentionReason
	}
}

// LoadDomainProfile loads profile_<domain>.yaml from the profiles directory.
func LoadDomainProfile(profilesDir, domain string) (*DomainProfile, error) {
	domain = strings.ToLower(domain)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", domain))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", domain, err)
	}
	return ParseDomainProfile(data, domain)
}

// ParseDomainProfile parses and validates one profile document.
func ParseDomainProfile(data []byte, fallbackDomain string) (*DomainProfile, error) {
	var profile DomainProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", fallbackDomain, err)
	}
	if profile.Domain == "" {
		profile.Domain = fallbackDomain
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// LoadAllDomainProfiles loads every profile_*.yaml in the directory, keyed
// by domain.
func LoadAllDomainProfiles(profilesDir string) (map[string]*DomainProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DomainProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		base := filepath.Base(path)
		fallback := strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		profile, err := ParseDomainProfile(data, fallback)
		if err != nil {
			return nil, err
		}
		profiles[profile.Domain] = profile
	}
	return profiles, nil
}
