// Package policy gates extracted feature records against configured rules.
package policy

import (
	"fmt"
	"strings"

	"github.com/kluth/npm-feature-extractor/internal/features"
)

// Policy defines the rules a package must satisfy.
type Policy struct {
	// DenyFeatures are feature keys or CSV columns that must not be raised.
	DenyFeatures        []string `yaml:"deny-features" mapstructure:"deny-features"`
	AllowInstallScripts bool     `yaml:"allow-install-scripts" mapstructure:"allow-install-scripts"`
	// MaxDependencies limits runtime dependencies; zero disables the check.
	MaxDependencies int      `yaml:"max-dependencies" mapstructure:"max-dependencies"`
	RequiredScopes  []string `yaml:"required-scopes" mapstructure:"required-scopes"` // e.g. ["@myorg"]
	BannedPackages  []string `yaml:"banned-packages" mapstructure:"banned-packages"`
}

// Violation represents a policy violation.
type Violation struct {
	Rule        string `json:"rule"`
	Description string `json:"description"`
	Package     string `json:"package"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s (%s)", v.Rule, v.Description, v.Package)
}

// Evaluate checks records against the policy. An unknown feature name in
// DenyFeatures is an error.
func Evaluate(records []features.Record, p *Policy) ([]Violation, error) {
	deny := make([]features.Flag, 0, len(p.DenyFeatures))
	for _, name := range p.DenyFeatures {
		f, err := features.ParseFlag(name)
		if err != nil {
			return nil, fmt.Errorf("policy deny-features: %w", err)
		}
		deny = append(deny, f)
	}

	var violations []Violation
	for i := range records {
		r := &records[i]
		id := r.ID()

		for _, f := range deny {
			if r.Has(f) {
				violations = append(violations, Violation{
					Rule:        "deny-feature",
					Description: fmt.Sprintf("Feature %q is raised", f.Key()),
					Package:     id,
				})
			}
		}

		if !p.AllowInstallScripts && r.Has(features.HasInstallScripts) {
			violations = append(violations, Violation{
				Rule:        "no-install-scripts",
				Description: fmt.Sprintf("Package defines install scripts: %s", strings.Join(r.InstallCommands, "; ")),
				Package:     id,
			})
		}

		if p.MaxDependencies > 0 && r.DependencyCount > p.MaxDependencies {
			violations = append(violations, Violation{
				Rule:        "max-dependencies",
				Description: fmt.Sprintf("%d dependencies (limit: %d)", r.DependencyCount, p.MaxDependencies),
				Package:     id,
			})
		}

		for _, banned := range p.BannedPackages {
			if r.PackageName == banned {
				violations = append(violations, Violation{
					Rule:        "banned-package",
					Description: fmt.Sprintf("Package %q is explicitly banned", r.PackageName),
					Package:     id,
				})
			}
		}

		if len(p.RequiredScopes) > 0 {
			hasScope := false
			for _, scope := range p.RequiredScopes {
				if strings.HasPrefix(r.PackageName, scope+"/") {
					hasScope = true
					break
				}
			}
			if !hasScope {
				violations = append(violations, Violation{
					Rule:        "required-scope",
					Description: fmt.Sprintf("Package %q does not belong to required scopes: %v", r.PackageName, p.RequiredScopes),
					Package:     id,
				})
			}
		}
	}

	return violations, nil
}
