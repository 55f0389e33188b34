package version

import (
	"fmt"
	"strings"

	"github.com/strataquant/dslengine/errs"
)

// Compatibility classifies how a script written for one version relates to
// the next.
type Compatibility string

const (
	// Compatible scripts run unchanged.
	Compatible Compatibility = "COMPATIBLE"
	// AutoMigratable scripts are rewritten mechanically by the rule.
	AutoMigratable Compatibility = "AUTO_MIGRATABLE"
	// ManualRequired scripts need author attention; migration fails with
	// guidance.
	ManualRequired Compatibility = "MANUAL_REQUIRED"
	// Deprecated versions are no longer accepted at all.
	Deprecated Compatibility = "DEPRECATED"
)

// Rule migrates scripts across one version step.
type Rule struct {
	From          Version
	To            Version
	Compatibility Compatibility
	// Notes surfaces as a warning on compatible steps and as guidance on
	// manual ones.
	Notes string
	// Apply rewrites the source for AUTO_MIGRATABLE steps.
	Apply func(source string) (string, error)
}

// Migration is the outcome of migrating one script.
type Migration struct {
	Source   string   `json:"source"`
	From     Version  `json:"from"`
	To       Version  `json:"to"`
	Steps    []string `json:"steps"`
	Warnings []string `json:"warnings"`
	Changed  bool     `json:"changed"`
}

// Registry holds the ordered migration rules. The zero value is unusable;
// NewRegistry seeds the rules the engine ships with.
type Registry struct {
	rules []Rule
}

// NewRegistry builds the registry with the built-in migration chain.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(Rule{
		From:          MustParse("1.0.0"),
		To:            MustParse("1.1.0"),
		Compatibility: AutoMigratable,
		Notes:         "cross(a, b) was split into crosses_over and crosses_under",
		Apply: func(source string) (string, error) {
			return strings.ReplaceAll(source, "cross(", "crosses_over("), nil
		},
	})
	r.Register(Rule{
		From:          MustParse("1.1.0"),
		To:            MustParse("1.2.0"),
		Compatibility: Compatible,
		Notes:         "1.2.0 adds pattern detectors; existing scripts run unchanged",
	})
	return r
}

// Register appends a rule.
func (r *Registry) Register(rule Rule) {
	r.rules = append(r.rules, rule)
}

// Rules returns the registered rules.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// path finds the chain of rules from one version to another by greedily
// following the single registered step out of each version. Returns an error
// if the chain never reaches the target.
func (r *Registry) path(from, to Version) ([]Rule, error) {
	if from.Equal(to) {
		return nil, nil
	}
	if to.Before(from) {
		return nil, errs.New("version", errs.CodeMigration,
			errs.WithMessage(fmt.Sprintf("cannot migrate backwards from %s to %s", from, to)))
	}
	var chain []Rule
	cursor := from
	for !cursor.Equal(to) {
		next, ok := r.stepFrom(cursor)
		if !ok {
			return nil, errs.New("version", errs.CodeMigration,
				errs.WithMessage(fmt.Sprintf("no migration path from %s to %s", from, to)),
				errs.WithRemediation("rewrite the script for the current language version"))
		}
		chain = append(chain, next)
		cursor = next.To
	}
	return chain, nil
}

func (r *Registry) stepFrom(v Version) (Rule, bool) {
	for _, rule := range r.rules {
		if rule.From.Equal(v) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Migrate brings a script from its declared version up to target. Fail
// closed: any step that is deprecated, needs manual work, or has no rule
// returns an error rather than running the script under wrong semantics.
func (r *Registry) Migrate(source string, from, to Version) (*Migration, error) {
	chain, err := r.path(from, to)
	if err != nil {
		return nil, err
	}
	out := &Migration{Source: source, From: from, To: to}
	for _, rule := range chain {
		step := fmt.Sprintf("%s -> %s", rule.From, rule.To)
		switch rule.Compatibility {
		case Deprecated:
			return nil, errs.New("version", errs.CodeMigration,
				errs.WithMessage(fmt.Sprintf("version %s is deprecated", rule.From)),
				errs.WithRemediation("rewrite the script for the current language version"))
		case ManualRequired:
			return nil, errs.New("version", errs.CodeMigration,
				errs.WithMessage(fmt.Sprintf("migration %s requires manual changes: %s", step, rule.Notes)))
		case AutoMigratable:
			if rule.Apply == nil {
				return nil, errs.New("version", errs.CodeMigration,
					errs.WithMessage(fmt.Sprintf("migration %s has no rewrite rule", step)))
			}
			migrated, err := rule.Apply(out.Source)
			if err != nil {
				return nil, errs.New("version", errs.CodeMigration,
					errs.WithMessage(fmt.Sprintf("migration %s failed", step)),
					errs.WithCause(err))
			}
			if migrated != out.Source {
				out.Changed = true
			}
			out.Source = migrated
			out.Steps = append(out.Steps, step)
		case Compatible:
			out.Steps = append(out.Steps, step)
			if rule.Notes != "" {
				out.Warnings = append(out.Warnings, rule.Notes)
			}
		default:
			return nil, errs.New("version", errs.CodeMigration,
				errs.WithMessage(fmt.Sprintf("migration %s has unknown compatibility %q", step, rule.Compatibility)))
		}
	}
	return out, nil
}
