// internal/suite/suite.go
package suite

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/qaframe/internal/chain"
	"github.com/xkilldash9x/qaframe/internal/locator"
)

// Action is a UI step kind.
type Action string

const (
	ActionNavigate      Action = "navigate"
	ActionClick         Action = "click"
	ActionType          Action = "type"
	ActionAssertText    Action = "assert_text"
	ActionAssertVisible Action = "assert_visible"
	ActionScreenshot    Action = "screenshot"
)

// UIStep is one browser interaction. Elements are addressed either by an ordered
// locator list, tried in order, or by the name of a strategy set declared on the suite.
type UIStep struct {
	Action   Action   `yaml:"action" validate:"required,oneof=navigate click type assert_text assert_visible screenshot"`
	URL      string   `yaml:"url"`
	Locators []string `yaml:"locators"`
	Strategy string   `yaml:"strategy"`
	Text     string   `yaml:"text"`
	Path     string   `yaml:"path"`
}

// Case is a single test. It runs its chain first, then its UI steps.
type Case struct {
	Name   string   `yaml:"name" validate:"required"`
	Groups []string `yaml:"groups"`
	// Retries overrides suite.retries when set.
	Retries *int              `yaml:"retries" validate:"omitempty,gte=0"`
	Timeout time.Duration     `yaml:"timeout"`
	Chain   *chain.Definition `yaml:"chain"`
	UI      []UIStep          `yaml:"ui" validate:"dive"`
}

// StrategyDef is the YAML form of a locator strategy.
type StrategyDef struct {
	Description string `yaml:"description" validate:"required"`
	// Priority defaults to locator.PriorityPrimary when unset. Lower runs first.
	Priority *int     `yaml:"priority" validate:"omitempty,gte=0"`
	Locators []string `yaml:"locators" validate:"required,min=1"`
}

// Suite is a named collection of cases.
type Suite struct {
	Name    string `yaml:"name" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// Strategies maps an element name to its strategy set.
	Strategies map[string][]StrategyDef `yaml:"strategies" validate:"dive,dive"`
	Cases      []Case                   `yaml:"cases" validate:"required,min=1,dive"`

	sets map[string]locator.Set
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading suite file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a suite. Locators and strategy references are
// resolved here so a bad suite fails before anything runs.
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error decoding suite: %w", err)
	}
	for i := range s.Cases {
		c := &s.Cases[i]
		if c.Chain != nil {
			if c.Chain.Name == "" {
				c.Chain.Name = c.Name
			}
			for j := range c.Chain.Steps {
				c.Chain.Steps[j].Method = strings.ToUpper(strings.TrimSpace(c.Chain.Steps[j].Method))
			}
		}
	}
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid suite %q: %w", s.Name, err)
	}
	if err := s.compile(); err != nil {
		return nil, fmt.Errorf("invalid suite %q: %w", s.Name, err)
	}
	return &s, nil
}

func (s *Suite) compile() error {
	s.sets = make(map[string]locator.Set, len(s.Strategies))
	for name, defs := range s.Strategies {
		set := locator.NewSet()
		for _, d := range defs {
			locs, err := locator.ParseAll(d.Locators)
			if err != nil {
				return fmt.Errorf("strategy %q: %w", name, err)
			}
			prio := locator.PriorityPrimary
			if d.Priority != nil {
				prio = *d.Priority
			}
			set = set.With(locator.NewStrategy(d.Description, prio, locs...))
		}
		s.sets[name] = set
	}

	seen := make(map[string]bool, len(s.Cases))
	for _, c := range s.Cases {
		if seen[c.Name] {
			return fmt.Errorf("duplicate case name %q", c.Name)
		}
		seen[c.Name] = true
		if c.Chain == nil && len(c.UI) == 0 {
			return fmt.Errorf("case %q has neither chain nor ui steps", c.Name)
		}
		for i, step := range c.UI {
			if err := s.checkStep(step); err != nil {
				return fmt.Errorf("case %q step %d: %w", c.Name, i+1, err)
			}
		}
	}
	return nil
}

func (s *Suite) checkStep(step UIStep) error {
	switch step.Action {
	case ActionNavigate:
		if step.URL == "" {
			return fmt.Errorf("navigate needs a url")
		}
		return nil
	case ActionScreenshot:
		return nil
	case ActionType, ActionAssertText:
		if step.Text == "" {
			return fmt.Errorf("%s needs text", step.Action)
		}
	}
	_, err := s.Locators(step)
	return err
}

// Locators returns the ordered locator list for a step.
func (s *Suite) Locators(step UIStep) ([]locator.Locator, error) {
	switch {
	case step.Strategy != "" && len(step.Locators) > 0:
		return nil, fmt.Errorf("step sets both strategy and locators")
	case step.Strategy != "":
		set, ok := s.sets[step.Strategy]
		if !ok {
			return nil, fmt.Errorf("unknown strategy %q", step.Strategy)
		}
		return set.Locators(), nil
	case len(step.Locators) > 0:
		return locator.ParseAll(step.Locators)
	default:
		return nil, fmt.Errorf("%s needs locators or a strategy", step.Action)
	}
}

// Select returns the cases belonging to any of groups, in suite order. No groups
// selects every case.
func (s *Suite) Select(groups []string) []Case {
	if len(groups) == 0 {
		return append([]Case(nil), s.Cases...)
	}
	want := make(map[string]bool, len(groups))
	for _, g := range groups {
		want[strings.TrimSpace(g)] = true
	}
	var out []Case
	for _, c := range s.Cases {
		for _, g := range c.Groups {
			if want[g] {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Groups lists every group named by a case.
func (s *Suite) Groups() []string {
	set := map[string]bool{}
	for _, c := range s.Cases {
		for _, g := range c.Groups {
			set[g] = true
		}
	}
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
