package chain

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Definition is a chain declared in YAML.
//
//	name: order checkout
//	vars: {sku: ABC-1}
//	steps:
//	  - name: create order
//	    method: POST
//	    endpoint: /orders
//	    auth: user
//	    body: {sku: "${sku}", qty: 1}
//	    expect_status: [201]
//	    extract: {orderId: data.id}
//	  - name: pay
//	    method: POST
//	    endpoint: /orders/${orderId}/payments
//	    body: {order: "${orderId}"}
//	    expect: {data.state: paid}
type Definition struct {
	Name  string           `yaml:"name" validate:"required"`
	Vars  map[string]any   `yaml:"vars"`
	Steps []StepDefinition `yaml:"steps" validate:"required,min=1,dive"`
}

// StepDefinition is the declarative form of a Step. Without expect_status any 2xx
// status passes.
type StepDefinition struct {
	Name         string            `yaml:"name" validate:"required"`
	Method       string            `yaml:"method" validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	Endpoint     string            `yaml:"endpoint" validate:"required"`
	Headers      map[string]string `yaml:"headers"`
	Body         any               `yaml:"body"`
	Auth         string            `yaml:"auth"`
	Extract      map[string]string `yaml:"extract"`
	ExpectStatus []int             `yaml:"expect_status" validate:"dive,gte=100,lte=599"`
	Expect       map[string]any    `yaml:"expect"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseDefinition decodes and validates a YAML chain definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("error decoding chain definition: %w", err)
	}
	for i := range def.Steps {
		def.Steps[i].Method = strings.ToUpper(strings.TrimSpace(def.Steps[i].Method))
	}
	if err := validate.Struct(&def); err != nil {
		return nil, fmt.Errorf("invalid chain definition %q: %w", def.Name, err)
	}
	return &def, nil
}

// LoadDefinition reads a chain definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading chain definition: %w", err)
	}
	return ParseDefinition(data)
}

// Build converts the definition into executable steps.
func (d *Definition) Build() []Step {
	steps := make([]Step, 0, len(d.Steps))
	for _, sd := range d.Steps {
		steps = append(steps, sd.Build())
	}
	return steps
}

// Build converts one step definition.
func (sd StepDefinition) Build() Step {
	status := ExpectSuccess()
	if len(sd.ExpectStatus) > 0 {
		status = ExpectStatus(sd.ExpectStatus...)
	}
	validators := []Validator{status}
	for _, path := range sortedKeysAny(sd.Expect) {
		validators = append(validators, ExpectValue(path, sd.Expect[path]))
	}

	step := Step{
		Name:     sd.Name,
		Method:   sd.Method,
		Endpoint: sd.Endpoint,
		Headers:  sd.Headers,
		Body:     sd.Body,
		Auth:     sd.Auth,
		Validate: All(validators...),
	}
	if sd.Method == "" {
		step.Method = http.MethodGet
	}
	if len(sd.Extract) > 0 {
		step.Extract = Paths(sd.Extract)
	}
	return step
}

// Run executes the definition with its vars as the initial context.
func (e *Executor) Run(ctx context.Context, d *Definition) (*Result, error) {
	e.logger.Info("Executing chain.", zap.String("chain", d.Name), zap.Int("steps", len(d.Steps)))
	return e.ExecuteWith(ctx, d.Vars, d.Build())
}

func sortedKeysAny(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
