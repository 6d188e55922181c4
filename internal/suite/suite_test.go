package suite

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/qaframe/internal/chain"
	"github.com/xkilldash9x/qaframe/internal/locator"
)

const checkoutSuite = `
name: checkout
base_url: https://shop.test
strategies:
  submit:
    - description: data attribute
      priority: 1
      locators: ["css:[data-test=submit]"]
    - description: visible text
      priority: 2
      locators: ["text:Place order", "xpath://form//button[last()]"]
cases:
  - name: api order
    groups: [smoke, api]
    retries: 2
    chain:
      steps:
        - name: create
          method: post
          endpoint: /orders
          body: {sku: ABC-1}
          expect_status: [201]
          extract: {orderId: id}
  - name: ui order
    groups: [regression]
    ui:
      - action: navigate
        url: /cart
      - action: type
        locators: ["id:coupon", "name:coupon"]
        text: SAVE10
      - action: click
        strategy: submit
      - action: assert_text
        locators: ["id:status"]
        text: Thank you
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(checkoutSuite))
	require.NoError(t, err)

	assert.Equal(t, "checkout", s.Name)
	require.Len(t, s.Cases, 2)
	wantChain := &chain.Definition{
		Name: "api order",
		Steps: []chain.StepDefinition{{
			Name:         "create",
			Method:       "POST",
			Endpoint:     "/orders",
			Body:         map[string]any{"sku": "ABC-1"},
			Extract:      map[string]string{"orderId": "id"},
			ExpectStatus: []int{201},
		}},
	}
	if diff := cmp.Diff(wantChain, s.Cases[0].Chain); diff != "" {
		t.Errorf("inline chain mismatch (-want +got):\n%s", diff)
	}
	require.NotNil(t, s.Cases[0].Retries)
	assert.Equal(t, 2, *s.Cases[0].Retries)
	assert.Nil(t, s.Cases[1].Retries)

	locs, err := s.Locators(s.Cases[1].UI[2])
	require.NoError(t, err)
	assert.Equal(t, []locator.Locator{
		locator.CSS("[data-test=submit]"),
		locator.Text("Place order"),
		locator.XPath("//form//button[last()]"),
	}, locs, "strategy sets flatten in priority order")

	assert.Equal(t, []string{"api", "regression", "smoke"}, s.Groups())
}

func TestParse_ExplicitZeroPriorityRunsFirst(t *testing.T) {
	s, err := Parse([]byte(`
name: priorities
strategies:
  submit:
    - description: default priority
      locators: ["id:submit"]
    - description: fallback
      priority: 2
      locators: ["text:Submit"]
    - description: pinned first
      priority: 0
      locators: ["css:[data-test=submit]"]
cases:
  - name: submit
    ui:
      - action: click
        strategy: submit
`))
	require.NoError(t, err)

	locs, err := s.Locators(s.Cases[0].UI[0])
	require.NoError(t, err)
	assert.Equal(t, []locator.Locator{
		locator.CSS("[data-test=submit]"),
		locator.ID("submit"),
		locator.Text("Submit"),
	}, locs)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no cases",
			yaml: "name: empty\n",
			want: "Cases",
		},
		{
			name: "case without steps",
			yaml: "name: s\ncases:\n  - name: nothing\n",
			want: "neither chain nor ui",
		},
		{
			name: "duplicate case",
			yaml: "name: s\ncases:\n  - name: a\n    ui: [{action: screenshot}]\n  - name: a\n    ui: [{action: screenshot}]\n",
			want: "duplicate case",
		},
		{
			name: "unknown strategy",
			yaml: "name: s\ncases:\n  - name: a\n    ui: [{action: click, strategy: nope}]\n",
			want: `unknown strategy "nope"`,
		},
		{
			name: "bad locator",
			yaml: "name: s\ncases:\n  - name: a\n    ui: [{action: click, locators: [\"shadow:x\"]}]\n",
			want: "shadow",
		},
		{
			name: "unknown action",
			yaml: "name: s\ncases:\n  - name: a\n    ui: [{action: hover, locators: [\"id:x\"]}]\n",
			want: "Action",
		},
		{
			name: "type without text",
			yaml: "name: s\ncases:\n  - name: a\n    ui: [{action: type, locators: [\"id:x\"]}]\n",
			want: "type needs text",
		},
		{
			name: "navigate without url",
			yaml: "name: s\ncases:\n  - name: a\n    ui: [{action: navigate}]\n",
			want: "navigate needs a url",
		},
		{
			name: "strategy and locators",
			yaml: "name: s\nstrategies: {b: [{description: d, locators: [\"id:b\"]}]}\ncases:\n  - name: a\n    ui: [{action: click, strategy: b, locators: [\"id:x\"]}]\n",
			want: "both strategy and locators",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSelect(t *testing.T) {
	s, err := Parse([]byte(checkoutSuite))
	require.NoError(t, err)

	names := func(cases []Case) []string {
		var out []string
		for _, c := range cases {
			out = append(out, c.Name)
		}
		return out
	}

	assert.Equal(t, []string{"api order", "ui order"}, names(s.Select(nil)))
	assert.Equal(t, []string{"api order"}, names(s.Select([]string{"smoke"})))
	assert.Equal(t, []string{"api order", "ui order"}, names(s.Select([]string{"regression", " api "})))
	assert.Empty(t, s.Select([]string{"perf"}))
}
