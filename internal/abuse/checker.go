// Package abuse screens requests against an OPA policy before any token is parsed.
package abuse

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const policyQuery = "data.portfolio.abuse.deny"

// Deny reasons produced by the default policy.
const (
	ReasonIPBlacklisted    = "ip_blacklisted"
	ReasonCountryBlocked   = "country_blocked"
	ReasonUserAgentBlocked = "user_agent_blocked"
	ReasonHoneypot         = "honeypot_triggered"
)

// DefaultBlockedUserAgents are scanner and scraper signatures matched against
// the lower-cased User-Agent.
var DefaultBlockedUserAgents = []string{
	"sqlmap", "nikto", "nmap", "masscan", "zgrab", "nuclei", "dirbuster", "gobuster",
	"wpscan", "acunetix", "python-requests", "scrapy", "httrack", "crawler", "spider", "scraper",
}

// DefaultPolicy is used unless a custom module is supplied. Custom modules must
// define the same package and a deny set of reason strings.
const DefaultPolicy = `package portfolio.abuse

deny contains "ip_blacklisted" if {
	input.request.ip in input.config.ip_blacklist
}

deny contains "country_blocked" if {
	input.request.country != ""
	upper(input.request.country) in input.config.blocked_countries
}

deny contains "user_agent_blocked" if {
	some pattern in input.config.blocked_user_agents
	regex.match(pattern, lower(input.request.user_agent))
}

deny contains "honeypot_triggered" if {
	input.request.honeypot != ""
}
`

// Request is what the policy sees of an incoming request.
type Request struct {
	IP        string
	UserAgent string
	Country   string
	// Honeypot is the value of the hidden form field; bots fill it, people do not.
	Honeypot string
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	Reasons []string
}

// Lists are the operator-configured block lists passed to the policy as input.config.
type Lists struct {
	IPBlacklist       []string
	BlockedCountries  []string
	BlockedUserAgents []string
}

// Checker evaluates the abuse policy. The query is prepared once and is safe for concurrent use.
type Checker struct {
	query  rego.PreparedEvalQuery
	config map[string]interface{}
	logger *zap.Logger
}

// NewChecker compiles module (DefaultPolicy when empty) and binds lists. Empty
// BlockedUserAgents falls back to DefaultBlockedUserAgents.
func NewChecker(ctx context.Context, lists Lists, module string, logger *zap.Logger) (*Checker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if module == "" {
		module = DefaultPolicy
	}
	agents := lists.BlockedUserAgents
	if len(agents) == 0 {
		agents = DefaultBlockedUserAgents
	}
	for _, p := range agents {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("abuse: invalid user agent pattern %q: %w", p, err)
		}
	}
	countries := make([]string, len(lists.BlockedCountries))
	for i, c := range lists.BlockedCountries {
		countries[i] = strings.ToUpper(c)
	}

	compiler, err := ast.CompileModules(map[string]string{"abuse.rego": module})
	if err != nil {
		return nil, fmt.Errorf("abuse: compile policy: %w", err)
	}
	query, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("abuse: prepare policy: %w", err)
	}
	return &Checker{
		query: query,
		config: map[string]interface{}{
			"ip_blacklist":        toInterfaces(lists.IPBlacklist),
			"blocked_countries":   toInterfaces(countries),
			"blocked_user_agents": toInterfaces(agents),
		},
		logger: logger.With(zap.String("component", "abuse")),
	}, nil
}

// LoadPolicyFile reads a custom Rego module from path.
func LoadPolicyFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("abuse: read policy: %w", err)
	}
	return string(b), nil
}

// Check evaluates req. Evaluation errors are logged and the request is allowed;
// token validation still runs after this check.
func (c *Checker) Check(ctx context.Context, req Request) Decision {
	input := map[string]interface{}{
		"request": map[string]interface{}{
			"ip":         req.IP,
			"user_agent": req.UserAgent,
			"country":    req.Country,
			"honeypot":   req.Honeypot,
		},
		"config": c.config,
	}
	rs, err := c.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		c.logger.Error("abuse policy evaluation failed", zap.Error(err))
		return Decision{Allowed: true}
	}
	reasons := denyReasons(rs)
	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}
}

// HealthCheck evaluates the policy against an empty request.
func (c *Checker) HealthCheck(ctx context.Context) error {
	rs, err := c.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"request": map[string]interface{}{"ip": "", "user_agent": "", "country": "", "honeypot": ""},
		"config":  c.config,
	}))
	if err != nil {
		return fmt.Errorf("abuse: eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("abuse: policy query returned no result")
	}
	return nil
}

func denyReasons(rs rego.ResultSet) []string {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}
	vals, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
