// Package catalog loads the static compliance policies, disclosure scripts and
// call flows the engine starts with. The built-in set is embedded; operators
// can layer a YAML file of the same shape over it.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
	"github.com/tetrixcorps/compliantivr/internal/ivr/types"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var ErrInvalidCatalog = errors.New("invalid catalog")

type Catalog struct {
	Policies []types.CompliancePolicy `yaml:"policies"`
	Scripts  []types.DisclosureScript `yaml:"scripts"`
	Flows    []types.CallFlow         `yaml:"flows"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultsYAML)
}

// Load returns the embedded catalog, merged with the file at path when path
// is not empty.
func Load(path string) (*Catalog, error) {
	c, err := Default()
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	if strings.TrimSpace(path) == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	override, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	c.Merge(override)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("merged catalog: %w", err)
	}
	return c, nil
}

// Parse decodes, normalises and validates a catalog document. Unknown keys
// are rejected.
func Parse(data []byte) (*Catalog, error) {
	c, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// decode parses without cross-reference checks so an override file may
// point at scripts that only exist in the embedded set.
func decode(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	c.normalize()
	return &c, nil
}

// Merge replaces entries of c by id with those of o and appends new ones.
// Scripts are keyed by (id, version).
func (c *Catalog) Merge(o *Catalog) {
	for _, p := range o.Policies {
		replaced := false
		for i := range c.Policies {
			if c.Policies[i].PolicyID == p.PolicyID {
				c.Policies[i], replaced = p, true
				break
			}
		}
		if !replaced {
			c.Policies = append(c.Policies, p)
		}
	}
	for _, s := range o.Scripts {
		replaced := false
		for i := range c.Scripts {
			if c.Scripts[i].ScriptID == s.ScriptID && c.Scripts[i].Version == s.Version {
				c.Scripts[i], replaced = s, true
				break
			}
		}
		if !replaced {
			c.Scripts = append(c.Scripts, s)
		}
	}
	for _, f := range o.Flows {
		replaced := false
		for i := range c.Flows {
			if c.Flows[i].ID == f.ID {
				c.Flows[i], replaced = f, true
				break
			}
		}
		if !replaced {
			c.Flows = append(c.Flows, f)
		}
	}
}

func (c *Catalog) Validate() error {
	scripts := make(map[string]struct{}, len(c.Scripts))
	for _, s := range c.Scripts {
		if s.ScriptID == "" || s.Version < 1 {
			return fmt.Errorf("%w: script %q needs an id and a version >= 1", ErrInvalidCatalog, s.ScriptID)
		}
		if strings.TrimSpace(s.ScriptText) == "" {
			return fmt.Errorf("%w: script %s v%d has no text", ErrInvalidCatalog, s.ScriptID, s.Version)
		}
		if _, err := language.Parse(s.Language); err != nil {
			return fmt.Errorf("%w: script %s language %q: %v", ErrInvalidCatalog, s.ScriptID, s.Language, err)
		}
		scripts[s.ScriptID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(c.Policies))
	for _, p := range c.Policies {
		if p.PolicyID == "" || p.TenantID == "" {
			return fmt.Errorf("%w: policy %q needs policy_id and tenant_id", ErrInvalidCatalog, p.PolicyID)
		}
		if _, dup := seen[p.PolicyID]; dup {
			return fmt.Errorf("%w: duplicate policy %s", ErrInvalidCatalog, p.PolicyID)
		}
		seen[p.PolicyID] = struct{}{}
		if p.RequiresDisclosure {
			if _, ok := scripts[p.DisclosureScriptID]; !ok {
				return fmt.Errorf("%w: policy %s references unknown script %q", ErrInvalidCatalog, p.PolicyID, p.DisclosureScriptID)
			}
		}
		for _, r := range p.EscalationRules {
			if !r.Condition.Valid() {
				return fmt.Errorf("%w: policy %s: unknown escalation condition %q", ErrInvalidCatalog, p.PolicyID, r.Condition)
			}
		}
	}

	for _, f := range c.Flows {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
	}
	return nil
}

// Install writes policies and scripts to ps and hands every flow to
// register. A nil register skips the flows.
func (c *Catalog) Install(ctx context.Context, ps store.PolicyStore, register func(context.Context, types.CallFlow) error) error {
	for _, s := range c.Scripts {
		if err := ps.PutScript(ctx, s); err != nil {
			return fmt.Errorf("install script %s v%d: %w", s.ScriptID, s.Version, err)
		}
	}
	for _, p := range c.Policies {
		if err := ps.PutPolicy(ctx, p); err != nil {
			return fmt.Errorf("install policy %s: %w", p.PolicyID, err)
		}
	}
	if register == nil {
		return nil
	}
	for _, f := range c.Flows {
		if err := register(ctx, f); err != nil {
			return fmt.Errorf("install flow %s: %w", f.ID, err)
		}
	}
	return nil
}

func (c *Catalog) normalize() {
	title := cases.Title(language.English)
	for i := range c.Flows {
		f := &c.Flows[i]
		if f.Name == "" && f.Industry != "" {
			f.Name = title.String(strings.ReplaceAll(f.Industry, "_", " ")) + " Main Menu"
		}
	}
	for i := range c.Scripts {
		s := &c.Scripts[i]
		if tag, err := language.Parse(s.Language); err == nil {
			s.Language = tag.String()
		}
		s.ScriptText = strings.TrimSpace(s.ScriptText)
	}
	for i := range c.Policies {
		p := &c.Policies[i]
		for j := range p.EscalationRules {
			if p.EscalationRules[j].Action == "" {
				p.EscalationRules[j].Action = "transfer_to_agent"
			}
		}
	}
}
