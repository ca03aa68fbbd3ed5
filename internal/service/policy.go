package service

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/ModGuard/internal/domain"
)

//go:embed policies/default.yaml
var policyFS embed.FS

// PolicyDoc is one policy excerpt indexed for retrieval.
type PolicyDoc struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
	Title    string `yaml:"title"`
	Text     string `yaml:"text"`
}

type policyFile struct {
	Policies []PolicyDoc `yaml:"policies"`
}

// DefaultPolicies returns the built-in policy corpus.
func DefaultPolicies() ([]PolicyDoc, error) {
	data, err := policyFS.ReadFile("policies/default.yaml")
	if err != nil {
		return nil, fmt.Errorf("read default policies: %w", err)
	}
	return parsePolicies(data)
}

// LoadPolicies reads a policy corpus from a YAML file.
func LoadPolicies(path string) ([]PolicyDoc, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return parsePolicies(data)
}

func parsePolicies(data []byte) ([]PolicyDoc, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policies: %w", err)
	}
	for i, p := range f.Policies {
		if p.ID == "" || p.Text == "" {
			return nil, fmt.Errorf("policy %d: id and text are required: %w", i, domain.ErrValidation)
		}
	}
	return f.Policies, nil
}

// SeedPolicies indexes docs into the policy collection. Already indexed
// policies are skipped. It returns the number of documents processed.
func SeedPolicies(ctx context.Context, sim *SimilarityService, docs []PolicyDoc) (int, error) {
	var errs []error
	n := 0
	for _, p := range docs {
		err := sim.AddPolicy(ctx, "policy_"+p.ID, p.Text, map[string]any{
			"policy_id":     p.ID,
			metaCategory:    p.Category,
			metaPolicyTitle: p.Title,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("policy %s: %w", p.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}
