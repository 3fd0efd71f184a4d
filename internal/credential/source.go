package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aiproxy-go/internal/models"
)

// ErrUnauthorized is returned when the caller token matches no secret scope.
var ErrUnauthorized = errors.New("credential: unauthorized token")

// Source resolves the upstream secrets a caller may use for one model.
type Source interface {
	GetSecrets(ctx context.Context, q Lookup) ([]APISecret, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q Lookup) ([]APISecret, error)

func (f SourceFunc) GetSecrets(ctx context.Context, q Lookup) ([]APISecret, error) {
	return f(ctx, q)
}

// MatchesModel applies model allow-lists. A secret with an explicit model
// list serves only those models; otherwise the model's format decides which
// provider types qualify. Generic OpenAI-compatible vendors other than
// OpenAI and Azure need an explicit list.
func MatchesModel(s APISecret, model string) bool {
	if model == "" {
		return true
	}
	if len(s.Metadata.Models) > 0 {
		return s.HasModel(model)
	}
	for _, t := range models.ProviderTypes(model) {
		if t == s.Type {
			if t == TypeVertex || t == TypeBedrock {
				spec, _ := models.Lookup(model)
				return spec.ValidLocation(s.Metadata.Region)
			}
			return true
		}
	}
	return false
}

// FilterForModel returns the secrets usable for model, preserving order.
func FilterForModel(secrets []APISecret, model string) []APISecret {
	out := make([]APISecret, 0, len(secrets))
	for _, s := range secrets {
		if MatchesModel(s, model) {
			out = append(out, s)
		}
	}
	return out
}

// FilterByEndpoint keeps only secrets whose name equals endpointName.
func FilterByEndpoint(secrets []APISecret, endpointName string) []APISecret {
	if strings.TrimSpace(endpointName) == "" {
		return secrets
	}
	out := make([]APISecret, 0, 1)
	for _, s := range secrets {
		if s.Name == endpointName {
			out = append(out, s)
		}
	}
	return out
}

func authorized(s APISecret, q Lookup) bool {
	if len(s.Tokens) > 0 && !contains(s.Tokens, q.AuthToken) {
		return false
	}
	if q.OrgName != "" && s.OrgName != "" && s.OrgName != q.OrgName {
		return false
	}
	if q.ProjectID != "" && len(s.Projects) > 0 && !contains(s.Projects, q.ProjectID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func validate(s APISecret) error {
	if s.Type == "" {
		return fmt.Errorf("secret %q: type is required", s.DisplayName())
	}
	switch s.Type {
	case TypeBedrock:
		if s.Metadata.AccessKey == "" || s.Metadata.Region == "" {
			return fmt.Errorf("secret %q: bedrock requires access_key and region", s.DisplayName())
		}
	case TypeAzure:
		if s.Metadata.APIBase == "" {
			return fmt.Errorf("secret %q: azure requires api_base", s.DisplayName())
		}
	case TypeDatabricks:
		if s.Metadata.APIBase == "" {
			return fmt.Errorf("secret %q: databricks requires api_base", s.DisplayName())
		}
	case TypeVertex:
		if s.Metadata.Project == "" {
			return fmt.Errorf("secret %q: vertex requires project", s.DisplayName())
		}
	}
	return nil
}
