package config

import (
	"github.com/rflorenc/dify-migration-workbench/internal/migration"
	"github.com/rflorenc/dify-migration-workbench/internal/models"
	"github.com/rflorenc/dify-migration-workbench/internal/pagination"
	"github.com/rflorenc/dify-migration-workbench/internal/platform"
)

// Endpoint converts the config entry into the model used by the clients.
func (e EndpointConfig) Endpoint() models.Endpoint {
	return models.Endpoint{
		Label:    e.Label,
		BaseURL:  e.BaseURL,
		APIKey:   e.APIKey,
		Email:    e.Email,
		Password: e.Password,
		Insecure: e.Insecure,
	}
}

// Endpoints returns the configured sources in order.
func (c *Config) Endpoints() []models.Endpoint {
	eps := make([]models.Endpoint, 0, len(c.Sources))
	for _, s := range c.Sources {
		eps = append(eps, s.Endpoint())
	}
	return eps
}

// FetchOptions returns the paging and retry settings for listings.
func (c *Config) FetchOptions() pagination.Options {
	m := c.Migration
	return pagination.Options{
		PageSize: m.PageSize,
		MaxPages: m.MaxPages,
		Attempts: m.RetryAttempts,
		Delay:    m.RetryDelay,
	}
}

// MigrationOptions maps the configuration onto a migration run.
func (c *Config) MigrationOptions() (migration.Options, error) {
	m := c.Migration
	mode, err := migration.ParseTransferMode(m.Mode)
	if err != nil {
		return migration.Options{}, err
	}
	return migration.Options{
		Sources:  c.Endpoints(),
		Target:   c.Target.Endpoint(),
		Parallel: m.Parallel,
		Lane: migration.LaneOptions{
			SkipExisting: m.SkipExisting,
			AutoCreate:   m.AutoCreate,
			Mode:         mode,
			Exclude:      m.Exclude,
		},
		IncludeSecrets:   m.IncludeSecrets,
		DedupOnReuse:     m.DedupOnReuse,
		SegmentBatchSize: m.SegmentBatchSize,
		AppPageSize:      m.AppPageSize,
		Client: platform.ClientOptions{
			RequestTimeout: m.RequestTimeout,
			ImportTimeout:  m.ImportTimeout,
			RateLimit:      m.RateLimit,
		},
	}, nil
}
