// Package extract pulls rows from an external, campaign-owner-controlled
// database and maps them into canonical transactions.
package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Canonical targets with dedicated columns on the transaction record.
// Everything else lands in the opaque field map only.
const (
	TargetExternalID   = "externalId"
	TargetExternalType = "externalType"
	TargetUserID       = "userId"
	TargetCreatedAt    = "createdAt"
)

// FieldMapping maps one source column to a canonical field.
type FieldMapping struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Required  bool   `json:"required"`
	Transform string `json:"transform,omitempty"`
}

// SourceConfig is the opaque data-source configuration carried on a
// job. The query is a SQL template with named placeholders
// (:campaignId, :lastProcessedDate) bound at run time.
type SourceConfig struct {
	Driver string         `json:"driver"`
	DSN    string         `json:"dsn"`
	Query  string         `json:"query"`
	Schema []FieldMapping `json:"schema"`
}

// ParseSourceConfig decodes and validates a data-source configuration.
// Validation failures are configuration errors: fatal to the execution,
// surfaced before any row is pulled.
func ParseSourceConfig(raw []byte) (*SourceConfig, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("data source config is empty")
	}

	var cfg SourceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse data source config: %w", err)
	}

	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("data source config: missing dsn")
	}
	if strings.TrimSpace(cfg.Query) == "" {
		return nil, fmt.Errorf("data source config: missing query")
	}
	if len(cfg.Schema) == 0 {
		return nil, fmt.Errorf("data source config: missing field schema")
	}

	hasExternalID := false
	for i, m := range cfg.Schema {
		if m.Source == "" || m.Target == "" {
			return nil, fmt.Errorf("data source config: schema entry %d missing source or target", i)
		}
		if !validTransform(m.Transform) {
			return nil, fmt.Errorf("data source config: schema entry %d: unknown transform %q", i, m.Transform)
		}
		if m.Target == TargetExternalID {
			hasExternalID = true
		}
	}
	if !hasExternalID {
		return nil, fmt.Errorf("data source config: schema must map %s", TargetExternalID)
	}

	return &cfg, nil
}

func validTransform(name string) bool {
	switch name {
	case "", "lowercase", "uppercase", "trim", "number", "date":
		return true
	}
	return false
}
