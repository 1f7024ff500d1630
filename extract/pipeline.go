package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/loyaltyops/accrual-core/internal/logger"
	"github.com/loyaltyops/accrual-core/transaction"
)

const defaultMaxRetries = 3

// Result summarizes one extraction run.
type Result struct {
	RecordsProcessed  int        `json:"recordsProcessed"`
	RecordsInserted   int        `json:"recordsInserted"`
	Errors            int        `json:"errors"`
	ExecutionTimeMs   int64      `json:"executionTimeMs"`
	LastProcessedDate *time.Time `json:"lastProcessedDate,omitempty"`
}

// OpenFunc opens a connection pool to the source database. Swapped for
// a sqlmock-backed opener in tests.
type OpenFunc func(driverName, dsn string) (*sqlx.DB, error)

// Pipeline pulls rows from a campaign's source database and persists
// them as PENDING transactions. Each run opens its own scoped pool and
// closes it before returning.
type Pipeline struct {
	txns   transaction.Store
	open   OpenFunc
	logger logger.Interface
}

func NewPipeline(txns transaction.Store, log logger.Interface) *Pipeline {
	return &Pipeline{txns: txns, open: sqlx.Open, logger: log}
}

// NewPipelineWithOpener is the test seam for injecting a fake source.
func NewPipelineWithOpener(txns transaction.Store, open OpenFunc, log logger.Interface) *Pipeline {
	return &Pipeline{txns: txns, open: open, logger: log}
}

// RunOnce executes the configured query once and ingests every row.
// When incremental is true the :lastProcessedDate placeholder is bound
// to the campaign's current watermark, so only rows newer than the last
// ingested transaction are pulled. Row-level problems are counted and
// logged, never fatal; already-ingested rows are skipped silently.
func (p *Pipeline) RunOnce(ctx context.Context, campaignID string, cfg *SourceConfig, incremental bool) (*Result, error) {
	started := time.Now()

	args := map[string]any{"campaignId": campaignID}
	if incremental {
		watermark, err := p.txns.Watermark(ctx, campaignID)
		if err != nil {
			return nil, fmt.Errorf("load watermark: %w", err)
		}
		if watermark == nil {
			// First incremental run behaves like an initial load.
			epoch := time.Unix(0, 0).UTC()
			watermark = &epoch
		}
		args["lastProcessedDate"] = *watermark
	}

	db, err := p.open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open source database: %w", err)
	}
	defer db.Close()

	query, bound, err := sqlx.Named(cfg.Query, args)
	if err != nil {
		return nil, fmt.Errorf("bind query parameters: %w", err)
	}
	query = db.Rebind(query)

	rows, err := db.QueryxContext(ctx, query, bound...)
	if err != nil {
		return nil, fmt.Errorf("run extraction query: %w", err)
	}
	defer rows.Close()

	result := &Result{}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return result, fmt.Errorf("scan source row: %w", err)
		}
		result.RecordsProcessed++

		txn, err := p.mapRow(campaignID, row, cfg.Schema)
		if err != nil {
			result.Errors++
			p.logger.Warn("skipping unmappable row",
				"campaign_id", campaignID, "error", err)
			continue
		}

		if err := p.txns.Insert(ctx, txn); err != nil {
			if errors.Is(err, transaction.ErrDuplicate) {
				continue
			}
			result.Errors++
			p.logger.Error("insert transaction",
				"campaign_id", campaignID, "external_id", txn.ExternalID, "error", err)
			continue
		}

		result.RecordsInserted++
		if result.LastProcessedDate == nil || txn.CreatedAt.After(*result.LastProcessedDate) {
			t := txn.CreatedAt
			result.LastProcessedDate = &t
		}
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("iterate source rows: %w", err)
	}

	result.ExecutionTimeMs = time.Since(started).Milliseconds()
	p.logger.Info("extraction run finished",
		"campaign_id", campaignID,
		"incremental", incremental,
		"processed", result.RecordsProcessed,
		"inserted", result.RecordsInserted,
		"errors", result.Errors)
	return result, nil
}

// mapRow applies the field schema to one source row. A missing value is
// stored as null so rule conditions can distinguish absent from empty;
// for required fields the gap is also logged. Only a row that ends up
// without an external id is rejected, since it could never be
// deduplicated.
func (p *Pipeline) mapRow(campaignID string, row map[string]any, schema []FieldMapping) (*transaction.Transaction, error) {
	txn := &transaction.Transaction{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		Data:       transaction.FieldMap{},
		Status:     transaction.StatusPending,
		MaxRetries: defaultMaxRetries,
	}

	for _, m := range schema {
		raw, ok := row[m.Source]
		if !ok || raw == nil {
			if m.Required {
				p.logger.Warn("required source column is missing, storing null",
					"campaign_id", campaignID, "column", m.Source, "target", m.Target)
			}
			txn.Data[m.Target] = nil
			continue
		}

		value, err := applyTransform(normalize(raw), m.Transform)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", m.Source, err)
		}
		txn.Data[m.Target] = value

		switch m.Target {
		case TargetExternalID:
			txn.ExternalID = fmt.Sprintf("%v", value)
		case TargetExternalType:
			txn.ExternalType = fmt.Sprintf("%v", value)
		case TargetUserID:
			txn.UserID = fmt.Sprintf("%v", value)
		case TargetCreatedAt:
			created, err := txn.Data.Time(TargetCreatedAt)
			if err != nil {
				return nil, err
			}
			txn.CreatedAt = created
		}
	}

	if txn.ExternalID == "" {
		return nil, fmt.Errorf("row has empty %s", TargetExternalID)
	}
	return txn, nil
}

// normalize unwraps driver-level representations: lib/pq hands text
// columns back as []byte.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func applyTransform(v any, transform string) (any, error) {
	switch transform {
	case "":
		return v, nil
	case "lowercase":
		return strings.ToLower(fmt.Sprintf("%v", v)), nil
	case "uppercase":
		return strings.ToUpper(fmt.Sprintf("%v", v)), nil
	case "trim":
		return strings.TrimSpace(fmt.Sprintf("%v", v)), nil
	case "number":
		f, err := transaction.CoerceNumber(v)
		if err != nil {
			return nil, err
		}
		return f, nil
	case "date":
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
		s := fmt.Sprintf("%v", v)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as date", s)
	default:
		return nil, fmt.Errorf("unknown transform %q", transform)
	}
}
