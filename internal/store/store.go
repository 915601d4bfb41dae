// Package store persists turns, usage records and groundedness verdicts
// through gorm. User text and answers are encrypted at rest when a key is
// configured.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ppiankov/groundwork/internal/logging"
	"github.com/ppiankov/groundwork/internal/model"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// Store is the gorm-backed Recorder
type Store struct {
	db    *gorm.DB
	codec *Codec
	log   logging.Logger
}

// Open connects to the configured database and migrates the schema
func Open(cfg model.StorageConfig, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{log: log}, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "postgres" {
		if err := configurePool(db); err != nil {
			return nil, err
		}
	}

	codec, err := NewCodec(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	s := New(db, codec, log)
	if err := s.Migrate(); err != nil {
		return nil, err
	}

	log.Info("store", "database ready", map[string]interface{}{
		"driver":    cfg.Driver,
		"encrypted": codec != nil,
	})
	return s, nil
}

// New wraps an open database. codec may be nil.
func New(db *gorm.DB, codec *Codec, log logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{db: db, codec: codec, log: log}
}

func configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return nil
}

// Migrate creates or updates the tables
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Query{}, &QueryDetail{}, &Usage{}, &Evaluation{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveQuery records the start of a turn
func (s *Store) SaveQuery(ctx context.Context, queryID, sessionID string) error {
	row := Query{ID: queryID, SessionID: sessionID, CreatedAt: time.Now()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save query %s: %w", queryID, err)
	}
	return nil
}

// SaveQueryDetails stores the answer and telemetry of a turn
func (s *Store) SaveQueryDetails(ctx context.Context, d model.QueryDetails) error {
	userQuery, err := s.codec.Encrypt(d.UserQuery)
	if err != nil {
		return fmt.Errorf("encrypt query: %w", err)
	}
	response, err := s.codec.Encrypt(d.Response)
	if err != nil {
		return fmt.Errorf("encrypt response: %w", err)
	}
	sources, err := toJSON(d.Sources)
	if err != nil {
		return err
	}
	features, err := toJSON(d.Features)
	if err != nil {
		return err
	}

	row := QueryDetail{
		QueryID:         d.QueryID,
		SessionID:       d.SessionID,
		UserQuery:       userQuery,
		Response:        response,
		Status:          string(d.Status),
		IsFollowUp:      d.IsFollowUp,
		Mode:            d.Mode,
		Persona:         d.Persona,
		LatencyMS:       d.LatencyMS,
		LLMLatencyMS:    d.LLMLatencyMS,
		SearchLatencyMS: d.SearchLatencyMS,
		RerankLatencyMS: d.RerankLatencyMS,
		Sources:         sources,
		Features:        features,
		CreatedAt:       orNow(d.CreatedAt),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save query details %s: %w", d.QueryID, err)
	}
	return nil
}

// QueryDetails loads the latest details of a turn with text fields decrypted
func (s *Store) QueryDetails(ctx context.Context, queryID string) (*model.QueryDetails, error) {
	var row QueryDetail
	err := s.db.WithContext(ctx).Where("query_id = ?", queryID).Order("id desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load query details %s: %w", queryID, err)
	}

	userQuery, err := s.codec.Decrypt(row.UserQuery)
	if err != nil {
		return nil, fmt.Errorf("decrypt query: %w", err)
	}
	response, err := s.codec.Decrypt(row.Response)
	if err != nil {
		return nil, fmt.Errorf("decrypt response: %w", err)
	}

	d := &model.QueryDetails{
		QueryID:         row.QueryID,
		SessionID:       row.SessionID,
		UserQuery:       userQuery,
		Response:        response,
		Status:          model.AnswerStatus(row.Status),
		IsFollowUp:      row.IsFollowUp,
		Mode:            row.Mode,
		Persona:         row.Persona,
		LatencyMS:       row.LatencyMS,
		LLMLatencyMS:    row.LLMLatencyMS,
		SearchLatencyMS: row.SearchLatencyMS,
		RerankLatencyMS: row.RerankLatencyMS,
		CreatedAt:       row.CreatedAt,
	}
	if err := fromJSON(row.Sources, &d.Sources); err != nil {
		return nil, err
	}
	if err := fromJSON(row.Features, &d.Features); err != nil {
		return nil, err
	}
	return d, nil
}

// SaveUsage stores the accounting of one model call
func (s *Store) SaveUsage(ctx context.Context, rec model.UsageRecord) error {
	row := Usage{
		QueryID:          rec.QueryID,
		Provider:         rec.Provider,
		Model:            rec.Model,
		CallType:         rec.CallType,
		Scenario:         rec.Scenario,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.TotalTokens,
		PromptCost:       rec.PromptCost,
		CompletionCost:   rec.CompletionCost,
		TotalCost:        rec.TotalCost,
		Estimated:        rec.Estimated,
		Succeeded:        rec.Succeeded,
		LatencyMS:        rec.LatencyMS,
		CreatedAt:        orNow(rec.CreatedAt),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save usage for %s: %w", rec.QueryID, err)
	}
	return nil
}

// UsageTotals sums tokens and cost for a turn
func (s *Store) UsageTotals(ctx context.Context, queryID string) (tokens int, cost float64, err error) {
	var out struct {
		Tokens int
		Cost   float64
	}
	err = s.db.WithContext(ctx).Model(&Usage{}).
		Select("COALESCE(SUM(total_tokens), 0) AS tokens, COALESCE(SUM(total_cost), 0) AS cost").
		Where("query_id = ?", queryID).
		Scan(&out).Error
	if err != nil {
		return 0, 0, fmt.Errorf("sum usage for %s: %w", queryID, err)
	}
	return out.Tokens, out.Cost, nil
}

// SaveEvaluation stores a groundedness verdict
func (s *Store) SaveEvaluation(ctx context.Context, rec model.EvaluationRecord) error {
	res := rec.Result

	answer, err := s.codec.Encrypt(rec.Answer)
	if err != nil {
		return fmt.Errorf("encrypt answer: %w", err)
	}
	claims, err := toJSON(res.UnsupportedClaims)
	if err != nil {
		return err
	}
	recs, err := toJSON(res.Recommendations)
	if err != nil {
		return err
	}
	gaps, err := toJSON(res.IntentGaps)
	if err != nil {
		return err
	}
	audit, err := toJSON(res.CitationAudit)
	if err != nil {
		return err
	}
	policy, err := toJSON(res.Policy)
	if err != nil {
		return err
	}

	row := Evaluation{
		QueryID:           rec.QueryID,
		Answer:            answer,
		ContextSnippet:    rec.ContextSnippet,
		Grounded:          res.Grounded,
		Score:             res.Score,
		Confidence:        res.Confidence,
		FailureMode:       string(res.FailureMode),
		UnsupportedClaims: claims,
		Recommendations:   recs,
		IntentFulfillment: res.IntentFulfillment,
		IntentGaps:        gaps,
		Summary:           res.Summary,
		CitationAudit:     audit,
		PoliciesApplied:   policy,
		AuditOnly:         res.AuditOnly,
		Model:             res.Model,
		LatencyMS:         res.LatencyMS,
		CreatedAt:         orNow(rec.CreatedAt),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save evaluation for %s: %w", rec.QueryID, err)
	}
	return nil
}

// Evaluations returns the verdicts recorded for a turn, oldest first
func (s *Store) Evaluations(ctx context.Context, queryID string) ([]model.EvaluationRecord, error) {
	var rows []Evaluation
	if err := s.db.WithContext(ctx).Where("query_id = ?", queryID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load evaluations for %s: %w", queryID, err)
	}

	out := make([]model.EvaluationRecord, 0, len(rows))
	for _, row := range rows {
		answer, err := s.codec.Decrypt(row.Answer)
		if err != nil {
			return nil, fmt.Errorf("decrypt answer: %w", err)
		}
		res := model.EvaluationResult{
			Grounded:          row.Grounded,
			Score:             row.Score,
			Confidence:        row.Confidence,
			FailureMode:       model.FailureMode(row.FailureMode),
			IntentFulfillment: row.IntentFulfillment,
			Summary:           row.Summary,
			AuditOnly:         row.AuditOnly,
			Model:             row.Model,
			LatencyMS:         row.LatencyMS,
		}
		for _, f := range []struct {
			raw datatypes.JSON
			dst interface{}
		}{
			{row.UnsupportedClaims, &res.UnsupportedClaims},
			{row.Recommendations, &res.Recommendations},
			{row.IntentGaps, &res.IntentGaps},
			{row.CitationAudit, &res.CitationAudit},
			{row.PoliciesApplied, &res.Policy},
		} {
			if err := fromJSON(f.raw, f.dst); err != nil {
				return nil, err
			}
		}
		out = append(out, model.EvaluationRecord{
			QueryID:        row.QueryID,
			Answer:         answer,
			ContextSnippet: row.ContextSnippet,
			Result:         res,
			CreatedAt:      row.CreatedAt,
		})
	}
	return out, nil
}

func toJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return datatypes.JSON(b), nil
}

func fromJSON(raw datatypes.JSON, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// gormWriter routes gorm's own log lines into the structured logger
type gormWriter struct {
	log logging.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn("store", fmt.Sprintf(format, args...), nil)
}
