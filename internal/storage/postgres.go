package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"github.com/davidpt/incentive-matcher/internal/funding"
)

// Store is the Postgres-backed repository for incentives, companies and
// matches. Incentives and companies are read-only from the pipeline's
// perspective; match rows are owned exclusively by the matching engine.
type Store struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return New(db), nil
}

// New wires a sql.DB implementation.
func New(db *sql.DB) *Store {
	return &Store{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS incentives (
		incentive_id     BIGSERIAL PRIMARY KEY,
		title            TEXT NOT NULL UNIQUE,
		description      TEXT,
		ai_description   TEXT,
		document_urls    TEXT,
		publication_date DATE,
		start_date       DATE,
		end_date         DATE,
		total_budget     DOUBLE PRECISION,
		source_link      TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS companies (
		nif_code                   TEXT PRIMARY KEY,
		company_name               TEXT NOT NULL,
		city                       TEXT,
		latest_number_of_employees INTEGER NOT NULL DEFAULT 0,
		cae_primary_code           TEXT,
		cae_primary_label          TEXT,
		cae_secondary_codes        TEXT,
		cae_secondary_labels       TEXT,
		english_trade_description  TEXT,
		postal_code                TEXT,
		website                    TEXT,
		email_portugal             TEXT,
		telephone                  TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS matches (
		match_id     BIGSERIAL PRIMARY KEY,
		incentive_id BIGINT NOT NULL REFERENCES incentives(incentive_id) ON DELETE CASCADE,
		company_nif  TEXT NOT NULL REFERENCES companies(nif_code) ON DELETE CASCADE,
		score        DOUBLE PRECISION NOT NULL
	)`,
}

// Init creates the tables when they do not exist yet.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Incentives loads every incentive record.
func (s *Store) Incentives(ctx context.Context) ([]*funding.Incentive, error) {
	query, args, err := s.sb.
		Select("incentive_id", "title", "description", "ai_description", "document_urls",
			"publication_date", "start_date", "end_date", "total_budget", "source_link").
		From("incentives").
		OrderBy("incentive_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build incentives query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incentives: %w", err)
	}
	defer rows.Close()

	var incentives []*funding.Incentive
	for rows.Next() {
		var (
			incentive   funding.Incentive
			description sql.NullString
			aiDesc      sql.NullString
			docURLs     sql.NullString
			pubDate     sql.NullTime
			startDate   sql.NullTime
			endDate     sql.NullTime
			budget      sql.NullFloat64
			sourceLink  sql.NullString
		)
		if err := rows.Scan(&incentive.ID, &incentive.Title, &description, &aiDesc, &docURLs,
			&pubDate, &startDate, &endDate, &budget, &sourceLink); err != nil {
			return nil, fmt.Errorf("scan incentive: %w", err)
		}

		incentive.Description = description.String
		incentive.AIDescription = aiDesc.String
		incentive.DocumentURLs = docURLs.String
		incentive.SourceLink = sourceLink.String
		if pubDate.Valid {
			t := pubDate.Time
			incentive.PublicationDate = &t
		}
		if startDate.Valid {
			t := startDate.Time
			incentive.StartDate = &t
		}
		if endDate.Valid {
			t := endDate.Time
			incentive.EndDate = &t
		}
		if budget.Valid {
			b := budget.Float64
			incentive.TotalBudget = &b
		}

		incentives = append(incentives, &incentive)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate incentives: %w", err)
	}

	return incentives, nil
}

// Companies loads every company record.
func (s *Store) Companies(ctx context.Context) ([]*funding.Company, error) {
	query, args, err := s.sb.
		Select("nif_code", "company_name", "city", "latest_number_of_employees",
			"cae_primary_code", "cae_primary_label", "cae_secondary_codes", "cae_secondary_labels",
			"english_trade_description", "postal_code", "website", "email_portugal", "telephone").
		From("companies").
		OrderBy("nif_code").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build companies query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	defer rows.Close()

	var companies []*funding.Company
	for rows.Next() {
		var (
			company funding.Company
			nulls   [10]sql.NullString
		)
		if err := rows.Scan(&company.NIF, &company.Name, &nulls[0], &company.Employees,
			&nulls[1], &nulls[2], &nulls[3], &nulls[4],
			&nulls[5], &nulls[6], &nulls[7], &nulls[8], &nulls[9]); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}

		company.City = nulls[0].String
		company.CAEPrimaryCode = nulls[1].String
		company.CAEPrimaryLabel = nulls[2].String
		company.CAESecondaryCodes = nulls[3].String
		company.CAESecondaryLabels = nulls[4].String
		company.TradeDescription = nulls[5].String
		company.PostalCode = nulls[6].String
		company.Website = nulls[7].String
		company.Email = nulls[8].String
		company.Telephone = nulls[9].String

		companies = append(companies, &company)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}

	return companies, nil
}

// ClearAll wipes the match table. Called exactly once at the start of a
// matching run, before any insert.
func (s *Store) ClearAll(ctx context.Context) error {
	query, args, err := s.sb.Delete("matches").ToSql()
	if err != nil {
		return fmt.Errorf("build clear query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear matches: %w", err)
	}
	return nil
}

// InsertBatch writes one incentive's matches in a single transaction, so a
// crash never leaves a partially-matched incentive behind.
func (s *Store) InsertBatch(ctx context.Context, matches []funding.Match) error {
	if len(matches) == 0 {
		return nil
	}

	builder := s.sb.Insert("matches").Columns("incentive_id", "company_nif", "score")
	for _, match := range matches {
		builder = builder.Values(match.IncentiveID, match.CompanyNIF, match.Score)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert matches: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit matches: %w", err)
	}

	return nil
}

// UpsertCompany inserts or refreshes a company record keyed by NIF.
func (s *Store) UpsertCompany(ctx context.Context, company *funding.Company) error {
	query, args, err := s.sb.
		Insert("companies").
		Columns("nif_code", "company_name", "city", "latest_number_of_employees",
			"cae_primary_code", "cae_primary_label", "cae_secondary_codes", "cae_secondary_labels",
			"english_trade_description", "postal_code", "website", "email_portugal", "telephone").
		Values(company.NIF, company.Name, company.City, company.Employees,
			company.CAEPrimaryCode, company.CAEPrimaryLabel, company.CAESecondaryCodes, company.CAESecondaryLabels,
			company.TradeDescription, company.PostalCode, company.Website, company.Email, company.Telephone).
		Suffix(`ON CONFLICT (nif_code) DO UPDATE SET
			company_name = EXCLUDED.company_name,
			city = EXCLUDED.city,
			latest_number_of_employees = EXCLUDED.latest_number_of_employees,
			cae_primary_code = EXCLUDED.cae_primary_code,
			cae_primary_label = EXCLUDED.cae_primary_label,
			cae_secondary_codes = EXCLUDED.cae_secondary_codes,
			cae_secondary_labels = EXCLUDED.cae_secondary_labels,
			english_trade_description = EXCLUDED.english_trade_description,
			postal_code = EXCLUDED.postal_code,
			website = EXCLUDED.website,
			email_portugal = EXCLUDED.email_portugal,
			telephone = EXCLUDED.telephone`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert company %s: %w", company.NIF, err)
	}
	return nil
}

// MatchRow is one line of the stored-matches report.
type MatchRow struct {
	IncentiveID    int64
	IncentiveTitle string
	CompanyNIF     string
	CompanyName    string
	Score          float64
}

// TopMatches returns the stored matches joined with their incentive and
// company, best scores first within each incentive.
func (s *Store) TopMatches(ctx context.Context, limit int) ([]MatchRow, error) {
	builder := s.sb.
		Select("m.incentive_id", "i.title", "m.company_nif", "c.company_name", "m.score").
		From("matches m").
		Join("incentives i ON i.incentive_id = m.incentive_id").
		Join("companies c ON c.nif_code = m.company_nif").
		OrderBy("m.incentive_id", "m.score DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build matches query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var result []MatchRow
	for rows.Next() {
		var row MatchRow
		if err := rows.Scan(&row.IncentiveID, &row.IncentiveTitle, &row.CompanyNIF, &row.CompanyName, &row.Score); err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}

	return result, nil
}
