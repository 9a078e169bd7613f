// Package billing polls the legacy billing system's SQL Server database for
// overdue invoices and submits them to the case ingestion pipeline as a
// SYSTEM actor. The pipeline's idempotency key makes re-polling safe.
package billing

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver

	"github.com/fedex-dca/control-tower/internal/auth"
	"github.com/fedex-dca/control-tower/internal/case/service"
	"github.com/fedex-dca/control-tower/internal/shared/config"
	apperrors "github.com/fedex-dca/control-tower/internal/shared/errors"
	"github.com/fedex-dca/control-tower/internal/shared/logging"
)

// Ingestor is the pipeline entry point the feed submits to.
type Ingestor interface {
	Ingest(ctx context.Context, actor auth.Actor, payload service.IngestPayload) (*service.IngestResult, error)
}

// Feed is the legacy billing poller.
type Feed struct {
	cfg      config.BillingConfig
	ingestor Ingestor

	db       *sql.DB
	running  bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	lastPoll time.Time
	wg       sync.WaitGroup
}

// NewFeed creates the billing feed.
func NewFeed(cfg config.BillingConfig, ingestor Ingestor) *Feed {
	return &Feed{cfg: cfg, ingestor: ingestor}
}

// Start opens the SQL Server connection and begins polling. A disabled feed
// starts as a no-op.
func (f *Feed) Start(ctx context.Context) error {
	if !f.cfg.Enabled {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return fmt.Errorf("billing feed already running")
	}

	db, err := sql.Open("sqlserver", f.cfg.DSN)
	if err != nil {
		return fmt.Errorf("open billing database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping billing database: %w", err)
	}

	f.db = db
	f.running = true
	f.lastPoll = time.Now().Add(-f.cfg.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.wg.Add(1)
	go f.pollLoop(pollCtx)

	return nil
}

// Stop cancels polling and closes the connection.
func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}

	if f.cancel != nil {
		f.cancel()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if f.db != nil {
		f.db.Close()
	}
	f.running = false
	return nil
}

// Health checks billing database connectivity.
func (f *Feed) Health(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}
	return f.db.PingContext(ctx)
}

func (f *Feed) pollLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	log := logging.WithComponent("billing-feed")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			lastPoll := f.lastPoll
			f.lastPoll = time.Now()
			f.mu.Unlock()

			if err := f.pollInvoices(ctx, lastPoll); err != nil {
				log.WithError(err).Warn("billing poll failed")
			}
		}
	}
}

// invoiceRow mirrors the legacy overdue-invoice view.
type invoiceRow struct {
	InvoiceID       string
	RegionCode      string
	Currency        string
	PrincipalAmount float64
	TaxAmount       float64
	TotalDue        float64
	CustomerName    string
	CustomerEmail   sql.NullString
	CustomerPhone   sql.NullString
	CustomerAddress sql.NullString
	DueDate         sql.NullTime
}

// pollInvoices submits every invoice flagged overdue since the previous poll.
func (f *Feed) pollInvoices(ctx context.Context, since time.Time) error {
	query := `
		SELECT InvoiceID, RegionCode, Currency,
		       PrincipalAmount, TaxAmount, TotalDue,
		       CustomerName, CustomerEmail, CustomerPhone, CustomerAddress,
		       DueDate
		FROM dbo.OverdueInvoices
		WHERE FlaggedAt > @since
		ORDER BY FlaggedAt`

	rows, err := f.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return fmt.Errorf("query overdue invoices: %w", err)
	}
	defer rows.Close()

	log := logging.WithComponent("billing-feed")
	actor := auth.SystemActor(f.cfg.SourceSystem)
	submitted, duplicates := 0, 0

	for rows.Next() {
		var inv invoiceRow
		if err := rows.Scan(&inv.InvoiceID, &inv.RegionCode, &inv.Currency,
			&inv.PrincipalAmount, &inv.TaxAmount, &inv.TotalDue,
			&inv.CustomerName, &inv.CustomerEmail, &inv.CustomerPhone, &inv.CustomerAddress,
			&inv.DueDate); err != nil {
			return fmt.Errorf("scan invoice: %w", err)
		}

		_, err := f.ingestor.Ingest(ctx, actor, f.payloadFor(inv))
		switch {
		case err == nil:
			submitted++
		case apperrors.CodeOf(err) == "DUPLICATE_CASE":
			// Expected on overlapping polls; the idempotency key held.
			duplicates++
		default:
			log.WithField("invoice_id", inv.InvoiceID).WithError(err).Warn("invoice rejected")
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate invoices: %w", err)
	}

	if submitted > 0 || duplicates > 0 {
		log.WithField("submitted", submitted).WithField("duplicates", duplicates).Info("billing poll complete")
	}
	return nil
}

func (f *Feed) payloadFor(inv invoiceRow) service.IngestPayload {
	payload := service.IngestPayload{
		CaseType:          "INVOICE",
		SourceSystem:      f.cfg.SourceSystem,
		SourceReferenceID: inv.InvoiceID,
		Region:            inv.RegionCode,
		Currency:          inv.Currency,
		PrincipalAmount:   inv.PrincipalAmount,
		TaxAmount:         inv.TaxAmount,
		TotalDue:          inv.TotalDue,
		CustomerName:      inv.CustomerName,
		CustomerEmail:     inv.CustomerEmail.String,
		CustomerPhone:     inv.CustomerPhone.String,
		CustomerAddress:   inv.CustomerAddress.String,
	}
	if inv.DueDate.Valid {
		due := inv.DueDate.Time
		payload.DueDate = &due
	}
	return payload
}
