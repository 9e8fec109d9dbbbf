package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/expenseflow/expenseflow/internal/expense"
	jobmetrics "github.com/expenseflow/expenseflow/internal/jobs"
	"github.com/expenseflow/expenseflow/internal/notify"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// OCRResult carries whatever the extraction backend managed to read from a
// receipt image. Nil fields were not recognized.
type OCRResult struct {
	Merchant   *string
	Amount     *string
	Date       *string
	Confidence *float64
}

// Extractor reads structured data out of a stored receipt file.
type Extractor interface {
	Extract(ctx context.Context, fileURL, fileType string) (OCRResult, error)
}

// ReceiptStore reads and annotates stored receipts.
type ReceiptStore interface {
	GetReceipt(ctx context.Context, expenseID uuid.UUID) (expense.Receipt, error)
	UpdateReceiptOCR(ctx context.Context, receiptID uuid.UUID, merchant *string, amount *string, date *string, confidence *float64) error
}

// OCRProcessor handles receipt:ocr tasks. Extraction results are advisory
// only; they annotate the receipt and never mutate the expense itself.
type OCRProcessor struct {
	receipts  ReceiptStore
	extractor Extractor
	logger    *slog.Logger
	metrics   *jobmetrics.Metrics
}

// NewOCRProcessor constructs a processor.
func NewOCRProcessor(receipts ReceiptStore, extractor Extractor, logger *slog.Logger, metrics *jobmetrics.Metrics) *OCRProcessor {
	return &OCRProcessor{receipts: receipts, extractor: extractor, logger: logger, metrics: metrics}
}

// HandleReceiptOCRTask processes receipt:ocr tasks.
func (p *OCRProcessor) HandleReceiptOCRTask(ctx context.Context, t *asynq.Task) error {
	var evt notify.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	tracker := p.metrics.Track("receipt_ocr")
	return tracker.End(p.process(ctx, evt))
}

func (p *OCRProcessor) process(ctx context.Context, evt notify.Event) error {
	if p.extractor == nil {
		return nil
	}
	receipt, err := p.receipts.GetReceipt(ctx, evt.ExpenseID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// receipt deleted between upload and processing
			return nil
		}
		return fmt.Errorf("load receipt: %w", err)
	}

	result, err := p.extractor.Extract(ctx, receipt.FileURL, receipt.FileType)
	if err != nil {
		return fmt.Errorf("extract receipt %s: %w", receipt.ID, err)
	}
	if err := p.receipts.UpdateReceiptOCR(ctx, receipt.ID, result.Merchant, result.Amount, result.Date, result.Confidence); err != nil {
		return fmt.Errorf("store ocr result: %w", err)
	}
	p.logger.Info("receipt ocr stored", slog.String("receipt_id", receipt.ID.String()))
	return nil
}
