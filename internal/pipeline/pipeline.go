package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/extract"
	"github.com/paperledger/invoice-recon-service/internal/models"
	"github.com/paperledger/invoice-recon-service/internal/ocr"
	"github.com/paperledger/invoice-recon-service/internal/repair"
	"github.com/paperledger/invoice-recon-service/internal/verify"
)

// Recognizer is the OCR boundary. Satisfied by *ocr.Engine; tests
// substitute canned output.
type Recognizer interface {
	Recognize(ctx context.Context, imageBytes []byte) (*ocr.Result, error)
}

// Structurer is the optional language-model assist. Satisfied by
// *ai.Structurer.
type Structurer interface {
	StructureInvoice(ctx context.Context, ocrText string) (*models.Invoice, float64, error)
	StructureDeliveryNote(ctx context.Context, ocrText string) (*models.DeliveryNote, float64, error)
}

// Pipeline runs a scanned document through preprocessing, OCR,
// extraction, repair and verification. The language model is an
// assist, never a dependency: when it fails or is not configured the
// rule-based extraction result stands on its own.
type Pipeline struct {
	pre        *ocr.Preprocessor
	recognizer Recognizer
	extractor  *extract.Extractor
	structurer Structurer
	repairer   *repair.Repairer
	verifier   *verify.Verifier
	log        *logrus.Entry
}

// New assembles a pipeline. structurer may be nil.
func New(recognizer Recognizer, structurer Structurer) *Pipeline {
	return &Pipeline{
		pre:        ocr.NewPreprocessor(),
		recognizer: recognizer,
		extractor:  extract.New(),
		structurer: structurer,
		repairer:   repair.NewRepairer(),
		verifier:   verify.NewVerifier(),
		log:        logrus.WithField("component", "pipeline"),
	}
}

// ProcessInvoice turns a scanned invoice into a repaired, verified
// Invoice plus the verification detail.
func (p *Pipeline) ProcessInvoice(ctx context.Context, imageBytes []byte) (*models.Invoice, *verify.Result, error) {
	ocrResult, err := p.recognize(ctx, imageBytes)
	if err != nil {
		return nil, nil, err
	}

	inv := p.structureInvoice(ctx, ocrResult)
	inv.LineItems = p.mergeItems(inv.LineItems, ocrResult.Lines)

	repaired := p.repairer.Repair(*inv, ocrResult.Text)
	result := p.verifier.Check(repaired)
	repaired.Status = result.Status
	repaired.Confidence = result.Confidence

	p.log.WithFields(logrus.Fields{
		"supplier":     repaired.SupplierName,
		"status":       repaired.Status,
		"confidence":   repaired.Confidence,
		"mismatch_pct": result.MismatchPct,
		"line_items":   len(repaired.LineItems),
	}).Info("invoice processed")
	return &repaired, result, nil
}

// ProcessDeliveryNote turns a scanned delivery note into a
// DeliveryNote. Delivery notes carry no totals, so only line-item
// repair applies.
func (p *Pipeline) ProcessDeliveryNote(ctx context.Context, imageBytes []byte) (*models.DeliveryNote, error) {
	ocrResult, err := p.recognize(ctx, imageBytes)
	if err != nil {
		return nil, err
	}

	dn := p.structureDeliveryNote(ctx, ocrResult)
	dn.LineItems = p.mergeItems(dn.LineItems, ocrResult.Lines)
	dn.LineItems = p.repairer.RepairLineItems(dn.LineItems)
	dn.SupplierName = repair.CleanSupplierName(dn.SupplierName)
	dn.Confidence = meanConfidence(dn.LineItems)
	dn.Status = models.StatusPending
	dn.ProcessedAt = time.Now()

	p.log.WithFields(logrus.Fields{
		"supplier":   dn.SupplierName,
		"line_items": len(dn.LineItems),
	}).Info("delivery note processed")
	return dn, nil
}

func (p *Pipeline) recognize(ctx context.Context, imageBytes []byte) (*ocr.Result, error) {
	enhanced, err := p.pre.Preprocess(imageBytes)
	if err != nil {
		enhanced = imageBytes
	}
	return p.recognizer.Recognize(ctx, enhanced)
}

// structureInvoice asks the language model for a structured read and
// degrades to an empty header when it fails.
func (p *Pipeline) structureInvoice(ctx context.Context, ocrResult *ocr.Result) *models.Invoice {
	if p.structurer != nil {
		inv, duration, err := p.structurer.StructureInvoice(ctx, ocrResult.Text)
		if err == nil {
			p.log.WithField("duration_s", duration).Debug("ai structuring succeeded")
			return inv
		}
		p.log.WithError(err).Warn("ai structuring failed, using rule-based extraction only")
	}
	return &models.Invoice{
		RawText:     ocrResult.Text,
		Status:      models.StatusPending,
		ProcessedAt: time.Now(),
	}
}

func (p *Pipeline) structureDeliveryNote(ctx context.Context, ocrResult *ocr.Result) *models.DeliveryNote {
	if p.structurer != nil {
		dn, duration, err := p.structurer.StructureDeliveryNote(ctx, ocrResult.Text)
		if err == nil {
			p.log.WithField("duration_s", duration).Debug("ai structuring succeeded")
			return dn
		}
		p.log.WithError(err).Warn("ai structuring failed, using rule-based extraction only")
	}
	return &models.DeliveryNote{
		RawText:     ocrResult.Text,
		Status:      models.StatusPending,
		ProcessedAt: time.Now(),
	}
}

// mergeItems prefers the model's line items and falls back to the
// rule-based cascade when the model produced none. The cascade
// guarantees at least a salvage row, so processing never yields an
// itemless document from a readable scan.
func (p *Pipeline) mergeItems(aiItems []models.LineItem, lines []models.OCRLine) []models.LineItem {
	if len(aiItems) > 0 {
		return aiItems
	}
	result := p.extractor.ExtractResult(lines)
	p.log.WithFields(logrus.Fields{
		"method": result.Method,
		"items":  len(result.Items),
	}).Debug("rule-based extraction used")
	return result.Items
}

func meanConfidence(items []models.LineItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, item := range items {
		sum += item.Confidence
	}
	return sum / float64(len(items))
}
