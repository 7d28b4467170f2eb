package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/paperledger/invoice-recon-service/internal/models"
)

// Engine runs Tesseract over a scanned document and returns per-line
// text with bounding boxes. Line geometry feeds the table-recovery
// phase of extraction, so the TSV output mode is used rather than
// plain text.
type Engine struct {
	language string
	log      *logrus.Entry
}

// NewEngine creates an OCR engine for the given configuration.
func NewEngine(cfg models.OCRConfig) *Engine {
	language := cfg.Language
	if language == "" {
		language = "eng"
	}
	return &Engine{
		language: language,
		log:      logrus.WithField("component", "ocr"),
	}
}

// Result is one recognized document.
type Result struct {
	Text           string
	Lines          []models.OCRLine
	MeanConfidence float64
}

// Recognize runs Tesseract on preprocessed image bytes.
func (e *Engine) Recognize(ctx context.Context, imageBytes []byte) (*Result, error) {
	input, err := os.CreateTemp("", "scan-*.png")
	if err != nil {
		return nil, fmt.Errorf("creating temp image: %w", err)
	}
	defer os.Remove(input.Name())

	if _, err := input.Write(imageBytes); err != nil {
		input.Close()
		return nil, fmt.Errorf("writing temp image: %w", err)
	}
	input.Close()

	cmd := exec.CommandContext(ctx, "tesseract", input.Name(), "stdout", "-l", e.language, "tsv")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract failed: %w: %s", err, stderr.String())
	}

	result := ParseTSV(stdout.String())
	e.log.WithFields(logrus.Fields{
		"lines":           len(result.Lines),
		"mean_confidence": result.MeanConfidence,
	}).Debug("document recognized")
	return result, nil
}

// TSV column indexes as emitted by tesseract's tsv config.
const (
	colLevel = 0
	colPage  = 1
	colBlock = 2
	colPar   = 3
	colLine  = 4
	colLeft  = 6
	colTop   = 7
	colWidth = 8
	colHigh  = 9
	colConf  = 10
	colText  = 11
	colCount = 12
)

// word rows carry level 5; everything else is structural.
const wordLevel = 5

type lineKey struct {
	page, block, par, line int
}

// ParseTSV groups Tesseract word rows into text lines with a union
// bounding box per line. Words with confidence -1 are structural rows
// Tesseract emits for layout and are skipped.
func ParseTSV(tsv string) *Result {
	type lineAcc struct {
		words   []string
		bbox    models.BBox
		confSum float64
		confN   int
		page    int
	}

	accs := map[lineKey]*lineAcc{}
	var order []lineKey

	rows := strings.Split(tsv, "\n")
	for i, row := range rows {
		if i == 0 || strings.TrimSpace(row) == "" {
			// header
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) < colCount {
			continue
		}
		level, _ := strconv.Atoi(cols[colLevel])
		if level != wordLevel {
			continue
		}
		conf, err := strconv.ParseFloat(cols[colConf], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := strings.TrimSpace(cols[colText])
		if text == "" {
			continue
		}

		key := lineKey{}
		key.page, _ = strconv.Atoi(cols[colPage])
		key.block, _ = strconv.Atoi(cols[colBlock])
		key.par, _ = strconv.Atoi(cols[colPar])
		key.line, _ = strconv.Atoi(cols[colLine])

		left, _ := strconv.ParseFloat(cols[colLeft], 64)
		top, _ := strconv.ParseFloat(cols[colTop], 64)
		width, _ := strconv.ParseFloat(cols[colWidth], 64)
		height, _ := strconv.ParseFloat(cols[colHigh], 64)

		acc, ok := accs[key]
		if !ok {
			acc = &lineAcc{
				bbox: models.BBox{X: left, Y: top, W: width, H: height},
				page: key.page,
			}
			accs[key] = acc
			order = append(order, key)
		} else {
			right := maxF(acc.bbox.X+acc.bbox.W, left+width)
			bottom := maxF(acc.bbox.Y+acc.bbox.H, top+height)
			acc.bbox.X = minF(acc.bbox.X, left)
			acc.bbox.Y = minF(acc.bbox.Y, top)
			acc.bbox.W = right - acc.bbox.X
			acc.bbox.H = bottom - acc.bbox.Y
		}
		acc.words = append(acc.words, text)
		acc.confSum += conf
		acc.confN++
	}

	result := &Result{}
	var textParts []string
	var totalConf float64
	var totalWords int
	for _, key := range order {
		acc := accs[key]
		lineText := strings.Join(acc.words, " ")
		bbox := acc.bbox
		result.Lines = append(result.Lines, models.OCRLine{
			Text:       lineText,
			BBox:       &bbox,
			Page:       acc.page,
			Confidence: acc.confSum / float64(acc.confN) / 100,
		})
		textParts = append(textParts, lineText)
		totalConf += acc.confSum
		totalWords += acc.confN
	}
	result.Text = strings.Join(textParts, "\n")
	if totalWords > 0 {
		result.MeanConfidence = totalConf / float64(totalWords) / 100
	}
	return result
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
