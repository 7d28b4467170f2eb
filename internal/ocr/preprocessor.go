package ocr

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Preprocessor enhances scanned documents before OCR. Supplier scans
// arrive as phone photos and faded carbon copies, so contrast and
// denoise passes make a real difference to line recovery.
type Preprocessor struct {
	log *logrus.Entry
}

// NewPreprocessor creates an image preprocessor.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{log: logrus.WithField("component", "preprocess")}
}

// PreprocessFile reads and enhances an image file.
func (p *Preprocessor) PreprocessFile(imagePath string) ([]byte, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	return p.Preprocess(imageData)
}

// Preprocess applies the standard enhancement pipeline through
// ImageMagick: resize, grayscale, contrast, denoise, sharpen. If
// ImageMagick is unavailable or fails the original bytes come back
// unchanged; a raw scan still OCRs, just worse.
func (p *Preprocessor) Preprocess(imageData []byte) ([]byte, error) {
	return p.run(imageData, []string{
		"-resize", "2000x2000>",
		"-colorspace", "Gray",
		"-normalize",
		"-contrast-stretch", "2%x1%",
		"-despeckle",
		"-sharpen", "0x1",
		"-unsharp", "0x0.5+0.5+0",
		"-quality", "95",
	})
}

// PreprocessFaded applies a harsher pipeline for faded thermal paper
// and carbon-copy delivery notes. Falls back to the standard pipeline
// when ImageMagick rejects the aggressive settings.
func (p *Preprocessor) PreprocessFaded(imageData []byte) ([]byte, error) {
	processed, err := p.run(imageData, []string{
		"-resize", "2500x2500>",
		"-colorspace", "Gray",
		"-lat", "50x50+10%",
		"-contrast-stretch", "5%x2%",
		"-despeckle",
		"-despeckle",
		"-sharpen", "0x2",
		"-quality", "95",
	})
	if err != nil || bytes.Equal(processed, imageData) {
		return p.Preprocess(imageData)
	}
	return processed, nil
}

func (p *Preprocessor) run(imageData []byte, filterArgs []string) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "preprocess-")
	if err != nil {
		return imageData, nil
	}
	defer os.RemoveAll(tmpDir)

	inputFile := filepath.Join(tmpDir, "input.jpg")
	outputFile := filepath.Join(tmpDir, "output.jpg")
	if err := os.WriteFile(inputFile, imageData, 0644); err != nil {
		return imageData, nil
	}

	args := append([]string{inputFile}, filterArgs...)
	args = append(args, outputFile)

	// 'magick' on ImageMagick 7, 'convert' on 6
	var cmd *exec.Cmd
	if _, err := exec.LookPath("magick"); err == nil {
		cmd = exec.Command("magick", args...)
	} else {
		cmd = exec.Command("convert", args...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		p.log.WithError(fmt.Errorf("%w: %s", err, stderr.String())).Warn("imagemagick failed, using original scan")
		return imageData, nil
	}

	processed, err := os.ReadFile(outputFile)
	if err != nil {
		return imageData, nil
	}
	p.log.WithFields(logrus.Fields{
		"original_bytes": len(imageData),
		"enhanced_bytes": len(processed),
	}).Debug("scan enhanced")
	return processed, nil
}
