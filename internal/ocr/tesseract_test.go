package ocr

import (
	"math"
	"strings"
	"testing"
)

const sampleTSV = `level	page_num	block_num	par_num	line_num	word_num	left	top	width	height	conf	text
1	1	0	0	0	0	0	0	1000	1400	-1
4	1	1	1	1	0	80	100	500	30	-1
5	1	1	1	1	1	80	100	30	30	96	2
5	1	1	1	1	2	130	102	120	28	91	Tomatoes
5	1	1	1	1	3	600	100	60	30	88	5.00
5	1	1	1	2	1	80	150	120	30	93	Potatoes
5	1	1	1	2	2	600	150	60	30	90	8.40
`

func TestParseTSVGroupsWordsIntoLines(t *testing.T) {
	t.Parallel()
	result := ParseTSV(sampleTSV)

	if len(result.Lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(result.Lines))
	}

	first := result.Lines[0]
	if first.Text != "2 Tomatoes 5.00" {
		t.Errorf("line text = %q", first.Text)
	}
	if first.Page != 1 {
		t.Errorf("page = %d, want 1", first.Page)
	}
	if first.BBox == nil {
		t.Fatal("missing bbox")
	}
	// union of word boxes: x 80..660, y 100..130
	if first.BBox.X != 80 || first.BBox.X+first.BBox.W != 660 {
		t.Errorf("bbox x span = [%v, %v], want [80, 660]", first.BBox.X, first.BBox.X+first.BBox.W)
	}
	if first.BBox.Y != 100 || first.BBox.Y+first.BBox.H != 130 {
		t.Errorf("bbox y span = [%v, %v], want [100, 130]", first.BBox.Y, first.BBox.Y+first.BBox.H)
	}
	// (96+91+88)/3 = 91.67, scaled to [0,1]
	if math.Abs(first.Confidence-0.91666666) > 1e-6 {
		t.Errorf("line confidence = %v", first.Confidence)
	}

	if result.Lines[1].Text != "Potatoes 8.40" {
		t.Errorf("second line = %q", result.Lines[1].Text)
	}
	if !strings.Contains(result.Text, "2 Tomatoes 5.00\nPotatoes 8.40") {
		t.Errorf("joined text = %q", result.Text)
	}
}

func TestParseTSVSkipsStructuralRows(t *testing.T) {
	t.Parallel()
	result := ParseTSV("level\tpage_num\n1\t1\t0\t0\t0\t0\t0\t0\t10\t10\t-1\t\n")
	if len(result.Lines) != 0 {
		t.Errorf("lines = %d, want 0", len(result.Lines))
	}
	if result.MeanConfidence != 0 {
		t.Errorf("mean confidence = %v, want 0", result.MeanConfidence)
	}
}
