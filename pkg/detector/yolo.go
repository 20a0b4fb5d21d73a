package detector

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"ImageClassifier/internal/entity"
)

// YOLO heads emit one prediction per grid cell for strides 8, 16 and 32.
var yoloStrides = []int{8, 16, 32}

var letterboxFill = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// letterbox records how the source image was fitted into the square input,
// so that boxes can be mapped back.
type letterbox struct {
	scale      float32
	padX, padY int
	srcW, srcH int
}

type candidate struct {
	class      int
	confidence float32
	x1, y1     float32
	x2, y2     float32
}

// anchorCount is the number of predictions of a YOLOv8/11 head for a square
// input of the given size, eg 8400 for 640.
func anchorCount(inputSize int) int {
	n := 0
	for _, s := range yoloStrides {
		n += (inputSize / s) * (inputSize / s)
	}
	return n
}

// prepareInput letterboxes img into a size x size canvas and returns it as a
// normalised CHW float32 tensor.
func prepareInput(img image.Image, size int) ([]float32, letterbox) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := min(float32(size)/float32(w), float32(size)/float32(h))
	nw := max(1, int(math.Round(float64(float32(w)*scale))))
	nh := max(1, int(math.Round(float64(float32(h)*scale))))

	lb := letterbox{
		scale: scale,
		padX:  (size - nw) / 2,
		padY:  (size - nh) / 2,
		srcW:  w,
		srcH:  h,
	}

	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	canvas := imaging.New(size, size, letterboxFill)
	canvas = imaging.Paste(canvas, resized, image.Pt(lb.padX, lb.padY))

	plane := size * size
	tensor := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			p := y*size + x
			tensor[p] = float32(row[x*4]) / 255
			tensor[plane+p] = float32(row[x*4+1]) / 255
			tensor[2*plane+p] = float32(row[x*4+2]) / 255
		}
	}
	return tensor, lb
}

// decodeOutput reads a [4+numClasses, anchors] head (channel-major, boxes as
// cx,cy,w,h in input pixels) and returns the candidates above threshold in
// source image coordinates.
func decodeOutput(output []float32, numClasses int, threshold float32, lb letterbox) ([]candidate, error) {
	rows := 4 + numClasses
	if numClasses <= 0 || len(output)%rows != 0 {
		return nil, fmt.Errorf("unexpected output size %d for %d classes", len(output), numClasses)
	}
	anchors := len(output) / rows

	var cands []candidate
	for i := 0; i < anchors; i++ {
		best, score := -1, float32(0)
		for c := 0; c < numClasses; c++ {
			if v := output[(4+c)*anchors+i]; v > score {
				best, score = c, v
			}
		}
		if best < 0 || score < threshold {
			continue
		}

		cx := output[i]
		cy := output[anchors+i]
		bw := output[2*anchors+i]
		bh := output[3*anchors+i]

		cands = append(cands, candidate{
			class:      best,
			confidence: score,
			x1:         clampf((cx-bw/2-float32(lb.padX))/lb.scale, float32(lb.srcW)),
			y1:         clampf((cy-bh/2-float32(lb.padY))/lb.scale, float32(lb.srcH)),
			x2:         clampf((cx+bw/2-float32(lb.padX))/lb.scale, float32(lb.srcW)),
			y2:         clampf((cy+bh/2-float32(lb.padY))/lb.scale, float32(lb.srcH)),
		})
	}
	return cands, nil
}

// nms sorts by confidence and suppresses boxes overlapping a stronger box of
// the same class by more than iouThreshold.
func nms(cands []candidate, iouThreshold float32) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].confidence > cands[j].confidence
	})

	suppressed := make([]bool, len(cands))
	kept := make([]candidate, 0, len(cands))
	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		for j := i + 1; j < len(cands); j++ {
			if !suppressed[j] && cands[j].class == cands[i].class && iou(cands[i], cands[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// Intersection over Union
func iou(a, b candidate) float32 {
	ix := max(0, min(a.x2, b.x2)-max(a.x1, b.x1))
	iy := max(0, min(a.y2, b.y2)-max(a.y1, b.y1))
	inter := ix * iy
	union := (a.x2-a.x1)*(a.y2-a.y1) + (b.x2-b.x1)*(b.y2-b.y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func toDetections(cands []candidate, classes []string) []entity.Detection {
	dets := make([]entity.Detection, 0, len(cands))
	for _, c := range cands {
		dets = append(dets, entity.Detection{
			Label:      labelFor(classes, c.class),
			Confidence: c.confidence,
			Box: entity.BoundingBox{
				XMin: int(c.x1),
				YMin: int(c.y1),
				XMax: int(c.x2),
				YMax: int(c.y2),
			},
		})
	}
	return dets
}

func clampf(v, hi float32) float32 {
	return max(0, min(v, hi))
}
