// Package vision runs MobileNetV2 image classification through ONNX Runtime.
package vision

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

const (
	inputWidth  = 224
	inputHeight = 224
)

// ImageNet normalization constants.
var (
	meanRGB = [3]float32{0.485, 0.456, 0.406}
	stdRGB  = [3]float32{0.229, 0.224, 0.225}
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Prediction is one classification label with its softmax score.
type Prediction struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

type Config struct {
	ModelPath   string
	LabelsPath  string
	LibraryPath string
}

// Classifier wraps a loaded MobileNetV2 ONNX session. Safe for concurrent use;
// sessions are serialized by an internal mutex.
type Classifier struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
}

func NewClassifier(cfg Config) (*Classifier, error) {
	ortInitOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("initialize onnxruntime failed: %w", ortInitErr)
	}

	labels, err := loadLabels(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(1, 3, inputHeight, inputWidth)
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor failed: %w", err)
	}

	outputShape := ort.NewShape(1, int64(len(labels)))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor failed: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create onnx session failed: %w", err)
	}

	return &Classifier{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		labels:  labels,
	}, nil
}

// Classify decodes the image bytes and returns the topK predictions sorted by
// score descending.
func (c *Classifier) Classify(imageData []byte, topK int) ([]Prediction, error) {
	if topK <= 0 {
		topK = 3
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decode image failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	preprocess(img, c.input.GetData())

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("run onnx session failed: %w", err)
	}

	scores := softmax(c.output.GetData())
	indices := make([]int, len(scores))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(i, j int) bool {
		return scores[indices[i]] > scores[indices[j]]
	})

	if topK > len(indices) {
		topK = len(indices)
	}
	predictions := make([]Prediction, 0, topK)
	for _, idx := range indices[:topK] {
		predictions = append(predictions, Prediction{
			Label: c.labels[idx],
			Score: scores[idx],
		})
	}
	return predictions, nil
}

// Describe returns a short caption for chat prompting, e.g.
// "an image most likely showing: golden retriever (0.87), tennis ball (0.05)".
func (c *Classifier) Describe(imageData []byte) (string, error) {
	predictions, err := c.Classify(imageData, 3)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(predictions))
	for _, p := range predictions {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", p.Label, p.Score))
	}
	return "an image most likely showing: " + strings.Join(parts, ", "), nil
}

func (c *Classifier) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	if c.input != nil {
		c.input.Destroy()
		c.input = nil
	}
	if c.output != nil {
		c.output.Destroy()
		c.output = nil
	}
}

// preprocess resizes to 224x224 and writes NCHW normalized floats into dst.
func preprocess(img image.Image, dst []float32) {
	resized := image.NewRGBA(image.Rect(0, 0, inputWidth, inputHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	channelSize := inputWidth * inputHeight
	for y := 0; y < inputHeight; y++ {
		for x := 0; x < inputWidth; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*inputWidth + x
			dst[idx] = (float32(r>>8)/255.0 - meanRGB[0]) / stdRGB[0]
			dst[channelSize+idx] = (float32(g>>8)/255.0 - meanRGB[1]) / stdRGB[1]
			dst[2*channelSize+idx] = (float32(b>>8)/255.0 - meanRGB[2]) / stdRGB[2]
		}
	}
}

func softmax(logits []float32) []float32 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - maxLogit))
		sum += exps[i]
	}
	out := make([]float32, len(logits))
	for i := range exps {
		out[i] = float32(exps[i] / sum)
	}
	return out
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels file failed: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels file failed: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}
