package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"ImageClassifier/internal/entity"
)

const (
	DefaultInputSize  = 640
	defaultInputName  = "images"
	defaultOutputName = "output0"
	maxPoolSize       = 8
)

var ErrDetectorClosed = errors.New("detector is closed")

type ONNXConfig struct {
	ModelPath         string
	SharedLibraryPath string
	Classes           []string
	InputSize         int
	PoolSize          int
	IntraOpThreads    int
	IoUThreshold      float32
	InputName         string
	OutputName        string
}

// modelSession owns its tensors, so one session serves one request at a time.
type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (s *modelSession) destroy() {
	if s.session != nil {
		s.session.Destroy()
	}
	if s.input != nil {
		s.input.Destroy()
	}
	if s.output != nil {
		s.output.Destroy()
	}
}

type onnxDetector struct {
	log      *logrus.Logger
	cfg      ONNXConfig
	sessions chan *modelSession
	all      []*modelSession
	closed   atomic.Bool
	done     chan struct{}
	once     sync.Once
}

// NewONNXDetector loads a YOLO model exported to ONNX and creates a pool of
// inference sessions.
func NewONNXDetector(log *logrus.Logger, cfg ONNXConfig) (Detector, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if len(cfg.Classes) == 0 {
		cfg.Classes = COCOClasses
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = DefaultIoUThreshold
	}
	if cfg.InputName == "" {
		cfg.InputName = defaultInputName
	}
	if cfg.OutputName == "" {
		cfg.OutputName = defaultOutputName
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = min(max(1, runtime.NumCPU()/2), maxPoolSize)
	}

	if !ort.IsInitialized() {
		if cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
		}
	}

	d := &onnxDetector{
		log:      log,
		cfg:      cfg,
		sessions: make(chan *modelSession, cfg.PoolSize),
		done:     make(chan struct{}),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		s, err := d.newSession()
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to create model session %d: %w", i, err)
		}
		if err := s.session.Run(); err != nil {
			log.WithFields(logrus.Fields{
				"session": i,
				"error":   err.Error(),
			}).Warn("Model warmup failed")
		}
		d.all = append(d.all, s)
		d.sessions <- s
	}

	log.WithFields(logrus.Fields{
		"model":      cfg.ModelPath,
		"input_size": cfg.InputSize,
		"classes":    len(cfg.Classes),
		"sessions":   cfg.PoolSize,
	}).Info("ONNX detector loaded")

	return d, nil
}

func (d *onnxDetector) newSession() (*modelSession, error) {
	size := int64(d.cfg.InputSize)
	s := &modelSession{}

	var err error
	s.input, err = ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return nil, err
	}

	outShape := ort.NewShape(1, int64(4+len(d.cfg.Classes)), int64(anchorCount(d.cfg.InputSize)))
	s.output, err = ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		s.destroy()
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		s.destroy()
		return nil, err
	}
	defer options.Destroy()

	if d.cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(d.cfg.IntraOpThreads); err != nil {
			s.destroy()
			return nil, err
		}
	}

	s.session, err = ort.NewAdvancedSession(
		d.cfg.ModelPath,
		[]string{d.cfg.InputName},
		[]string{d.cfg.OutputName},
		[]ort.Value{s.input},
		[]ort.Value{s.output},
		options,
	)
	if err != nil {
		s.destroy()
		return nil, err
	}
	return s, nil
}

func (d *onnxDetector) Detect(ctx context.Context, img image.Image, threshold float32) ([]entity.Detection, error) {
	if d.closed.Load() {
		return nil, InferenceError(ErrDetectorClosed)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, InferenceError(errors.New("empty input image"))
	}

	tensor, lb := prepareInput(img, d.cfg.InputSize)

	var s *modelSession
	select {
	case s = <-d.sessions:
	case <-d.done:
		return nil, InferenceError(ErrDetectorClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { d.sessions <- s }()

	copy(s.input.GetData(), tensor)
	if err := s.session.Run(); err != nil {
		return nil, InferenceError(err)
	}

	cands, err := decodeOutput(s.output.GetData(), len(d.cfg.Classes), threshold, lb)
	if err != nil {
		return nil, InferenceError(err)
	}

	dets := toDetections(nms(cands, d.cfg.IoUThreshold), d.cfg.Classes)
	return FilterByConfidence(dets, threshold), nil
}

// Close waits for every checked out session to come back before freeing it.
func (d *onnxDetector) Close() error {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.done)
		for range d.all {
			<-d.sessions
		}
		for _, s := range d.all {
			s.destroy()
		}
		if !ort.IsInitialized() {
			return
		}
		if err := ort.DestroyEnvironment(); err != nil {
			d.log.WithField("error", err.Error()).Warn("Failed to destroy onnxruntime environment")
		}
	})
	return nil
}
