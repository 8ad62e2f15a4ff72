//go:build gocv

// Command webcam runs live wall segmentation on a capture device and shows the mask.
package main

import (
	"flag"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-wallseg/bootstrap"
	"github.com/nvr-ai/go-wallseg/config"
	"github.com/nvr-ai/go-wallseg/images"
	"github.com/nvr-ai/go-wallseg/logging"
	"github.com/nvr-ai/go-wallseg/segmentation"
)

func main() {
	var (
		configPath string
		envFile    string
		deviceID   int
		report     time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&envFile, "env", ".env", "Path to an optional dotenv file")
	flag.IntVar(&deviceID, "device", 0, "Video capture device id")
	flag.DurationVar(&report, "report", 10*time.Second, "Interval between stage timing reports")
	flag.Parse()

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		logrus.WithError(err).Fatal("invalid logging configuration")
	}

	pipeline, err := bootstrap.Open(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("cannot build pipeline")
	}
	defer pipeline.Close()

	prof := pipeline.Profiler()
	prof.Start()
	defer prof.Stop()

	// open webcam
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		logger.WithError(err).Fatal("cannot open capture device")
	}
	defer webcam.Close()

	window := gocv.NewWindow("Wall Segmentation")
	defer window.Close()

	img := gocv.NewMat()
	defer img.Close()

	var (
		mu     sync.Mutex
		latest *segmentation.Mask
	)
	pipeline.OnMaskReady(func(m *segmentation.Mask) {
		mu.Lock()
		latest = m
		mu.Unlock()
	})

	// FPS tracking variables
	fps := 0.0
	frameCount := 0
	lastTime := time.Now()

	logger.WithFields(logrus.Fields{
		"device":   deviceID,
		"pipeline": pipeline.ID(),
	}).Info("start reading camera device")
	for {
		if ok := webcam.Read(&img); !ok {
			logger.WithField("device", deviceID).Error("cannot read device")
			return
		}
		if img.Empty() {
			continue
		}

		frameCount++
		currentTime := time.Now()
		if elapsed := currentTime.Sub(lastTime).Seconds(); elapsed >= 1.0 {
			fps = float64(frameCount) / elapsed
			frameCount = 0
			lastTime = currentTime
			logger.WithFields(logrus.Fields{
				"fps":   fps,
				"stats": pipeline.Stats(),
			}).Debug("capture rate")
		}

		pipeline.ProcessFrame(images.Frame{
			Pix:       img.ToBytes(),
			Width:     img.Cols(),
			Height:    img.Rows(),
			Format:    images.PixelFormatBGR,
			Timestamp: currentTime.UnixNano(),
		})

		mu.Lock()
		m := latest
		mu.Unlock()

		if m != nil {
			show(window, m, img.Cols(), img.Rows())
		} else {
			window.IMShow(img)
		}
		if window.WaitKey(1) == 27 {
			return
		}
	}
}

// show scales the mask to the capture size and displays it.
func show(window *gocv.Window, m *segmentation.Mask, width, height int) {
	mat, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, m.Pix)
	if err != nil {
		return
	}
	defer mat.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(mat, &scaled, image.Pt(width, height), 0, 0, gocv.InterpolationNearestNeighbor)

	window.IMShow(scaled)
}
