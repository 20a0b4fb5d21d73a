package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/akamensky/argparse"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"

	"ImageClassifier/internal/api/detection"
	"ImageClassifier/pkg/imagecodec"
	"ImageClassifier/pkg/log"
)

func main() {
	logger := log.NewLogger(log.WithLevel("info"))

	parser := argparse.NewParser("classify", "Upload an image to the classifier and save the annotated result")
	serverUrl := parser.String("s", "server", &argparse.Options{Help: "Classifier base URL", Default: "http://localhost:8000"})
	input := parser.String("i", "image", &argparse.Options{Help: "Image file to classify", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Where to write the annotated JPEG (default <image>.annotated.jpg)"})
	timeout := parser.Int("t", "timeout", &argparse.Options{Help: "Request timeout in seconds", Default: 60})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(1)
	}

	if *output == "" {
		*output = strings.TrimSuffix(*input, filepath.Ext(*input)) + ".annotated.jpg"
	}

	result, err := classifyFile(strings.TrimSuffix(*serverUrl, "/"), *input, time.Duration(*timeout)*time.Second)
	if err != nil {
		logger.Errorf("Classification failed: %v", err)
		os.Exit(1)
	}

	written, err := report(os.Stdout, result, *output)
	if err != nil {
		logger.Errorf("Failed to write annotated image: %v", err)
		os.Exit(1)
	}
	if written {
		logger.Infof("Annotated image written to %v", *output)
	}
}

// classifyFile posts the file at path as the multipart field "image".
func classifyFile(serverUrl, path string, timeout time.Duration) (*detection.DetectionResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ff := fiber.AcquireFormFile()
	defer fiber.ReleaseFormFile(ff)
	ff.Fieldname = "image"
	ff.Name = filepath.Base(path)
	ff.Content = data

	agent := fiber.Post(serverUrl + "/classify")
	agent.Timeout(timeout)
	agent.FileData(ff).MultipartForm(nil)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, errs[0]
	}

	if code != fiber.StatusOK {
		var e detection.ErrorResponse
		if jsoniter.Unmarshal(body, &e) == nil && e.Detail != "" {
			return nil, fmt.Errorf("server answered %d: %s", code, e.Detail)
		}
		return nil, fmt.Errorf("server answered %d", code)
	}

	var result detection.DetectionResponse
	if err := jsoniter.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unexpected response: %w", err)
	}
	return &result, nil
}

// report prints the detected labels to w and saves the annotated image, if
// there is one, to output.
func report(w io.Writer, result *detection.DetectionResponse, output string) (bool, error) {
	fmt.Fprintf(w, "detection %s at %s\n", result.DetectionID, result.Timestamp)
	if len(result.ObjectsDetected) == 0 {
		fmt.Fprintln(w, "no objects detected")
		return false, nil
	}

	for _, label := range result.ObjectsDetected {
		fmt.Fprintf(w, "  %s\n", label)
	}

	img, err := imagecodec.DecodeText(result.ResponseImage)
	if err != nil {
		return false, err
	}
	return true, os.WriteFile(output, img, 0o644)
}
