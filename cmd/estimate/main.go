package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/Brownie44l1/scrap-api/internal/config"
	"github.com/Brownie44l1/scrap-api/internal/material"
	"github.com/Brownie44l1/scrap-api/internal/valuation"
	"github.com/Brownie44l1/scrap-api/pkg/log"
)

func main() {
	imageFlag := flag.String("image", "", "path of the photo to estimate")
	materialFlag := flag.String("material", "unknown", "material of the scrap (steel, aluminum, copper, brass, lead, stainless_steel, other)")
	modelsFlag := flag.String("models", "", "directory holding <kind>.onnx models and their .json metadata (default MODELS_DIR)")
	offlineFlag := flag.Bool("offline", false, "skip the native runtime and use stub models")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "give up after this long")
	flag.Parse()

	if *imageFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := log.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if *modelsFlag != "" {
		cfg.ModelsDir = *modelsFlag
	}
	cfg.Offline = cfg.Offline || *offlineFlag

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	svc := config.NewEstimator(cfg, logger)
	if err := svc.Initialize(ctx); err != nil {
		logger.Fatalf("Failed to initialize estimator: %v", err)
	}
	defer svc.Dispose()

	m := material.Parse(*materialFlag)
	prediction, err := svc.PredictWeightFromImage(ctx, *imageFlag, m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "estimate failed: %v\n", err)
		svc.Dispose()
		os.Exit(1)
	}

	out, err := jsoniter.MarshalIndent(struct {
		Prediction any `json:"prediction"`
		Estimation any `json:"estimation"`
	}{prediction, valuation.Estimate(prediction, m)}, "", "  ")
	if err != nil {
		logger.Fatalf("Failed to encode result: %v", err)
	}
	fmt.Println(string(out))
}
