// Copyright 2025 James Ross
package adaptive

import (
	"time"

	"github.com/flyingrobots/dogqueue/internal/config"
	"go.uber.org/zap"
)

func testAdaptiveConfig() config.Adaptive {
	return config.Adaptive{
		MinConcurrency:      2,
		MaxConcurrency:      16,
		SampleInterval:      time.Second,
		TargetErrorRate:     0.05,
		AdmissionRatePerSec: 100,
		AdmissionBurst:      10,
	}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
