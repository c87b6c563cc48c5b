// Copyright (c) 2025 A Bit of Help, Inc.

// Package sample defines a sensor reading and the samplers that produce them.
package sample

import (
	"encoding/json"
	"fmt"
	"math"

	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
)

// Plausible ambient temperature range in °C.
const (
	MinTemperature = -40.0
	MaxTemperature = 85.0
)

// Readings is the structured reading set of one sample.
type Readings struct {
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
}

// Sample is one timestamped reading from a device.
type Sample struct {
	DeviceID  string   `json:"device_id"`
	Timestamp uint64   `json:"timestamp"`
	Readings  Readings `json:"readings"`
}

// Validate rejects temperatures outside [MinTemperature, MaxTemperature].
func (s Sample) Validate() error {
	t := s.Readings.Temperature
	if math.IsNaN(t) || t < MinTemperature || t > MaxTemperature {
		return fmt.Errorf("%w: temperature %.2f outside [%.0f, %.0f]",
			customErrors.ErrInvalidSample, t, MinTemperature, MaxTemperature)
	}
	return nil
}

// Marshal returns the canonical encoding: compact JSON with fields in
// declaration order. The integrity hash is computed over exactly these bytes.
func (s Sample) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes a canonical encoding.
func Unmarshal(data []byte) (Sample, error) {
	var s Sample
	if err := json.Unmarshal(data, &s); err != nil {
		return Sample{}, err
	}
	return s, nil
}

// Float returns a pointer to v, for optional readings.
func Float(v float64) *float64 {
	return &v
}
