// Copyright (c) 2025 A Bit of Help, Inc.

package sample

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/abitofhelp/secure_sensor_pipeline/pkg/dataprocessor"
	customErrors "github.com/abitofhelp/secure_sensor_pipeline/pkg/errors"
)

// Sampler produces readings. Implementations decide where readings come from;
// the pipeline only sees Samples.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(ctx context.Context) (Sample, error)

// Sample calls f.
func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) {
	return f(ctx)
}

// Simulated generates random readings in a typical indoor range:
// 15..25 °C, 40..60 % humidity and 1000..1050 hPa.
type Simulated struct {
	deviceID string
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated returns a Simulated sampler seeded from seed.
func NewSimulated(deviceID string, seed uint64) *Simulated {
	return &Simulated{
		deviceID: deviceID,
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Sample returns the next simulated reading.
func (s *Simulated) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	s.mu.Lock()
	temperature := 20.0 + s.rng.Float64()*10.0 - 5.0
	humidity := 40.0 + s.rng.Float64()*20.0
	pressure := 1000.0 + s.rng.Float64()*50.0
	s.mu.Unlock()

	return Sample{
		DeviceID:  s.deviceID,
		Timestamp: uint64(s.now().Unix()),
		Readings: Readings{
			Temperature: temperature,
			Humidity:    humidity,
			Pressure:    Float(pressure),
		},
	}, nil
}

// Device reads newline-delimited JSON readings from a hardware bridge, such
// as a serial port or character device exposed by a sensor driver:
//
//	{"temperature":21.5,"humidity":48.2,"pressure":1012.9}
//
// Each line is stamped with the device id and the time it was read. Blank
// lines are skipped. End of stream yields ErrSamplerExhausted.
//
// Lines are read by a background goroutine started on the first Sample, so a
// Sample blocked on a quiet device returns as soon as its context is done.
// A line that arrives after a canceled Sample is kept for the next one. Close
// stops the goroutine once its pending read returns.
type Device struct {
	deviceID string
	now      func() time.Time
	r        io.Reader

	start     sync.Once
	lines     chan deviceLine
	done      chan struct{}
	closeOnce sync.Once
}

type deviceLine struct {
	data []byte
	err  error
}

// NewDevice returns a Device sampler reading from r.
func NewDevice(deviceID string, r io.Reader) *Device {
	return &Device{
		deviceID: deviceID,
		now:      time.Now,
		r:        r,
		lines:    make(chan deviceLine),
		done:     make(chan struct{}),
	}
}

// Sample returns the next reading from the device stream.
func (d *Device) Sample(ctx context.Context) (Sample, error) {
	if err := dataprocessor.CheckContext(ctx); err != nil {
		return Sample{}, err
	}
	d.start.Do(func() { go d.readLoop() })

	for {
		select {
		case <-ctx.Done():
			return Sample{}, dataprocessor.CheckContext(ctx)
		case <-d.done:
			return Sample{}, customErrors.ErrSamplerExhausted
		case line, ok := <-d.lines:
			if !ok {
				return Sample{}, customErrors.ErrSamplerExhausted
			}
			if line.err != nil {
				return Sample{}, fmt.Errorf("%w: reading device: %v", customErrors.ErrIOFailure, line.err)
			}
			if len(line.data) == 0 {
				continue
			}

			var readings Readings
			if err := json.Unmarshal(line.data, &readings); err != nil {
				return Sample{}, fmt.Errorf("%w: malformed device reading: %v", customErrors.ErrInvalidSample, err)
			}
			return Sample{
				DeviceID:  d.deviceID,
				Timestamp: uint64(d.now().Unix()),
				Readings:  readings,
			}, nil
		}
	}
}

// Close stops delivering readings. It does not close the underlying reader.
func (d *Device) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Device) readLoop() {
	defer close(d.lines)

	scanner := bufio.NewScanner(d.r)
	for scanner.Scan() {
		line := bytes.Clone(scanner.Bytes())
		if !d.send(deviceLine{data: line}) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		d.send(deviceLine{err: err})
	}
}

func (d *Device) send(line deviceLine) bool {
	select {
	case d.lines <- line:
		return true
	case <-d.done:
		return false
	}
}
