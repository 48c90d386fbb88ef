// Package onnxrt owns the process-wide ONNX Runtime environment shared by all
// model-backed providers. The runtime allows exactly one environment per
// process, so initialization goes through a sync.Once here and every provider
// that loads an .onnx file calls [Init] before creating sessions.
package onnxrt

import (
	"fmt"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	initOnce sync.Once
	initErr  error
)

// Init initializes the shared ONNX Runtime environment. libraryPath points at
// libonnxruntime.so; an empty path lets the binding use its default lookup.
// Subsequent calls return the result of the first initialization.
func Init(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("onnxrt: initialize environment: %w", err)
		}
	})
	return initErr
}

// NewSessionOptions builds session options for a model session. When useCUDA
// is true the CUDA execution provider is appended for the given device;
// otherwise inference stays on CPU with the given intra-op thread count.
//
// The caller owns the returned options and must call Destroy after the
// session using them has been created.
func NewSessionOptions(useCUDA bool, deviceID, cpuThreads int) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnxrt: create session options: %w", err)
	}
	if useCUDA {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("onnxrt: create CUDA provider options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := cudaOpts.Update(map[string]string{"device_id": strconv.Itoa(deviceID)}); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("onnxrt: configure CUDA device %d: %w", deviceID, err)
		}
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("onnxrt: append CUDA execution provider: %w", err)
		}
	} else if cpuThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cpuThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("onnxrt: set intra-op threads: %w", err)
		}
	}
	return opts, nil
}
