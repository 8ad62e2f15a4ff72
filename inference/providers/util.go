package providers

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides the shared library location when set.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var (
	envOnce sync.Once
	envErr  error
	envPath string
)

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if the platform has no known library.
func GetSharedLibPath() (string, error) {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p, nil
	}
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library known for %s/%s", runtime.GOOS, runtime.GOARCH)
}

// initEnvironment loads the native library once per process. Later calls with
// a different path are rejected since the runtime cannot be reloaded.
func initEnvironment(libPath string, verbose bool) error {
	if libPath == "" {
		p, err := GetSharedLibPath()
		if err != nil {
			return err
		}
		libPath = p
	}

	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", libPath)
	}

	envOnce.Do(func() {
		envPath = libPath
		if verbose {
			ort.SetEnvironmentLogLevel(ort.LoggingLevelVerbose)
		}
		ort.SetSharedLibraryPath(libPath)
		if !ort.IsInitialized() {
			envErr = errors.Wrap(ort.InitializeEnvironment(), "error initializing ORT environment")
		}
	})

	if envErr != nil {
		return envErr
	}
	if envPath != libPath {
		return errors.Errorf("onnxruntime already initialized from %s, cannot load %s", envPath, libPath)
	}
	return nil
}
