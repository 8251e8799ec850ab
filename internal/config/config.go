package config

import (
	"fmt"
	"os"

	"github.com/fxnlabs/fpga-mmult/internal/accel"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Device struct {
		Vendor string `yaml:"vendor"`
		Type   string `yaml:"type"`
		// Emulation runs against the software device instead of the
		// OpenCL platforms installed on the host.
		Emulation bool `yaml:"emulation"`
	} `yaml:"device"`
	Program struct {
		Routine string `yaml:"routine"`
	} `yaml:"program"`
	Buffer struct {
		Alignment int `yaml:"alignment"`
	} `yaml:"buffer"`
	Matrix struct {
		Dim      int   `yaml:"dim"`
		Seed     int64 `yaml:"seed"`
		MaxValue int32 `yaml:"maxValue"`
	} `yaml:"matrix"`
	Verify struct {
		FreivaldsRounds int `yaml:"freivaldsRounds"`
	} `yaml:"verify"`
	Logger struct {
		Verbosity string `yaml:"verbosity"`
	} `yaml:"logger"`
	Metrics struct {
		Textfile    string `yaml:"textfile"`
		Pushgateway string `yaml:"pushgateway"`
		Job         string `yaml:"job"`
	} `yaml:"metrics"`
}

// Default returns the configuration of the reference Xilinx run: a 64×64
// multiplication on the first accelerator of the Xilinx platform.
func Default() *Config {
	var c Config
	opts := accel.DefaultOptions()
	c.Device.Vendor = opts.Vendor
	c.Device.Type = opts.DeviceType.String()
	c.Program.Routine = opts.Routine
	c.Buffer.Alignment = opts.Alignment
	c.Matrix.Dim = 64
	c.Matrix.Seed = 1
	// Full non-negative int32 range, like rand().
	c.Matrix.MaxValue = 0
	c.Logger.Verbosity = "info"
	c.Metrics.Job = "mmult"
	return &c
}

// LoadConfig reads path over the defaults. Keys missing from the file keep
// their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	if c.Device.Vendor == "" {
		return fmt.Errorf("device.vendor must not be empty")
	}
	if _, err := accel.ParseDeviceType(c.Device.Type); err != nil {
		return fmt.Errorf("device.type: %w", err)
	}
	if c.Program.Routine == "" {
		return fmt.Errorf("program.routine must not be empty")
	}
	if a := c.Buffer.Alignment; a <= 0 || a&(a-1) != 0 {
		return fmt.Errorf("buffer.alignment must be a positive power of two, got %d", a)
	}
	if c.Matrix.Dim < 1 {
		return fmt.Errorf("matrix.dim must be at least 1, got %d", c.Matrix.Dim)
	}
	if c.Matrix.Dim > 46340 {
		// dim² elements must be addressable with int32 indices on the device.
		return fmt.Errorf("matrix.dim %d is too large", c.Matrix.Dim)
	}
	if c.Matrix.MaxValue < 0 {
		return fmt.Errorf("matrix.maxValue must not be negative, got %d", c.Matrix.MaxValue)
	}
	if c.Verify.FreivaldsRounds < 0 {
		return fmt.Errorf("verify.freivaldsRounds must not be negative, got %d", c.Verify.FreivaldsRounds)
	}
	if _, err := zap.ParseAtomicLevel(c.Logger.Verbosity); err != nil {
		return fmt.Errorf("logger.verbosity: %w", err)
	}
	return nil
}

// PipelineOptions converts the configuration into pipeline options.
func (c *Config) PipelineOptions() (accel.Options, error) {
	deviceType, err := accel.ParseDeviceType(c.Device.Type)
	if err != nil {
		return accel.Options{}, err
	}
	return accel.Options{
		Vendor:     c.Device.Vendor,
		DeviceType: deviceType,
		Routine:    c.Program.Routine,
		Alignment:  c.Buffer.Alignment,
	}, nil
}
