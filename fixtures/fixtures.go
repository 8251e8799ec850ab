package fixtures

import (
	_ "embed"
)

//go:embed config/config.yaml.template
var ConfigTemplate []byte

// EmulatorImage is a program image accepted by the software device.
//
//go:embed programs/mmult_emu.xclbin
var EmulatorImage []byte
