package toolchain

import (
	"fmt"
	"os"
	"path/filepath"
)

// cargoConfigName is the client configuration file rustup/cargo read from
// CARGO_HOME.
const cargoConfigName = "config.toml"

const cargoConfigBase = `[net]
git-fetch-with-cli = true
`

const cargoConfigMirror = `
[source.crates-io]
replace-with = "mirror"

[source.mirror]
registry = "%s"

[registries.mirror]
index = "%s"
`

// WriteCargoConfig writes the cargo client configuration into CARGO_HOME.
// When proxy mode is enabled the mirror registry stanzas are appended.
func (i *Installer) WriteCargoConfig() error {
	if err := os.MkdirAll(i.opts.CargoHome, 0o755); err != nil {
		return fmt.Errorf("unable to create cargo home: %w", err)
	}

	content := cargoConfigBase
	if i.opts.Proxy {
		content += fmt.Sprintf(cargoConfigMirror, i.opts.RegistryIndex, i.opts.RegistryIndex)
	}

	path := filepath.Join(i.opts.CargoHome, cargoConfigName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("unable to write cargo config: %w", err)
	}
	return nil
}
