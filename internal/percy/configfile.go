package percy

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// configFileName is the fixed name of the generated CLI config.
	// It is overwritten on every start.
	configFileName = "percy.json"

	// defaultConfigVersion is the Percy config schema used when the user omits one.
	defaultConfigVersion = "2"

	configFileMode = 0600
)

// configFilePath returns where percy.json is written.
func (p *Percy) configFilePath() string {
	dir := p.config.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, configFileName)
}

// writeConfig serialises the user's Percy options to percy.json.
//
// It returns false when there are no options, or when writing fails; in
// both cases the CLI is started without -c and uses its own defaults.
func (p *Percy) writeConfig() (string, bool) {
	if len(p.config.Options) == 0 {
		return "", false
	}

	data, err := json.Marshal(p.config.Options)
	if err != nil {
		p.logger.Error("percy unable to encode config", "error", err)
		return "", false
	}

	if !gjson.GetBytes(data, "version").Exists() {
		data, err = sjson.SetBytes(data, "version", defaultConfigVersion)
		if err != nil {
			p.logger.Error("percy unable to set config version", "error", err)
			return "", false
		}
	}

	path := p.configFilePath()
	if err := os.WriteFile(path, data, configFileMode); err != nil {
		p.logger.Error("percy unable to write config file", "path", path, "error", err)
		return "", false
	}

	p.logger.Debug("percy config file written", "path", path)
	return path, true
}
