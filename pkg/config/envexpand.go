package config

import (
	"bytes"
	"io"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} references, the same pattern the original
// Python loader used (meilisync/yaml_parser.py's EnvVarLoader).
var envVarPattern = regexp.MustCompile(`\$\{([^}^{]+)\}`)

// ExpandEnv replaces every ${VAR} occurrence in raw with the value of the
// environment variable VAR, applied before the YAML is parsed. A reference
// to an unset variable is replaced with an empty string, matching
// os.Expand semantics.
func ExpandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func newReader(raw []byte) io.Reader {
	return bytes.NewReader(raw)
}
