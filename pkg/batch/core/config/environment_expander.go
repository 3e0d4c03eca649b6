package config

import (
	"os"
	"strings"
)

// EnvironmentExpander rewrites environment placeholders in a configuration document
// before it is parsed.
type EnvironmentExpander interface {
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands $VAR, ${VAR} and ${VAR:-fallback} from the process
// environment. Unset variables without a fallback expand to "".
type OsEnvironmentExpander struct {
	lookup func(string) (string, bool)
}

// NewOsEnvironmentExpander returns an expander reading os.LookupEnv.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{lookup: os.LookupEnv}
}

func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	return []byte(os.Expand(string(input), e.resolve)), nil
}

func (e *OsEnvironmentExpander) resolve(placeholder string) string {
	name, fallback, hasFallback := strings.Cut(placeholder, ":-")
	value, ok := e.lookup(name)
	if hasFallback && (!ok || value == "") {
		return fallback
	}
	return value
}
