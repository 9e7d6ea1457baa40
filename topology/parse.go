package topology

import (
	"strings"

	errs "github.com/twitter/mpilaunch/common/errors"
)

// ParseSupplementaryFiles parses comma separated local:remote pairs.
func ParseSupplementaryFiles(s string) ([]SupplementaryFile, error) {
	var out []SupplementaryFile
	for _, pair := range SplitList(s) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errs.NewConfigError("supplementary file %q is not local:remote", pair)
		}
		out = append(out, SupplementaryFile{Local: parts[0], Remote: parts[1]})
	}
	return out, nil
}

// ResolveEnv expands an env allow-list against lookup. NAME entries are copied
// when lookup has them, NAME=VALUE entries are used verbatim.
func ResolveEnv(list []string, lookup func(string) (string, bool)) map[string]string {
	env := make(map[string]string)
	for _, e := range list {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
			continue
		}
		if v, ok := lookup(parts[0]); ok {
			env[parts[0]] = v
		}
	}
	return env
}

// SplitList splits a comma separated flag value, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, e := range strings.Split(s, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}
