package topology

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
)

// ConfEnvVar carries the encoded Config from submit to the master process.
const ConfEnvVar = "MPI_LAUNCH_CONF"

// Encode serializes c as base64 JSON, safe to place in an environment variable.
func Encode(c *Config) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "marshaling config")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func Decode(s string) (*Config, error) {
	if s == "" {
		return nil, errors.Errorf("%s is not set", ConfEnvVar)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", ConfEnvVar)
	}
	c := &Config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "unmarshaling %s", ConfEnvVar)
	}
	return c, nil
}
