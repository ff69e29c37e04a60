package skyline

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Credentials locate the platform and authenticate the SDK against it.
// Zero fields resolve from the environment and the optional config file;
// see resolveCredentials for the precedence.
type Credentials struct {
	// URL is the platform's base URL, e.g. "https://api.us-south.skyline.cloud".
	URL string
	// Token is a ready bearer token. Wins over APIKey when both are set.
	Token string
	// APIKey is exchanged for a bearer token on first use.
	APIKey string

	// ProjectID and SpaceID scope every request. SpaceID wins when both
	// are set.
	ProjectID string
	SpaceID   string

	// FlightHost and FlightPort locate the transfer service. FlightHost
	// defaults to the URL's hostname, FlightPort to 443.
	FlightHost string
	FlightPort int

	// DisableTLSVerify skips certificate verification on the REST and
	// Flight connections. For installs with self-signed certificates.
	DisableTLSVerify bool
}

// FileConfig represents the YAML credentials file structure
type FileConfig struct {
	URL              string           `yaml:"url"`
	Token            string           `yaml:"token"`
	APIKey           string           `yaml:"api_key"`
	ProjectID        string           `yaml:"project_id"`
	SpaceID          string           `yaml:"space_id"`
	Flight           FlightFileConfig `yaml:"flight"`
	DisableTLSVerify bool             `yaml:"disable_tls_verify"`
}

type FlightFileConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoadConfigFile loads credentials from a YAML file
func LoadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

const defaultFlightPort = 443

// resolveCredentials merges the credential sources.
// Precedence: explicit fields > environment variables > config file > defaults.
func resolveCredentials(fileCfg *FileConfig, explicit Credentials, getenv func(string) string, warn func(string)) Credentials {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if warn == nil {
		warn = func(string) {}
	}

	creds := Credentials{FlightPort: defaultFlightPort}

	if fileCfg != nil {
		if fileCfg.URL != "" {
			creds.URL = fileCfg.URL
		}
		if fileCfg.Token != "" {
			creds.Token = fileCfg.Token
		}
		if fileCfg.APIKey != "" {
			creds.APIKey = fileCfg.APIKey
		}
		if fileCfg.ProjectID != "" {
			creds.ProjectID = fileCfg.ProjectID
		}
		if fileCfg.SpaceID != "" {
			creds.SpaceID = fileCfg.SpaceID
		}
		if fileCfg.Flight.Host != "" {
			creds.FlightHost = fileCfg.Flight.Host
		}
		if fileCfg.Flight.Port != 0 {
			creds.FlightPort = fileCfg.Flight.Port
		}
		creds.DisableTLSVerify = fileCfg.DisableTLSVerify
	}

	if v := getenv("SKYLINE_URL"); v != "" {
		creds.URL = v
	}
	if v := getenv("SKYLINE_TOKEN"); v != "" {
		creds.Token = v
	}
	if v := getenv("SKYLINE_API_KEY"); v != "" {
		creds.APIKey = v
	}
	if v := getenv("SKYLINE_PROJECT_ID"); v != "" {
		creds.ProjectID = v
	}
	if v := getenv("SKYLINE_SPACE_ID"); v != "" {
		creds.SpaceID = v
	}
	if v := getenv("SKYLINE_FLIGHT_HOST"); v != "" {
		creds.FlightHost = v
	}
	if v := getenv("SKYLINE_FLIGHT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			creds.FlightPort = p
		} else {
			warn("Invalid SKYLINE_FLIGHT_PORT: " + err.Error())
		}
	}
	if v := getenv("SKYLINE_DISABLE_TLS_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			creds.DisableTLSVerify = b
		} else {
			warn("Invalid SKYLINE_DISABLE_TLS_VERIFY: " + err.Error())
		}
	}

	if explicit.URL != "" {
		creds.URL = explicit.URL
	}
	if explicit.Token != "" {
		creds.Token = explicit.Token
	}
	if explicit.APIKey != "" {
		creds.APIKey = explicit.APIKey
	}
	if explicit.ProjectID != "" {
		creds.ProjectID = explicit.ProjectID
	}
	if explicit.SpaceID != "" {
		creds.SpaceID = explicit.SpaceID
	}
	if explicit.FlightHost != "" {
		creds.FlightHost = explicit.FlightHost
	}
	if explicit.FlightPort != 0 {
		creds.FlightPort = explicit.FlightPort
	}
	if explicit.DisableTLSVerify {
		creds.DisableTLSVerify = true
	}

	// The transfer service rides the same host as the REST API unless
	// told otherwise.
	if creds.FlightHost == "" && creds.URL != "" {
		creds.FlightHost = hostFromURL(creds.URL)
	}

	return creds
}

func hostFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
