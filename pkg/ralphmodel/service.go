package ralphmodel

import "time"

// ServiceConfig is the `backend`/`frontend` block of ralph.yml.
type ServiceConfig struct {
	Port      int      `yaml:"port" json:"port"`
	StartDev  string   `yaml:"start_dev,omitempty" json:"start_dev,omitempty"`
	StartProd string   `yaml:"start_prod,omitempty" json:"start_prod,omitempty"`
	ServeDev  string   `yaml:"serve_dev,omitempty" json:"serve_dev,omitempty"`
	ServeProd string   `yaml:"serve_prod,omitempty" json:"serve_prod,omitempty"`
	Build     string   `yaml:"build,omitempty" json:"build,omitempty"`
	Health    []string `yaml:"health,omitempty" json:"health,omitempty"`
	Timeout   int      `yaml:"timeout" json:"timeout"` // seconds
}

// HealthPaths returns the configured health-check paths, defaulting
// to "/" when none are configured.
func (s ServiceConfig) HealthPaths() []string {
	if len(s.Health) == 0 {
		return []string{"/"}
	}
	return s.Health
}

// ReadyTimeout returns the health-poll timeout as a duration.
func (s ServiceConfig) ReadyTimeout() time.Duration {
	if s.Timeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.Timeout) * time.Second
}

// ReadinessResult is the outcome of starting and health-polling a service.
type ReadinessResult struct {
	Success    bool          `json:"success"`
	URL        string        `json:"url,omitempty"`
	PID        int           `json:"pid,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
}
