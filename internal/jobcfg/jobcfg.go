// Package jobcfg loads job definitions from YAML and serves them to
// the orchestration engine.
//
// A configuration file looks like:
//
//	storage: postgres://localhost:5432/jobforge
//	jobs:
//	  - id: crawl
//	    function: crawler.run
//	    kwargs:
//	      url: http://example.com
//	  - id: process
//	    function: processor.run
//	    args: [!retval crawl]
//	    dependencies: [crawl]
//
// The !retval tag marks an argument to be replaced, at build time,
// with the return value of the named dependency's pinned build.
package jobcfg

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/jobforge/jobforge/internal/args"
	"github.com/jobforge/jobforge/internal/models"
)

// retvalTag marks dependency return-value placeholders in YAML.
const retvalTag = "!retval"

// Config holds the declared job set. Jobs are read-only to the engine;
// the API may add and remove definitions at runtime.
type Config struct {
	// StorageURL is the storage backend DSN declared in the file, if
	// any.
	StorageURL string

	mu    sync.RWMutex
	jobs  map[string]*models.Job
	order []string
}

// New returns an empty configuration.
func New() *Config {
	return &Config{jobs: make(map[string]*models.Job)}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

type fileConfig struct {
	Storage string   `yaml:"storage"`
	Jobs    []rawJob `yaml:"jobs"`
}

type rawJob struct {
	ID              string    `yaml:"id"`
	Function        string    `yaml:"function"`
	Title           string    `yaml:"title"`
	Notes           string    `yaml:"notes"`
	CleanupFunction string    `yaml:"cleanup_function"`
	Dependencies    []string  `yaml:"dependencies"`
	Args            yaml.Node `yaml:"args"`
	Kwargs          yaml.Node `yaml:"kwargs"`
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg := New()
	cfg.StorageURL = file.Storage

	for _, raw := range file.Jobs {
		job, err := raw.toJob()
		if err != nil {
			return nil, err
		}
		if err := cfg.AddJob(job); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (r rawJob) toJob() (*models.Job, error) {
	job := &models.Job{
		ID:              r.ID,
		Function:        r.Function,
		Title:           r.Title,
		Notes:           r.Notes,
		CleanupFunction: r.CleanupFunction,
		Dependencies:    r.Dependencies,
	}

	if r.Args.Kind != 0 {
		value, err := decodeValue(&r.Args)
		if err != nil {
			return nil, fmt.Errorf("job %q args: %w", r.ID, err)
		}
		list, ok := value.([]any)
		if !ok && value != nil {
			return nil, fmt.Errorf("job %q: args must be a sequence", r.ID)
		}
		job.Args = list
	}

	if r.Kwargs.Kind != 0 {
		value, err := decodeValue(&r.Kwargs)
		if err != nil {
			return nil, fmt.Errorf("job %q kwargs: %w", r.ID, err)
		}
		mapped, ok := value.(map[string]any)
		if !ok && value != nil {
			return nil, fmt.Errorf("job %q: kwargs must be a mapping", r.ID)
		}
		job.Kwargs = mapped
	}

	return job, nil
}

// decodeValue decodes a YAML node into plain Go values, turning
// !retval scalars into args.Retval placeholders at any depth.
func decodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return decodeValue(n.Alias)

	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, item := range n.Content {
			value, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, value)
		}
		return out, nil

	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, fmt.Errorf("decoding mapping key: %w", err)
			}
			value, err := decodeValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil

	case yaml.ScalarNode:
		if n.Tag == retvalTag {
			if n.Value == "" {
				return nil, fmt.Errorf("!retval requires a job id")
			}
			return args.Retval{JobID: n.Value}, nil
		}
		var value any
		if err := n.Decode(&value); err != nil {
			return nil, fmt.Errorf("decoding scalar: %w", err)
		}
		return value, nil

	default:
		return nil, fmt.Errorf("unsupported YAML node kind %d", n.Kind)
	}
}

// AddJob adds or replaces a job definition.
func (c *Config) AddJob(job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job must have an id")
	}
	for _, dep := range job.Dependencies {
		if dep == job.ID {
			return fmt.Errorf("job %q depends on itself", job.ID)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.jobs[job.ID]; !exists {
		c.order = append(c.order, job.ID)
	}
	c.jobs[job.ID] = job.Clone()
	return nil
}

// RemoveJob deletes a job definition.
func (c *Config) RemoveJob(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.jobs[id]; !exists {
		return
	}
	delete(c.jobs, id)
	for i, jid := range c.order {
		if jid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// GetJob returns the job with the given id.
func (c *Config) GetJob(id string) (*models.Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil, false
	}
	return job.Clone(), true
}

// GetJobDeps returns the ids of a job's direct dependencies.
func (c *Config) GetJobDeps(id string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil
	}
	return append([]string(nil), job.Dependencies...)
}

// GetJobRevdeps returns the ids of the jobs that directly depend on
// the given job, in declaration order.
func (c *Config) GetJobRevdeps(id string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, jid := range c.order {
		if c.jobs[jid].HasDependency(id) {
			out = append(out, jid)
		}
	}
	return out
}

// Jobs returns all job definitions in declaration order.
func (c *Config) Jobs() []*models.Job {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.Job, 0, len(c.order))
	for _, jid := range c.order {
		out = append(out, c.jobs[jid].Clone())
	}
	return out
}
