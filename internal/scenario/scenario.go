// Package scenario loads and validates HCL scenario files for the load
// runner. A scenario names one broker, the topology to declare on it and
// the publish/consume steps to run against that topology.
package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/amqpgrid/internal/ctxlog"
)

// Broker locates the AMQP endpoint a scenario runs against.
type Broker struct {
	Addr        string `hcl:"addr"`
	Username    string `hcl:"username,optional"`
	Password    string `hcl:"password,optional"`
	VirtualHost string `hcl:"vhost,optional"`
	// Heartbeat is the requested heartbeat interval in seconds. Zero accepts
	// the server's offer.
	Heartbeat int `hcl:"heartbeat,optional"`
	// Management is the management API root, needed only for --check.
	Management string `hcl:"management,optional"`
}

// Exchange declares one exchange in the scenario topology.
type Exchange struct {
	Name       string `hcl:"name,label"`
	Kind       string `hcl:"kind,optional"`
	Durable    bool   `hcl:"durable,optional"`
	AutoDelete bool   `hcl:"auto_delete,optional"`
}

// Binding routes an exchange into the queue that declares it.
type Binding struct {
	Exchange   string `hcl:"exchange"`
	RoutingKey string `hcl:"routing_key,optional"`
}

// Queue declares one queue in the scenario topology, with its bindings.
type Queue struct {
	Name       string     `hcl:"name,label"`
	Durable    bool       `hcl:"durable,optional"`
	Exclusive  bool       `hcl:"exclusive,optional"`
	AutoDelete bool       `hcl:"auto_delete,optional"`
	Bindings   []*Binding `hcl:"bind,block"`
}

// PublishStep publishes Count messages to an exchange, optionally rate
// limited.
type PublishStep struct {
	Name       string `hcl:"name,label"`
	Exchange   string `hcl:"exchange"`
	RoutingKey string `hcl:"routing_key,optional"`
	Count      int    `hcl:"count"`
	// Rate caps the publish rate in messages per second. Zero is unlimited.
	Rate float64 `hcl:"rate,optional"`
	// Body is the message payload. When empty, PayloadSize bytes of filler
	// are sent instead.
	Body        string `hcl:"body,optional"`
	PayloadSize int    `hcl:"payload_size,optional"`
	ContentType string `hcl:"content_type,optional"`
	Persistent  bool   `hcl:"persistent,optional"`
}

// ConsumeStep consumes Count messages from a queue and acknowledges them.
type ConsumeStep struct {
	Name     string `hcl:"name,label"`
	Queue    string `hcl:"queue"`
	Count    int    `hcl:"count"`
	NoAck    bool   `hcl:"no_ack,optional"`
	Prefetch int    `hcl:"prefetch,optional"`
}

// Scenario is one fully loaded and validated scenario.
type Scenario struct {
	Broker    *Broker        `hcl:"broker,block"`
	Exchanges []*Exchange    `hcl:"exchange,block"`
	Queues    []*Queue       `hcl:"queue,block"`
	Publishes []*PublishStep `hcl:"publish,block"`
	Consumes  []*ConsumeStep `hcl:"consume,block"`
}

// Load parses the .hcl file at path, or every .hcl file under it when path
// is a directory, and merges the blocks into one validated scenario.
func Load(ctx context.Context, path string) (*Scenario, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findHCLFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files found at %s", path)
	}
	logger.Debug("discovered scenario files", "count", len(files))

	parser := hclparse.NewParser()
	evalCtx := newEvalContext()

	merged := &Scenario{}
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", file, diags)
		}

		var sc Scenario
		if diags := gohcl.DecodeBody(hclFile.Body, evalCtx, &sc); diags.HasErrors() {
			return nil, fmt.Errorf("decoding %s: %w", file, diags)
		}

		if sc.Broker != nil {
			if merged.Broker != nil {
				return nil, fmt.Errorf("decoding %s: duplicate broker block", file)
			}
			merged.Broker = sc.Broker
		}
		merged.Exchanges = append(merged.Exchanges, sc.Exchanges...)
		merged.Queues = append(merged.Queues, sc.Queues...)
		merged.Publishes = append(merged.Publishes, sc.Publishes...)
		merged.Consumes = append(merged.Consumes, sc.Consumes...)
	}

	if err := merged.validate(); err != nil {
		return nil, err
	}
	logger.Debug("scenario loaded",
		"exchanges", len(merged.Exchanges), "queues", len(merged.Queues),
		"publish_steps", len(merged.Publishes), "consume_steps", len(merged.Consumes))
	return merged, nil
}

// newEvalContext exposes the process environment to scenario expressions as
// env.NAME, so credentials can stay out of the files.
func newEvalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if ok && name != "" {
			env[name] = cty.StringVal(value)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(env)},
	}
}

func (s *Scenario) validate() error {
	if s.Broker == nil {
		return fmt.Errorf("scenario has no broker block")
	}
	if s.Broker.Addr == "" {
		return fmt.Errorf("broker addr must not be empty")
	}

	exchanges := map[string]bool{"": true} // default exchange always exists
	for _, ex := range s.Exchanges {
		if exchanges[ex.Name] {
			return fmt.Errorf("duplicate exchange %q", ex.Name)
		}
		if ex.Kind == "" {
			ex.Kind = "direct"
		}
		exchanges[ex.Name] = true
	}

	queues := map[string]bool{}
	for _, q := range s.Queues {
		if q.Name == "" {
			return fmt.Errorf("scenario queues must be named")
		}
		if queues[q.Name] {
			return fmt.Errorf("duplicate queue %q", q.Name)
		}
		queues[q.Name] = true
		for _, b := range q.Bindings {
			if !exchanges[b.Exchange] {
				return fmt.Errorf("queue %q binds to undeclared exchange %q", q.Name, b.Exchange)
			}
			if b.Exchange == "" {
				return fmt.Errorf("queue %q: binding to the default exchange is implicit", q.Name)
			}
		}
	}

	for _, p := range s.Publishes {
		if !exchanges[p.Exchange] {
			return fmt.Errorf("publish %q targets undeclared exchange %q", p.Name, p.Exchange)
		}
		if p.Count <= 0 {
			return fmt.Errorf("publish %q: count must be positive", p.Name)
		}
		if p.Rate < 0 {
			return fmt.Errorf("publish %q: rate must not be negative", p.Name)
		}
		if p.Body != "" && p.PayloadSize != 0 {
			return fmt.Errorf("publish %q: body and payload_size are mutually exclusive", p.Name)
		}
		if p.Body == "" && p.PayloadSize <= 0 {
			return fmt.Errorf("publish %q: either body or a positive payload_size is required", p.Name)
		}
	}

	for _, c := range s.Consumes {
		if !queues[c.Queue] {
			return fmt.Errorf("consume %q reads from undeclared queue %q", c.Name, c.Queue)
		}
		if c.Count <= 0 {
			return fmt.Errorf("consume %q: count must be positive", c.Name)
		}
	}
	return nil
}

// findHCLFiles accepts a single .hcl file or a directory tree of them.
func findHCLFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("accessing scenario path: %w", err)
	}

	if !info.IsDir() {
		if filepath.Ext(path) != ".hcl" {
			return nil, fmt.Errorf("scenario file %s is not a .hcl file", path)
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(p) == ".hcl" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
