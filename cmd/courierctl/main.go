package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marcus-qen/courier/internal/action"
	"github.com/marcus-qen/courier/internal/apierr"
	"github.com/marcus-qen/courier/internal/discovery"
	"github.com/marcus-qen/courier/internal/endpoint"
	"github.com/marcus-qen/courier/internal/interresource"
	"github.com/marcus-qen/courier/internal/query"
	"github.com/marcus-qen/courier/internal/result"
	"github.com/marcus-qen/courier/internal/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 10 * time.Second
)

type cliConfig struct {
	server     string
	sessionID  string
	redisURI   string
	redisKey   string
	timeout    time.Duration
	jsonOutput bool
}

func main() {
	cfg, command, args, err := parseArgs(os.Args[1:])
	if errors.Is(err, errShowUsage) {
		printUsage()
		if len(os.Args) == 1 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()

	switch command {
	case "call":
		err = runCall(ctx, cfg, args)
	case "discover":
		err = runDiscover(ctx, cfg, args)
	case "session":
		err = runSession(ctx, cfg, args)
	case "version":
		fmt.Printf("courierctl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	case "help", "--help", "-h":
		printUsage()
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errShowUsage = errors.New("show usage")

func parseArgs(args []string) (cliConfig, string, []string, error) {
	cfg := cliConfig{
		server:    envOr("COURIER_SERVER", defaultServer),
		sessionID: os.Getenv("COURIER_SESSION_ID"),
		redisURI:  os.Getenv("COURIER_REDIS_URI"),
		redisKey:  envOr("COURIER_DISCOVERY_REDIS_KEY", "courier:announcements"),
		timeout:   defaultTimeout,
	}

	idx := 0
	for idx < len(args) {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		if arg == "--json" {
			cfg.jsonOutput = true
			idx++
			continue
		}
		if arg == "--help" || arg == "-h" {
			return cfg, "", nil, errShowUsage
		}
		if idx+1 >= len(args) {
			return cfg, "", nil, fmt.Errorf("%s requires a value", arg)
		}
		val := args[idx+1]
		switch arg {
		case "--server", "-s":
			cfg.server = val
		case "--session":
			cfg.sessionID = val
		case "--redis":
			cfg.redisURI = val
		case "--timeout":
			d, err := time.ParseDuration(val)
			if err != nil {
				return cfg, "", nil, fmt.Errorf("--timeout: %w", err)
			}
			cfg.timeout = d
		default:
			return cfg, "", nil, fmt.Errorf("unknown flag: %s", arg)
		}
		idx += 2
	}

	if idx >= len(args) {
		return cfg, "", nil, errShowUsage
	}

	return cfg, args[idx], args[idx+1:], nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Print(`Usage: courierctl [--server <url>] [--session <id>] [--redis <uri>] [--timeout <d>] [--json] <command>

Commands:
  call <resource> <version> <action> [ident] [--body <json>] [--query k=v]...
                            Call a resource action (list, show, create, update, delete)
  discover <resource> <version>
                            Show where a resource is served
  session create <caller> --allow <resource,...> [--lifetime <d>]
                            Store a session in Redis and print its id
  version                   Show version
`)
}

// callArgs is one parsed call command.
type callArgs struct {
	resource string
	version  int
	action   action.Action
	ident    string
	body     map[string]any
	query    url.Values
}

func parseCallArgs(args []string) (callArgs, error) {
	var c callArgs
	var pos []string
	c.query = url.Values{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--body", "--query":
			if i+1 >= len(args) {
				return c, fmt.Errorf("%s requires a value", args[i])
			}
			val := args[i+1]
			if args[i] == "--body" {
				if err := json.Unmarshal([]byte(val), &c.body); err != nil || c.body == nil {
					return c, fmt.Errorf("--body must be a JSON object")
				}
			} else {
				k, v, ok := strings.Cut(val, "=")
				if !ok || k == "" {
					return c, fmt.Errorf("--query expects key=value, got %q", val)
				}
				c.query.Add(k, v)
			}
			i++
		default:
			pos = append(pos, args[i])
		}
	}

	if len(pos) < 3 || len(pos) > 4 {
		return c, fmt.Errorf("usage: courierctl call <resource> <version> <action> [ident]")
	}
	c.resource = pos[0]
	v, err := strconv.Atoi(strings.TrimPrefix(pos[1], "v"))
	if err != nil || v < 1 {
		return c, fmt.Errorf("invalid version %q", pos[1])
	}
	c.version = v
	c.action = action.Action(strings.ToLower(pos[2]))
	if !c.action.Valid() {
		return c, fmt.Errorf("unknown action %q", pos[2])
	}
	if len(pos) == 4 {
		c.ident = pos[3]
	}
	if c.action.TakesIdent() && c.ident == "" {
		return c, fmt.Errorf("%s requires an ident", c.action)
	}
	if !c.action.TakesIdent() && c.ident != "" {
		return c, fmt.Errorf("%s does not take an ident", c.action)
	}
	if c.body != nil && !c.action.TakesBody() {
		return c, fmt.Errorf("%s does not take a body", c.action)
	}
	return c, nil
}

func runCall(ctx context.Context, cfg cliConfig, args []string) error {
	c, err := parseCallArgs(args)
	if err != nil {
		return err
	}

	errs := apierr.NewCollection(nil)
	q := query.Decode(c.query, errs)
	if errs.HasErrors() {
		return printErrors(cfg, errs)
	}

	caller := interresource.New(interresource.Config{
		Discoverer:  discovery.ByConvention{Root: cfg.server},
		HTTPClient:  &http.Client{},
		HTTPTimeout: cfg.timeout,
	})
	opts := endpoint.Options{}
	if cfg.sessionID != "" {
		opts.Session = &session.Session{ID: cfg.sessionID}
	}
	ep := caller.Direct(c.resource, c.version, opts)

	if c.action == action.List {
		res := ep.List(ctx, &q)
		if res.HasErrors() {
			return printErrors(cfg, res.PlatformErrors())
		}
		return printList(cfg, res)
	}

	var res *result.Map
	switch c.action {
	case action.Show:
		res = ep.Show(ctx, c.ident, &q)
	case action.Create:
		res = ep.Create(ctx, c.body, &q)
	case action.Update:
		res = ep.Update(ctx, c.ident, c.body, &q)
	case action.Delete:
		res = ep.Delete(ctx, c.ident, &q)
	}
	if res.HasErrors() {
		return printErrors(cfg, res.PlatformErrors())
	}
	if cfg.jsonOutput {
		return writeJSON(os.Stdout, res.Value)
	}
	printMap(os.Stdout, res.Value)
	return nil
}

func runDiscover(ctx context.Context, cfg cliConfig, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: courierctl discover <resource> <version>")
	}
	v, err := strconv.Atoi(strings.TrimPrefix(args[1], "v"))
	if err != nil || v < 1 {
		return fmt.Errorf("invalid version %q", args[1])
	}

	var d discovery.Discoverer = discovery.ByConvention{Root: cfg.server}
	if cfg.redisURI != "" {
		client, err := newRedis(cfg.redisURI)
		if err != nil {
			return err
		}
		defer client.Close()
		d = discovery.NewAnnouncements(client, cfg.redisKey)
	}

	res, err := d.Discover(ctx, args[0], v)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return writeJSON(os.Stdout, discoveryView(res))
	}
	fmt.Println(res.String())
	return nil
}

func discoveryView(res discovery.Result) map[string]any {
	out := map[string]any{
		"kind":     string(res.Kind),
		"resource": res.Resource,
		"version":  res.Version,
	}
	if res.BaseURI != "" {
		out["base_uri"] = res.BaseURI
	}
	if res.RoutingKey != "" {
		out["routing_key"] = res.RoutingKey
	}
	return out
}

func runSession(ctx context.Context, cfg cliConfig, args []string) error {
	if len(args) < 2 || args[0] != "create" {
		return fmt.Errorf("usage: courierctl session create <caller> --allow <resource,...> [--lifetime <d>]")
	}
	callerID := args[1]
	lifetime := session.DefaultLifetime
	var allow []string
	for i := 2; i < len(args); i++ {
		if i+1 >= len(args) {
			return fmt.Errorf("%s requires a value", args[i])
		}
		switch args[i] {
		case "--allow":
			allow = strings.Split(args[i+1], ",")
		case "--lifetime":
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("--lifetime: %w", err)
			}
			lifetime = d
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
		i++
	}
	if cfg.redisURI == "" {
		return fmt.Errorf("session create needs --redis or COURIER_REDIS_URI")
	}

	client, err := newRedis(cfg.redisURI)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := session.Create(ctx, session.NewRedisStore(client, session.DefaultRedisPrefix), callerID, allowPermissions(allow), lifetime)
	if err != nil {
		return err
	}
	if cfg.jsonOutput {
		return writeJSON(os.Stdout, sess)
	}
	fmt.Println(sess.ID)
	return nil
}

// allowPermissions grants every action on the named resources. "*" grants
// every resource.
func allowPermissions(resources []string) session.Permissions {
	p := session.Permissions{Resources: map[string]session.ResourcePermissions{}}
	for _, r := range resources {
		r = strings.TrimSpace(r)
		switch r {
		case "":
		case "*":
			p.Default = session.ResourcePermissions{Else: session.Allow}
		default:
			p.Resources[r] = session.ResourcePermissions{Else: session.Allow}
		}
	}
	return p
}

func newRedis(uri string) (*redis.Client, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis URI: %w", err)
	}
	return redis.NewClient(opts), nil
}
