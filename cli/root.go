// Package cli is the habitcache command line: one-shot cache operations
// against the configured durable tier, and serve for the long running
// process with the admin API.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/KOMKZ/habitcache/cache"
	"github.com/KOMKZ/habitcache/di"
)

// Store names accepted by --store.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type globalFlags struct {
	ConfigFile string
	EnvPrefix  string
	Store      string
	RedisAddr  string
	SQLitePath string
	Verbose    bool
}

// overrides maps the global flags onto config keys. Flags win over the
// file and the environment.
func (f globalFlags) overrides() (map[string]interface{}, error) {
	o := map[string]interface{}{}
	switch f.Store {
	case "":
	case StoreMemory:
		o["durable.type"] = "memory"
	case StoreRedis:
		o["durable.type"] = "redis"
	case StoreSQLite:
		o["durable.type"] = "sql"
		o["durable.sql.driver"] = "sqlite"
	default:
		return nil, fmt.Errorf("unknown --store %q: want memory, redis or sqlite", f.Store)
	}
	if f.RedisAddr != "" {
		o["durable.redis.addrs"] = []string{f.RedisAddr}
	}
	if f.SQLitePath != "" {
		o["durable.sql.dsn"] = f.SQLitePath
	}
	if !f.Verbose {
		o["logger.level"] = "warn"
	}
	return o, nil
}

func (f globalFlags) options(extra map[string]interface{}) (di.Options, error) {
	o, err := f.overrides()
	if err != nil {
		return di.Options{}, err
	}
	for k, v := range extra {
		o[k] = v
	}
	return di.Options{ConfigFile: f.ConfigFile, EnvPrefix: f.EnvPrefix, Overrides: o}, nil
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:           "habitcache",
		Short:         "Inspect and drive the habit tracker cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigFile, "config", "c", "", "config file (yaml, json or toml)")
	pf.StringVar(&flags.EnvPrefix, "env-prefix", "HABITCACHE", "prefix of environment overrides")
	pf.StringVar(&flags.Store, "store", "", "durable tier: memory, redis or sqlite")
	pf.StringVar(&flags.RedisAddr, "redis-addr", "", "redis address when --store=redis")
	pf.StringVar(&flags.SQLitePath, "sqlite-path", "", "database file when --store=sqlite")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "log at the configured level instead of warn")

	cmd.AddCommand(
		newGetCmd(&flags),
		newSetCmd(&flags),
		newPeekCmd(&flags),
		newInvalidateCmd(&flags),
		newKeysCmd(&flags),
		newSweepCmd(&flags),
		newStatsCmd(&flags),
		newServeCmd(&flags),
	)
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// withEngine builds the DI graph for a one-shot command and tears it down
// once fn returns, so durable writes are flushed and connections closed.
func withEngine(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, app *di.App, e *cache.Engine) error) (err error) {
	opts, err := flags.options(map[string]interface{}{"admin.enabled": false})
	if err != nil {
		return err
	}
	app := di.NewApp(di.WithOptions(opts))
	defer func() {
		if serr := app.Shutdown(context.Background()); serr != nil && err == nil {
			err = serr
		}
	}()
	if err := app.Setup(); err != nil {
		return err
	}
	engine, err := do.Invoke[*cache.Engine](app.Injector())
	if err != nil {
		return err
	}
	return fn(cmd.Context(), app, engine)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// payload renders cached bytes for output. JSON payloads are inlined;
// msgpack ones are decoded generically first.
func payload(e *cache.Engine, data []byte) (interface{}, error) {
	if e.Serializer().Name() == cache.SerializerJSON {
		if !json.Valid(data) {
			return nil, cache.ErrDeserialize.WithMsgf("cached payload is not valid json")
		}
		return json.RawMessage(data), nil
	}
	var v interface{}
	if err := e.Serializer().Unmarshal(data, &v); err != nil {
		return nil, cache.ErrDeserialize.Wrap(err)
	}
	return v, nil
}
