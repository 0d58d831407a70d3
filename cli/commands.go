package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/do/v2"
	"github.com/spf13/cobra"

	"github.com/KOMKZ/habitcache/cache"
	"github.com/KOMKZ/habitcache/di"
	"github.com/KOMKZ/habitcache/fetch"
	"github.com/KOMKZ/habitcache/flagx"
)

type policyFlags struct {
	TTL      time.Duration `flag:"ttl" usage:"explicit entry lifetime, overrides --ttl-class"`
	TTLClass string        `flag:"ttl-class" usage:"fast, medium, slow or static"`
}

func (p policyFlags) options() ([]cache.PolicyOption, error) {
	var opts []cache.PolicyOption
	if p.TTLClass != "" {
		c := cache.TTLClass(p.TTLClass)
		if !c.Valid() {
			return nil, fmt.Errorf("unknown --ttl-class %q", p.TTLClass)
		}
		opts = append(opts, cache.WithTTLClass(c))
	}
	if p.TTL > 0 {
		opts = append(opts, cache.WithTTL(p.TTL))
	}
	return opts, nil
}

type getRequest struct {
	policyFlags
	URL   string `flag:"url,u" usage:"endpoint fetched on a miss; relative to fetch.base_url"`
	Force bool   `flag:"force,f" usage:"skip the cache and fetch"`
}

func newGetCmd(flags *globalFlags) *cobra.Command {
	var req getRequest
	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Read a key, fetching it from --url when it is missing or stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flagx.ParseFlags(cmd, &req); err != nil {
				return err
			}
			opts, err := req.options()
			if err != nil {
				return err
			}
			if req.Force {
				opts = append(opts, cache.WithForceRefresh())
			}
			return withEngine(cmd, flags, func(ctx context.Context, app *di.App, e *cache.Engine) error {
				var fetcher cache.Fetcher
				if req.URL != "" {
					client, err := do.Invoke[*fetch.Client](app.Injector())
					if err != nil {
						return err
					}
					fetcher = client.Fetcher(req.URL)
				}
				data, err := e.Get(ctx, cache.ParseKey(args[0]), fetcher, opts...)
				if err != nil {
					return err
				}
				v, err := payload(e, data)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), v)
			})
		},
	}
	mustBind(cmd, &req)
	return cmd
}

type setRequest struct {
	policyFlags
}

func newSetCmd(flags *globalFlags) *cobra.Command {
	var req setRequest
	cmd := &cobra.Command{
		Use:   "set KEY JSON",
		Short: "Store a JSON value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flagx.ParseFlags(cmd, &req); err != nil {
				return err
			}
			opts, err := req.options()
			if err != nil {
				return err
			}
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("value is not valid json")
			}
			return withEngine(cmd, flags, func(ctx context.Context, _ *di.App, e *cache.Engine) error {
				k := cache.ParseKey(args[0])
				var v interface{} = json.RawMessage(args[1])
				if e.Serializer().Name() != cache.SerializerJSON {
					// decode so msgpack stores a structure, not a JSON string
					if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
						return err
					}
				}
				if err := e.Set(ctx, k, v, opts...); err != nil {
					return err
				}
				entry, _ := e.Lookup(ctx, k)
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"key":        k.String(),
					"ttl":        entry.TTL.String(),
					"expires_at": entry.ExpiresAt(),
				})
			})
		},
	}
	mustBind(cmd, &req)
	return cmd
}

type entryView struct {
	cache.Entry
	ExpiresAt  time.Time   `json:"expires_at"`
	Fresh      bool        `json:"fresh"`
	Optimistic string      `json:"optimistic"`
	Data       interface{} `json:"data"`
}

func newPeekCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "peek KEY",
		Short: "Show a cached entry and its metadata without fetching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, _ *di.App, e *cache.Engine) error {
				k := cache.ParseKey(args[0])
				entry, ok := e.Lookup(ctx, k)
				if !ok {
					return cache.ErrNotCached.WithData("key", k.String())
				}
				data, err := payload(e, entry.Data)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), entryView{
					Entry:      entry,
					ExpiresAt:  entry.ExpiresAt(),
					Fresh:      entry.Fresh(e.Clock().Now()),
					Optimistic: e.Ledger().State(k).String(),
					Data:       data,
				})
			})
		},
	}
}

type invalidateRequest struct {
	Kind   string   `flag:"kind,k" usage:"match keys of this kind instead of a substring"`
	Params []string `flag:"param,p" usage:"leading params the kind match requires"`
}

func newInvalidateCmd(flags *globalFlags) *cobra.Command {
	var req invalidateRequest
	cmd := &cobra.Command{
		Use:   "invalidate [PATTERN]",
		Short: "Remove every key containing PATTERN, or matching --kind",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flagx.ParseFlags(cmd, &req); err != nil {
				return err
			}
			var m cache.Matcher
			switch {
			case len(args) == 1 && req.Kind != "":
				return fmt.Errorf("PATTERN and --kind are exclusive")
			case len(args) == 1:
				m = cache.MatchContains(args[0])
			case req.Kind != "":
				params := make([]any, len(req.Params))
				for i, p := range req.Params {
					params[i] = p
				}
				m = cache.MatchKind(req.Kind, params...)
			default:
				return fmt.Errorf("PATTERN or --kind is required")
			}
			return withEngine(cmd, flags, func(ctx context.Context, _ *di.App, e *cache.Engine) error {
				n := e.InvalidateMatching(ctx, m)
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"matcher": m.String(), "removed": n})
			})
		},
	}
	mustBind(cmd, &req)
	return cmd
}

func newKeysCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List cached keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, _ *di.App, e *cache.Engine) error {
				keys := e.Keys(ctx)
				if keys == nil {
					keys = []string{}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"keys": keys, "count": len(keys)})
			})
		},
	}
}

func newSweepCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Drop expired entries from both tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, _ *di.App, e *cache.Engine) error {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"removed": e.Sweep(ctx)})
			})
		},
	}
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print engine counters for this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, flags, func(_ context.Context, _ *di.App, e *cache.Engine) error {
				st := e.Stats()
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"stats":     st,
					"hit_ratio": st.HitRatio(),
				})
			})
		},
	}
}

type serveRequest struct {
	Addr string `flag:"addr" usage:"admin listen address, overrides admin.addr"`
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var req serveRequest
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache with its janitor and admin API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flagx.ParseFlags(cmd, &req); err != nil {
				return err
			}
			extra := map[string]interface{}{"admin.enabled": true}
			if req.Addr != "" {
				extra["admin.addr"] = req.Addr
			}
			opts, err := flags.options(extra)
			if err != nil {
				return err
			}
			app := di.NewApp(di.WithOptions(opts))
			return app.Run(cmd.Context())
		},
	}
	mustBind(cmd, &req)
	return cmd
}

func mustBind(cmd *cobra.Command, target interface{}) {
	if err := flagx.BindFlags(cmd, target); err != nil {
		panic(err)
	}
}
