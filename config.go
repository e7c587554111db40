package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Seednode/tierbox/catalog"
	"github.com/Seednode/tierbox/run"
	"github.com/Seednode/tierbox/storage"
)

type Config struct {
	adminToken     string
	bind           string
	catalog        string
	dataDir        string
	locked         string
	port           int
	prefix         string
	profile        bool
	redisAddr      string
	sessionTimeout time.Duration
	storage        string
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool

	// Live table client settings, used by the play, table and add commands.
	endpoint string
	token    string
	timeout  time.Duration

	log *zap.Logger
}

var storageKinds = []string{storage.KindDir, storage.KindSQLite, storage.KindRedis, storage.KindMemory}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if !slices.Contains(storageKinds, c.storage) {
		return fmt.Errorf("invalid storage backend (must be one of %s): %q", strings.Join(storageKinds, ", "), c.storage)
	}
	if c.storage == storage.KindRedis && c.redisAddr == "" {
		return errors.New("--redis-addr is required when --storage=redis")
	}
	if c.sessionTimeout < 0 {
		return fmt.Errorf("invalid session timeout: %s", c.sessionTimeout)
	}
	if c.timeout < 0 {
		return fmt.Errorf("invalid request timeout: %s", c.timeout)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) logger() *zap.Logger {
	if c.log == nil {
		return zap.NewNop()
	}
	return c.log
}

func (c *Config) httpClient() *http.Client {
	return &http.Client{Timeout: c.timeout}
}

// openStore opens the configured backend, keeping file based stores under
// the data directory.
func (c *Config) openStore(ctx context.Context) (storage.Store, error) {
	switch c.storage {
	case storage.KindRedis:
		return storage.Open(ctx, storage.KindRedis, c.redisAddr)
	case storage.KindSQLite:
		return storage.Open(ctx, storage.KindSQLite, filepath.Join(c.dataDir, "tierbox.db"))
	case storage.KindMemory:
		return storage.Open(ctx, storage.KindMemory, "")
	default:
		return storage.Open(ctx, storage.KindDir, filepath.Join(c.dataDir, "documents"))
	}
}

func (c *Config) loadCatalog(ctx context.Context) ([]catalog.Candidate, error) {
	if c.catalog == "" {
		return nil, errors.New("no catalog configured (set --catalog)")
	}

	cands, err := catalog.Load(ctx, c.catalog, c.httpClient())
	if err != nil {
		return nil, err
	}

	logf(c, "CATALOG: Loaded %d candidates from %s", len(cands), c.catalog)

	return cands, nil
}

func (c *Config) runOptions() run.Options {
	return run.Options{Locked: c.locked}
}

func defaultDataDir() string {
	xdg.Reload()

	dataHome := xdg.DataHome
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "tierbox")
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	return filepath.Join(dataHome, "tierbox")
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.DisableStacktrace = true
	zc.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(logDate)
	zc.OutputPaths = []string{"stdout"}

	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return zc.Build()
}

func normalizeFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

// bindEnv lets every flag in fs be set from its TIERBOX_ environment variable.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func addClientFlags(cfg *Config, fs *pflag.FlagSet) {
	fs.StringVar(&cfg.endpoint, "endpoint", "http://localhost:4000/live-table", "live table store to sync with (env: TIERBOX_ENDPOINT)")
	fs.StringVar(&cfg.token, "token", "", "admin token sent to the live table store (env: TIERBOX_TOKEN)")
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "timeout for requests to the live table store (env: TIERBOX_TIMEOUT)")
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TIERBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "tierbox",
		Short:         "Rank wrestlers against a fixed reference and keep a shared live table of the results.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			l, err := newLogger(cfg.verbose)
			if err != nil {
				return err
			}
			cfg.log = l

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = cfg.logger().Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	pfs := cmd.PersistentFlags()
	normalizeFlags(pfs)

	pfs.StringVar(&cfg.catalog, "catalog", "", "path or URL of the candidate catalog (env: TIERBOX_CATALOG)")
	pfs.StringVar(&cfg.dataDir, "data-dir", defaultDataDir(), "directory for local documents (env: TIERBOX_DATA_DIR)")
	pfs.StringVar(&cfg.locked, "locked", run.DefaultLocked, "id of the reference candidate (env: TIERBOX_LOCKED)")
	pfs.StringVar(&cfg.redisAddr, "redis-addr", "", "redis address or URL, for --storage=redis (env: TIERBOX_REDIS_ADDR)")
	pfs.StringVar(&cfg.storage, "storage", storage.KindDir, "storage backend: dir, sqlite, redis or memory (env: TIERBOX_STORAGE)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TIERBOX_VERBOSE)")

	fs := cmd.Flags()
	normalizeFlags(fs)

	fs.StringVar(&cfg.adminToken, "admin-token", "", "token required to write the live table (env: TIERBOX_ADMIN_TOKEN)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TIERBOX_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 4000, "port to listen on (env: TIERBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TIERBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TIERBOX_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle play sessions are dropped from memory (env: TIERBOX_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TIERBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TIERBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TIERBOX_VERSION)")

	bindEnv(v, pfs)
	bindEnv(v, fs)

	cmd.AddCommand(
		newPlayCmd(cfg, v),
		newTableCmd(cfg, v),
		newAddCmd(cfg, v),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tierbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
