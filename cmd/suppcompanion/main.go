package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/suppcompanion/internal/filestore"
	"github.com/pavelanni/suppcompanion/internal/handler"
	appI18n "github.com/pavelanni/suppcompanion/internal/i18n"
	"github.com/pavelanni/suppcompanion/internal/model"
	"github.com/pavelanni/suppcompanion/internal/provision"
	"github.com/pavelanni/suppcompanion/internal/store"
	"github.com/pavelanni/suppcompanion/internal/webservice"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "suppcompanion",
		Short: "Support companion web service for course authoring",
	}

	serve := serveCmd()
	root.AddCommand(serve, provisionCmd(), migrateCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func dbFlags(f *pflag.FlagSet) {
	f.String("db", "suppcompanion.db", "Database path (sqlite) or DSN (postgres)")
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web service server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	dbFlags(f)
	f.StringP("lang", "l", "en", "Default language for error messages")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	f.Bool("debug", false, "Include debuginfo in error responses")
	f.String("blob-backend", "local", "Blob storage backend (local, s3, azure)")
	f.String("blob-dir", "filedir", "Directory for the local blob backend")
	f.String("s3-bucket", "", "S3 bucket")
	f.String("s3-region", "", "S3 region")
	f.String("s3-endpoint", "", "S3 compatible endpoint URL")
	f.String("s3-access-key", "", "S3 access key id")
	f.String("s3-secret-key", "", "S3 secret access key")
	f.String("s3-prefix", "", "Key prefix inside the bucket")
	f.Bool("s3-path-style", false, "Use path style S3 addressing")
	f.String("azure-account", "", "Azure storage account name")
	f.String("azure-key", "", "Azure storage account key (default credential chain when empty)")
	f.String("azure-connection-string", "", "Azure storage connection string")
	f.String("azure-container", "", "Azure blob container")
	f.String("azure-endpoint", "", "Azure blob service endpoint URL")
	f.String("azure-prefix", "", "Blob name prefix inside the container")
	f.Duration("download-timeout", 60*time.Second, "Timeout for downloading resource files")
	return cmd
}

func provisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the service user, role, service and token",
		RunE:  runProvision,
	}
	f := cmd.Flags()
	dbFlags(f)
	f.String("password", "", "Password for the service user (random when empty)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the database schema up to date",
		RunE:  runMigrate,
	}
	dbFlags(cmd.Flags())
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SUPPCOMPANION")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("suppcompanion")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/suppcompanion")
	v.AddConfigPath("/etc/suppcompanion")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	db, err := store.Open(ctx, store.Driver(v.GetString("db-driver")), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// siteConfig overlays the "site" section of the config file on the defaults.
func siteConfig(v *viper.Viper) (model.SiteConfig, error) {
	site := model.DefaultSiteConfig()
	site.Languages = appI18n.Languages()
	if err := v.UnmarshalKey("site", &site); err != nil {
		return site, fmt.Errorf("decode site config: %w", err)
	}
	return site, nil
}

func openBlobs(ctx context.Context, v *viper.Viper) (filestore.Blob, error) {
	switch v.GetString("blob-backend") {
	case "s3":
		return filestore.NewS3(ctx, filestore.S3Config{
			Bucket:          v.GetString("s3-bucket"),
			Region:          v.GetString("s3-region"),
			AccessKeyID:     v.GetString("s3-access-key"),
			SecretAccessKey: v.GetString("s3-secret-key"),
			Endpoint:        v.GetString("s3-endpoint"),
			UsePathStyle:    v.GetBool("s3-path-style"),
			Prefix:          v.GetString("s3-prefix"),
		})
	case "azure":
		return filestore.NewAzure(filestore.AzureConfig{
			ConnectionString: v.GetString("azure-connection-string"),
			AccountName:      v.GetString("azure-account"),
			AccountKey:       v.GetString("azure-key"),
			Container:        v.GetString("azure-container"),
			Endpoint:         v.GetString("azure-endpoint"),
			Prefix:           v.GetString("azure-prefix"),
		})
	case "local", "":
		return filestore.NewLocal(v.GetString("blob-dir"))
	}
	return nil, fmt.Errorf("%w: unknown blob backend %q", filestore.ErrInvalidConfig, v.GetString("blob-backend"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	site, err := siteConfig(v)
	if err != nil {
		return err
	}
	blobs, err := openBlobs(ctx, v)
	if err != nil {
		return fmt.Errorf("open blob storage: %w", err)
	}
	files := filestore.NewManager(db, blobs, filestore.Options{
		HTTPClient: &http.Client{Timeout: v.GetDuration("download-timeout")},
	})
	svc := webservice.New(db, files, site)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	h, err := handler.New(db, svc, handler.Config{Debug: v.GetBool("debug"), Registry: reg})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Accept", "Accept-Language"},
			MaxAge:         300,
		}))
	}
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"db_driver", db.Driver(),
		"blob_backend", blobs.Backend(),
		"lang", lang,
		"languages", site.Languages,
		"functions", len(svc.Functions()),
	)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runProvision(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()
	if err := appI18n.Init("en"); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := provision.Ensure(ctx, db, provision.Options{Password: v.GetString("password")})
	if err != nil {
		return fmt.Errorf("provision: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User %s (id %d), role %s (id %d)\n", provision.Username(), res.UserID, provision.RoleShortName(), res.RoleID)
	fmt.Fprintf(out, "Service %s (id %d): %s\n", provision.ServiceName, res.ServiceID,
		appI18n.Tp(ctx, "FunctionsRegistered", len(provision.Functions)))
	fmt.Fprintf(out, "Token for %s: %s\n", provision.ServiceName, res.Token)
	if len(res.Created) == 0 {
		fmt.Fprintln(out, appI18n.T(ctx, "ProvisionUnchanged"))
	}
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := db.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d\n", version)
	return nil
}
