package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/YananZhang666/wopihost/internal/logger"
	"github.com/YananZhang666/wopihost/pkg/config"
	"github.com/YananZhang666/wopihost/pkg/wopi/access"
	"github.com/YananZhang666/wopihost/pkg/wopi/lock"
	"github.com/YananZhang666/wopihost/pkg/wopi/metrics"
	"github.com/YananZhang666/wopihost/pkg/wopi/proofkey"
	"github.com/YananZhang666/wopihost/pkg/wopi/server"
	"github.com/YananZhang666/wopihost/pkg/wopi/state"
	"github.com/YananZhang666/wopihost/pkg/wopi/storage"
	localstorage "github.com/YananZhang666/wopihost/pkg/wopi/storage/local"
	s3storage "github.com/YananZhang666/wopihost/pkg/wopi/storage/s3"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wopihost server",
	Long: `Start the wopihost WOPI server using the configuration at --config
(default: ./wopihost.yaml), overridden by WOPIHOST_* environment variables.

Examples:
  wopihost serve
  wopihost serve --config /etc/wopihost/config.yaml
  WOPIHOST_ACCESS_SECRET=$(openssl rand -hex 32) wopihost serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter, err := buildStorageAdapter(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage adapter: %w", err)
	}

	minter, err := access.NewMinter([]byte(cfg.Access.Secret), cfg.Access.Issuer, cfg.Access.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to initialize access token minter: %w", err)
	}
	validator := access.NewValidator([]byte(cfg.Access.Secret))
	gate := access.NewGate(validator, access.NewStaticSource(access.PermissionWrite))

	locks := lock.New()

	var reg prometheus.Registerer
	if cfg.Metrics.Enabled {
		reg = prometheus.DefaultRegisterer
	} else {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg, func() float64 { return float64(locks.Len(time.Now().UTC())) })

	rootName := cfg.Storage.Local.Name
	if cfg.Storage.Backend == "s3" {
		rootName = cfg.Storage.S3.Prefix
		if rootName == "" {
			rootName = cfg.Storage.S3.Bucket
		}
	}
	if rootName == "" {
		rootName = "root"
	}

	core := &server.Core{
		Locks:         locks,
		Storage:       adapter,
		Gate:          gate,
		Minter:        minter,
		ProofKey:      proofkey.Permissive{},
		UserInfo:      state.NewUserInfo(),
		RevokedLinks:  state.NewRevokedLinks(),
		ServerVersion: Version,
		MachineName:   cfg.Server.MachineName,
		RootName:      rootName,
		Metrics:       m,
	}

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, core)

	logger.Info("wopihost starting", "addr", cfg.Server.Addr, "storage_backend", cfg.Storage.Backend)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(sigCtx); err != nil {
		return err
	}
	logger.Info("wopihost stopped")
	return nil
}

func buildStorageAdapter(ctx context.Context, cfg config.StorageConfig) (storage.Adapter, error) {
	switch cfg.Backend {
	case "local":
		name := cfg.Local.Name
		if name == "" {
			name = "root"
		}
		return localstorage.New(localstorage.Config{Root: cfg.Local.Root, Name: name})
	case "s3":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.S3.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.S3.Region))
		}
		if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		var client *s3.Client
		if cfg.S3.Endpoint != "" {
			client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
				o.UsePathStyle = true
			})
		} else {
			client = s3.NewFromConfig(awsCfg)
		}
		name := cfg.S3.Prefix
		if name == "" {
			name = cfg.S3.Bucket
		}
		return s3storage.New(client, s3storage.Config{
			Bucket: cfg.S3.Bucket,
			Prefix: cfg.S3.Prefix,
			Name:   name,
			Retry:  s3storage.DefaultRetryConfig(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
