package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/GrainArc/MapPack/config"
	"github.com/GrainArc/MapPack/models"
	"github.com/GrainArc/MapPack/routers"
	"github.com/GrainArc/MapPack/services"
	"github.com/GrainArc/MapPack/tile_proxy"
	"github.com/GrainArc/MapPack/views"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"golang.org/x/sync/errgroup"
	"gopkg.in/urfave/cli.v2"
)

const shutdownTimeout = 10 * time.Second

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := config.NewLogger("mappack", cfg.LogLevel, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received interrupt, shutting down")
		cancel()
	}()

	bucket, err := openBucket(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer bucket.Close()

	db, err := config.OpenDatabase(cfg.Database, config.GormLogLevel(cfg.LogLevel))
	if err != nil {
		return err
	}
	if err := models.InitDB(db); err != nil {
		return errors.Wrap(err, "migrate database")
	}

	method, err := tile_proxy.ParseGeoRefMethod(cfg.GeoRef)
	if err != nil {
		return err
	}

	storage := tile_proxy.NewTileStorage(bucket)
	fetcher := tile_proxy.NewHTTPFetcher(storage, fetcherConfig(cfg, logger), logger.Named("fetcher"))
	hub := tile_proxy.NewProgressHub(logger.Named("progress"))
	bundles := services.NewBundleService(db, logger.Named("bundles"))
	downloader := tile_proxy.NewDownloader(
		tile_proxy.NewJobStore(),
		fetcher,
		tile_proxy.NewBundleMosaicker(storage, logger.Named("mosaic")),
		tile_proxy.NewBundleGeoReferencer(storage, method, logger.Named("georef")),
		tile_proxy.WithLogger(logger.Named("downloader")),
		tile_proxy.WithObserver(hub),
		tile_proxy.WithRecorder(bundles),
	)

	// 下载任务随进程退出而中断，可在重启前继续
	handler := tile_proxy.NewWebTileHandler(ctx, downloader, storage, hub, logger.Named("http"))
	proxy := tile_proxy.NewTileProxyService(storage, fetcher, logger.Named("proxy"))

	if !logger.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(
		gin.LoggerWithWriter(logger.Named("gin").StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})),
		gin.Recovery(),
	)
	routers.TileRouters(r, handler, proxy, views.NewBundleController(bundles))

	srv := &http.Server{
		Addr:              cfg.MainRouter,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.MainRouter, "storage", cfg.Storage, "database", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server stopped", "jobs", downloader.Store().Len())
	return err
}

// loadConfig 读取配置文件并应用命令行参数
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return cfg, err
	}
	if v := c.String(flagAddr); v != "" {
		cfg.MainRouter = v
	}
	if v := c.String(flagStorage); v != "" {
		cfg.Storage = v
	}
	if v := c.String(flagToken); v != "" {
		cfg.Token = v
	}
	if v := c.String(flagLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String(flagGeoRef); v != "" {
		cfg.GeoRef = v
	}
	return cfg, nil
}

// openBucket 打开存储桶，非 URL 时视为本地目录
func openBucket(ctx context.Context, storage string) (*blob.Bucket, error) {
	if strings.Contains(storage, "://") {
		bkt, err := blob.OpenBucket(ctx, storage)
		return bkt, errors.Wrapf(err, "open bucket %s", storage)
	}
	if err := os.MkdirAll(storage, os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "create storage directory")
	}
	bkt, err := fileblob.OpenBucket(storage, nil)
	return bkt, errors.Wrapf(err, "open directory %s", storage)
}

// fetcherConfig 将配置中的地址模板转换为下载器参数，无法识别的模板跳过
func fetcherConfig(cfg config.Config, logger hclog.Logger) tile_proxy.FetcherConfig {
	templates := make(map[string]string, len(cfg.Templates))
	for _, t := range cfg.Templates {
		projection, err := Transformer.ParseProjection(t.Projection)
		if err != nil {
			logger.Warn("skip template", "projection", t.Projection, "error", err)
			continue
		}
		layer, err := tile_proxy.ParseLayer(t.Layer)
		if err != nil {
			logger.Warn("skip template", "layer", t.Layer, "error", err)
			continue
		}
		url, _ := cfg.Template(t.Projection, t.Layer)
		templates[tile_proxy.TemplateKey(projection, layer)] = url
	}

	return tile_proxy.FetcherConfig{
		Templates:  templates,
		Token:      cfg.Token,
		UserAgents: cfg.UserAgents,
		Timeout:    cfg.FetchTimeout(),
		Retries:    cfg.Fetch.Retries,
		Rate:       cfg.Fetch.Rate,
		Burst:      cfg.Fetch.Burst,
	}
}
