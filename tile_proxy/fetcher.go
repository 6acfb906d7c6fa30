package tile_proxy

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// 重试参数
const (
	RetryDelay   = 200 * time.Millisecond
	RetryBackoff = 2
)

var (
	// ErrNoTemplate 未配置该投影与图层的瓦片地址
	ErrNoTemplate = errors.New("no url template")
	// ErrInvalidTile 服务返回的内容不是瓦片图片
	ErrInvalidTile = errors.New("invalid tile data")
)

// TileFetcher 获取单个瓦片并保存
type TileFetcher interface {
	FetchTile(ctx context.Context, t TileRequest) error
}

// TemplateKey 瓦片地址模板的索引
func TemplateKey(projection Transformer.Projection, layer Layer) string {
	return projection.Dir() + "/" + string(layer)
}

// FetcherConfig 网络瓦片获取参数
type FetcherConfig struct {
	// Templates 以 TemplateKey 为键的地址模板，支持 {z} {row} {col} {token}
	Templates  map[string]string
	Token      string
	UserAgents []string
	Timeout    time.Duration
	Retries    int
	Rate       float64 // 每秒请求数，<=0 不限速
	Burst      int
}

// HTTPFetcher 从网络瓦片服务下载瓦片
type HTTPFetcher struct {
	client     *http.Client
	storage    *TileStorage
	templates  map[string]string
	token      string
	userAgents []string
	retries    int
	limiter    *rate.Limiter
	logger     hclog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewHTTPFetcher 创建网络瓦片获取器
func NewHTTPFetcher(storage *TileStorage, cfg FetcherConfig, logger hclog.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		storage:    storage,
		templates:  cfg.Templates,
		token:      cfg.Token,
		userAgents: cfg.UserAgents,
		retries:    cfg.Retries,
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		logger:     logger,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// FetchTile 下载瓦片并写入存储
func (f *HTTPFetcher) FetchTile(ctx context.Context, t TileRequest) error {
	data, err := f.Download(ctx, t)
	if err != nil {
		f.logger.Warn("fetch tile failed", "zoom", t.Zoom, "row", t.Row, "col", t.Col, "error", err)
		return err
	}
	if err := f.storage.WriteTile(ctx, t, data); err != nil {
		return err
	}
	f.logger.Debug("fetched tile", "zoom", t.Zoom, "row", t.Row, "col", t.Col, "bytes", len(data))
	return nil
}

// Download 下载瓦片原始数据，失败按退避重试
func (f *HTTPFetcher) Download(ctx context.Context, t TileRequest) ([]byte, error) {
	url, err := f.buildTileURL(t)
	if err != nil {
		return nil, err
	}
	return f.fetchTileWithRetry(ctx, url)
}

// buildTileURL 构建瓦片URL
func (f *HTTPFetcher) buildTileURL(t TileRequest) (string, error) {
	tmpl, ok := f.templates[TemplateKey(t.Projection, t.Layer)]
	if !ok || tmpl == "" {
		return "", errors.Wrapf(ErrNoTemplate, "%s %s", t.Projection, t.Layer)
	}
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(t.Zoom),
		"{row}", strconv.Itoa(t.Row),
		"{col}", strconv.Itoa(t.Col),
		"{token}", f.token,
	)
	return r.Replace(tmpl), nil
}

// fetchTileWithRetry 带重试的瓦片获取
func (f *HTTPFetcher) fetchTileWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	delay := RetryDelay

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				delay = delay * RetryBackoff
			}
		}

		data, err := f.fetchTile(ctx, url)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, errors.Wrapf(lastErr, "all %d attempts failed", f.retries+1)
}

// fetchTile 获取单个瓦片
func (f *HTTPFetcher) fetchTile(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	if ua := f.userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch tile")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("tile server returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if !isValidTileData(data) {
		return nil, ErrInvalidTile
	}
	return data, nil
}

// userAgent 随机选取客户端标识
func (f *HTTPFetcher) userAgent() string {
	if len(f.userAgents) == 0 {
		return ""
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userAgents[f.rnd.Intn(len(f.userAgents))]
}

// isValidTileData 检查瓦片数据是否为图片
func isValidTileData(data []byte) bool {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return true
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return true
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return true
	}
	return false
}
