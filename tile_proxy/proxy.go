package tile_proxy

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/GrainArc/MapPack/response"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// TileSource 网络瓦片下载
type TileSource interface {
	Download(ctx context.Context, t TileRequest) ([]byte, error)
}

// TileProxyService 本地瓦片服务：缓存、存储、网络依次查找
type TileProxyService struct {
	storage *TileStorage
	source  TileSource
	cache   *TileCache
	logger  hclog.Logger
}

// NewTileProxyService 创建瓦片服务，source 为 nil 时只提供已下载的瓦片
func NewTileProxyService(storage *TileStorage, source TileSource, logger hclog.Logger) *TileProxyService {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &TileProxyService{
		storage: storage,
		source:  source,
		cache:   NewTileCache(1000, 10*time.Minute), // 1000个瓦片，10分钟过期
		logger:  logger,
	}
}

// Tile 获取瓦片数据
func (s *TileProxyService) Tile(ctx context.Context, t TileRequest) ([]byte, error) {
	key := TileKey(t)
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}

	data, err := s.storage.ReadTile(ctx, t)
	if errors.Is(err, ErrObjectNotFound) && s.source != nil {
		data, err = s.source.Download(ctx, t)
		if err == nil {
			if werr := s.storage.WriteTile(ctx, t, data); werr != nil {
				s.logger.Warn("store proxied tile failed", "key", key, "error", werr)
			}
		}
	}
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, data)
	return data, nil
}

// parseTileRequest 解析 /:projection/:type/:zoom/:row/:col 参数
func parseTileRequest(c *gin.Context) (TileRequest, error) {
	var t TileRequest
	var err error

	// 路径中的投影代码使用目录名，如 epsg4326
	code := c.Param("projection")
	if strings.HasPrefix(strings.ToLower(code), "epsg") && !strings.Contains(code, ":") {
		code = "EPSG:" + code[4:]
	}
	if t.Projection, err = Transformer.ParseProjection(code); err != nil {
		return t, err
	}
	if t.Layer, err = ParseLayer(c.Param("type")); err != nil {
		return t, err
	}
	if t.Zoom, err = strconv.Atoi(c.Param("zoom")); err != nil || t.Zoom < 1 {
		return t, errors.New("invalid zoom")
	}
	if t.Row, err = strconv.Atoi(c.Param("row")); err != nil {
		return t, errors.New("invalid row")
	}

	// 列号可能带扩展名
	col := c.Param("col")
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp"} {
		col = strings.TrimSuffix(col, ext)
	}
	if t.Col, err = strconv.Atoi(col); err != nil {
		return t, errors.New("invalid col")
	}
	return t, nil
}

// HandleTileRequest 处理瓦片请求
func (s *TileProxyService) HandleTileRequest(c *gin.Context) {
	t, err := parseTileRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Failed(nil, err.Error()))
		return
	}

	data, err := s.Tile(c.Request.Context(), t)
	if errors.Is(err, ErrObjectNotFound) {
		c.JSON(http.StatusNotFound, response.Failed(nil, "tile not found"))
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, response.Failed(nil, err.Error()))
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}
