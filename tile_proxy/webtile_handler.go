// webtile_handler.go
package tile_proxy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/GrainArc/MapPack/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
)

// RectangleRequest 矩形选区参数，四角均为 [经度, 纬度]
type RectangleRequest struct {
	Projection string    `json:"projection" binding:"required"`
	Zoom       int       `json:"zoom" binding:"required,min=1,max=22"`
	NW         []float64 `json:"nw" binding:"required,len=2"`
	NE         []float64 `json:"ne" binding:"required,len=2"`
	SE         []float64 `json:"se" binding:"required,len=2"`
	SW         []float64 `json:"sw" binding:"required,len=2"`
}

func (r RectangleRequest) corners() Transformer.Corners {
	return Transformer.Corners{
		NW: orb.Point{r.NW[0], r.NW[1]},
		NE: orb.Point{r.NE[0], r.NE[1]},
		SE: orb.Point{r.SE[0], r.SE[1]},
		SW: orb.Point{r.SW[0], r.SW[1]},
	}
}

// DownloadRequest 下载请求参数
type DownloadRequest struct {
	RectangleRequest
	UUID  string `json:"uuid"`
	Type  string `json:"type" binding:"required"`
	Async bool   `json:"async"`
}

// JobRequest 按任务标识操作
type JobRequest struct {
	UUID string `json:"uuid" binding:"required"`
}

// RectangleData 矩形选区信息响应
type RectangleData struct {
	Transformer.Rectangle
	Geometry *geojson.Feature `json:"geometry"`
}

// DownloadData 下载响应
type DownloadData struct {
	RectangleData
	Job Job `json:"job"`
}

// WebTileHandler 网络瓦片处理器
type WebTileHandler struct {
	ctx        context.Context
	downloader *Downloader
	storage    *TileStorage
	hub        *ProgressHub
	logger     hclog.Logger
}

// NewWebTileHandler 创建处理器，ctx 控制下载任务的生命周期而非单个请求
func NewWebTileHandler(ctx context.Context, downloader *Downloader, storage *TileStorage, hub *ProgressHub, logger hclog.Logger) *WebTileHandler {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &WebTileHandler{
		ctx:        ctx,
		downloader: downloader,
		storage:    storage,
		hub:        hub,
		logger:     logger,
	}
}

// RegisterRoutes 注册路由
func (h *WebTileHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/rectangle-info", h.RectangleInfo)
	r.POST("/download/tiles", h.DownloadTiles)
	r.POST("/download/cancel", h.CancelDownload)
	r.GET("/download/cancel/:uuid", h.CancelDownload)
	r.POST("/download/resume", h.ResumeDownload)
	r.GET("/download/resume/:uuid", h.ResumeDownload)
	r.GET("/download/progress/:uuid", h.GetProgress)
	r.DELETE("/download/progress/:uuid", h.DeleteProgress)
	r.GET("/download/jobs", h.ListJobs)
	r.GET("/download/ws/:uuid", h.ConnectWebSocket)
	r.GET("/download/archive/:uuid", h.DownloadArchive)
}

func rectangleData(rect Transformer.Rectangle) RectangleData {
	return RectangleData{Rectangle: rect, Geometry: rect.Feature()}
}

// RectangleInfo 计算矩形选区的瓦片窗口与原点坐标
func (h *WebTileHandler) RectangleInfo(c *gin.Context) {
	var req RectangleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Failed(nil, fmt.Sprintf("invalid request: %v", err)))
		return
	}
	projection, err := Transformer.ParseProjection(req.Projection)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Failed(nil, err.Error()))
		return
	}

	rect := Transformer.RectangleOf(projection, req.corners(), req.Zoom)
	c.JSON(http.StatusOK, response.Success(rectangleData(rect)))
}

// DownloadTiles 新建下载任务，默认同步执行到结束
func (h *WebTileHandler) DownloadTiles(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Failed(nil, fmt.Sprintf("invalid request: %v", err)))
		return
	}
	projection, err := Transformer.ParseProjection(req.Projection)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Failed(nil, err.Error()))
		return
	}
	layer, err := ParseLayer(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Failed(nil, err.Error()))
		return
	}
	if req.UUID == "" {
		req.UUID = uuid.NewString()
	}

	rect := Transformer.RectangleOf(projection, req.corners(), req.Zoom)
	data := DownloadData{RectangleData: rectangleData(rect)}

	if req.Async {
		data.Job = h.downloader.StartAsync(h.ctx, req.UUID, projection, layer, req.Zoom, req.corners())
		c.JSON(http.StatusOK, response.Success(data, "任务已开始"))
		return
	}

	job, ok := h.downloader.Start(h.ctx, req.UUID, projection, layer, req.Zoom, req.corners())
	data.Job = job
	c.JSON(http.StatusOK, response.Of(ok, data, resultMessage(job)))
}

func resultMessage(job Job) string {
	switch {
	case job.State == StateCancelled:
		return "任务已取消"
	case len(job.Failed) > 0:
		return fmt.Sprintf("%d个瓦片下载失败", len(job.Failed))
	case job.Message != "":
		return job.Message
	}
	return "下载完成"
}

// jobID 从路径参数或请求体获取任务标识
func jobID(c *gin.Context) (string, error) {
	if id := c.Param("uuid"); id != "" {
		return id, nil
	}
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", err
	}
	return req.UUID, nil
}

// CancelDownload 取消任务，始终返回成功
func (h *WebTileHandler) CancelDownload(c *gin.Context) {
	id, err := jobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Failed(nil, fmt.Sprintf("invalid request: %v", err)))
		return
	}
	h.downloader.Cancel(id)
	c.JSON(http.StatusOK, response.Success(nil))
}

// ResumeDownload 继续已取消的任务
func (h *WebTileHandler) ResumeDownload(c *gin.Context) {
	id, err := jobID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Failed(nil, fmt.Sprintf("invalid request: %v", err)))
		return
	}

	job, ok, err := h.downloader.Resume(h.ctx, id)
	switch {
	case errors.Is(err, ErrJobNotFound):
		c.JSON(http.StatusNotFound, response.Failed(nil, "任务不存在"))
	case errors.Is(err, ErrJobRunning):
		c.JSON(http.StatusConflict, response.Failed(job, "任务正在下载"))
	default:
		c.JSON(http.StatusOK, response.Of(ok, job, resultMessage(job)))
	}
}

// GetProgress 获取任务进度
func (h *WebTileHandler) GetProgress(c *gin.Context) {
	job, ok := h.downloader.Progress(c.Param("uuid"))
	if !ok {
		c.JSON(http.StatusNotFound, response.Failed(nil, "任务不存在"))
		return
	}
	c.JSON(http.StatusOK, response.Success(job))
}

// DeleteProgress 删除任务记录，下载中的任务会先取消
func (h *WebTileHandler) DeleteProgress(c *gin.Context) {
	if !h.downloader.Delete(c.Param("uuid")) {
		c.JSON(http.StatusNotFound, response.Failed(nil, "任务不存在"))
		return
	}
	c.JSON(http.StatusOK, response.Success(nil))
}

// ListJobs 全部任务
func (h *WebTileHandler) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, response.Success(h.downloader.Store().List()))
}

// ConnectWebSocket WebSocket连接处理
func (h *WebTileHandler) ConnectWebSocket(c *gin.Context) {
	job, ok := h.downloader.Progress(c.Param("uuid"))
	if !ok {
		c.JSON(http.StatusNotFound, response.Failed(nil, "任务不存在"))
		return
	}
	if err := h.hub.Serve(c.Writer, c.Request, job); err != nil {
		h.logger.Warn("websocket upgrade failed", "uuid", job.ID, "error", err)
	}
}

// DownloadArchive 打包下载任务的瓦片与成果
func (h *WebTileHandler) DownloadArchive(c *gin.Context) {
	job, ok := h.downloader.Progress(c.Param("uuid"))
	if !ok {
		c.JSON(http.StatusNotFound, response.Failed(nil, "任务不存在"))
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, job.ID))
	c.Status(http.StatusOK)

	n, err := WriteArchive(c.Request.Context(), c.Writer, h.storage, job)
	if err != nil {
		h.logger.Error("archive failed", "uuid", job.ID, "files", n, "error", err)
		return
	}
	h.logger.Info("archive sent", "uuid", job.ID, "files", n)
}
