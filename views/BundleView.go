package views

import (
	"net/http"
	"strconv"

	"github.com/GrainArc/MapPack/Transformer"
	"github.com/GrainArc/MapPack/response"
	"github.com/GrainArc/MapPack/services"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// BundleController 成果目录接口
type BundleController struct {
	service *services.BundleService
}

func NewBundleController(service *services.BundleService) *BundleController {
	return &BundleController{service: service}
}

// ListBundles 分页查询成果，可按投影筛选
func (bc *BundleController) ListBundles(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "10"))

	projection := c.Query("projection")
	if projection != "" {
		p, err := Transformer.ParseProjection(projection)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Failed(nil, err.Error()))
			return
		}
		projection = string(p)
	}

	result, err := bc.service.List(c.Request.Context(), page, pageSize, projection)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Failed(nil, "查询失败"))
		return
	}
	c.JSON(http.StatusOK, response.Success(result))
}

// GetBundle 按任务标识查询成果
func (bc *BundleController) GetBundle(c *gin.Context) {
	record, err := bc.service.Get(c.Request.Context(), c.Param("uuid"))
	if errors.Is(err, services.ErrBundleNotFound) {
		c.JSON(http.StatusNotFound, response.Failed(nil, "成果不存在"))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Failed(nil, "查询失败"))
		return
	}
	c.JSON(http.StatusOK, response.Success(record))
}
