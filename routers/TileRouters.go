package routers

import (
	"github.com/GrainArc/MapPack/tile_proxy"
	"github.com/GrainArc/MapPack/views"
	"github.com/gin-gonic/gin"
)

// TileRouters 注册瓦片下载、瓦片预览与成果目录路由。
// 浏览器端页面使用 /tianditu 前缀，两组路由完全相同。
func TileRouters(r *gin.Engine, handler *tile_proxy.WebTileHandler, proxy *tile_proxy.TileProxyService, bundles *views.BundleController) {
	for _, prefix := range []string{"/", "/tianditu"} {
		mapRouter := r.Group(prefix)
		{
			handler.RegisterRoutes(mapRouter)
			mapRouter.GET("/tiles/:projection/:type/:zoom/:row/:col", proxy.HandleTileRequest)
			mapRouter.GET("/bundles", bundles.ListBundles)
			mapRouter.GET("/bundles/:uuid", bundles.GetBundle)
		}
	}
}
