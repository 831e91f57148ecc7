package router

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/tracing"
)

// RegisterRoutes 注册API路由
// /health 不鉴权；apiKeys为空时跳过鉴权，便于本地环境
func RegisterRoutes(h *server.Hertz, hd *handler.Handler, apiKeys []string) {
	h.GET("/api/v1/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := h.Group("/api/v1")
	if len(apiKeys) > 0 {
		allowed := make(map[string]bool, len(apiKeys))
		for _, key := range apiKeys {
			allowed[key] = true
		}
		api.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:X-API-Key", ""),
			keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
				return allowed[key], nil
			}),
		))
	}

	api.POST("/process", func(c context.Context, ctx *app.RequestContext) {
		var req handler.ProcessRequest
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
			return
		}

		resp, err := hd.HandleProcess(c, req)
		if err != nil {
			tracing.RecordHTTPError(trace.SpanFromContext(c), err, consts.StatusInternalServerError)
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusAccepted, resp)
	})

	api.POST("/upload", func(c context.Context, ctx *app.RequestContext) {
		fileHeader, err := ctx.FormFile("file")
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "缺少file表单字段"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "读取上传文件失败"})
			return
		}
		defer file.Close()

		resp, err := hd.HandleUpload(c, file, fileHeader.Size)
		if err != nil {
			tracing.RecordHTTPError(trace.SpanFromContext(c), err, consts.StatusInternalServerError)
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusCreated, resp)
	})

	api.POST("/jobs", func(c context.Context, ctx *app.RequestContext) {
		var req handler.CreateJobRequest
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
			return
		}

		resp, err := hd.HandleCreateJob(c, req)
		if err != nil {
			tracing.RecordHTTPError(trace.SpanFromContext(c), err, consts.StatusInternalServerError)
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusCreated, resp)
	})

	api.GET("/document/:jobId", func(c context.Context, ctx *app.RequestContext) {
		resp, err := hd.HandleGetDocument(c, ctx.Param("jobId"))
		respond(c, ctx, resp, err)
	})

	api.GET("/progress/:jobId", func(c context.Context, ctx *app.RequestContext) {
		resp, err := hd.HandleProgressByJob(c, ctx.Param("jobId"))
		respond(c, ctx, resp, err)
	})

	api.GET("/progress/subject/:subjectId", func(c context.Context, ctx *app.RequestContext) {
		resp, err := hd.HandleProgressBySubject(c, ctx.Param("subjectId"))
		respond(c, ctx, resp, err)
	})

	api.GET("/score/:subjectId/:jobId", func(c context.Context, ctx *app.RequestContext) {
		resp, err := hd.HandleScore(c, ctx.Param("subjectId"), ctx.Param("jobId"))
		respond(c, ctx, resp, err)
	})

	api.GET("/recommendations/:subjectId", func(c context.Context, ctx *app.RequestContext) {
		resp, err := hd.HandleRecommendations(c, ctx.Param("subjectId"))
		respond(c, ctx, resp, err)
	})
}

func respond(c context.Context, ctx *app.RequestContext, resp interface{}, err error) {
	if errors.Is(err, handler.ErrNotFound) {
		ctx.JSON(consts.StatusNotFound, utils.H{"error": "资源不存在"})
		return
	}
	if err != nil {
		tracing.RecordHTTPError(trace.SpanFromContext(c), err, consts.StatusInternalServerError)
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusOK, resp)
}
