package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/namesync/internal/service"
	"github.com/d60-Lab/namesync/pkg/response"
)

type userChangedRequest struct {
	Before *service.UserSnapshot `json:"before"`
	After  *service.UserSnapshot `json:"after"`
}

// runQuery 维护任务的公共查询参数；dry_run 取值非法时返回 400
type runQuery struct {
	DryRun bool `form:"dry_run"`
}

// UserChanged 用户文档变更回调（reactive 路径）；after 缺省表示用户已删除，不做处理
// @Summary 用户资料变更后同步帖子中的昵称
// @Tags 同步
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param user_id path string true "用户ID"
// @Param request body userChangedRequest true "变更前后快照"
// @Success 200 {object} service.Result
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/hooks/users/{user_id} [post]
func (h *Handler) UserChanged(c *gin.Context) {
	var req userChangedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.syncer.HandleUserUpdate(c.Request.Context(), c.Param("user_id"), req.Before, req.After)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Backfill 全量回填冗余昵称
// @Summary 全量回填帖子中的昵称（dry_run=true 时仅估算）
// @Tags 同步
// @Produce json
// @Security BearerAuth
// @Param dry_run query bool false "只估算不写入" default(false)
// @Success 200 {object} response.Response{data=service.RunReport}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/admin/backfill [post]
func (h *Handler) Backfill(c *gin.Context) {
	var q runQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	dryRun := q.DryRun
	var (
		report *service.RunReport
		err    error
	)
	if dryRun {
		report, err = h.syncer.DryRun(c.Request.Context())
	} else {
		report, err = h.syncer.Backfill(c.Request.Context())
	}
	if errors.Is(err, service.ErrBackfillIncomplete) {
		response.InternalErrorWithData(c, err, report)
		return
	}
	if err != nil {
		response.InternalError(c, err)
		return
	}
	msg := fmt.Sprintf("backfill complete: %d users, %d posts updated in %d batches", report.Users, report.Updated, report.Batches)
	if dryRun {
		msg = fmt.Sprintf("dry run: %d of %d posts need update (%d batches, estimated cost $%.6f)",
			report.NeedsUpdate, report.Scanned, report.Batches, report.EstimatedCost)
	}
	response.Success(c, msg, report)
}

// ReconcileStats 用户计数对账
// @Summary 重新计数并修正 users.stats
// @Tags 同步
// @Produce json
// @Security BearerAuth
// @Param dry_run query bool false "只估算不写入" default(false)
// @Success 200 {object} response.Response{data=service.StatsReport}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/admin/stats [post]
func (h *Handler) ReconcileStats(c *gin.Context) {
	var q runQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	dryRun := q.DryRun
	report, err := h.syncer.ReconcileStats(c.Request.Context(), dryRun)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	msg := fmt.Sprintf("stats reconciled: %d of %d users corrected", report.Updated, report.Users)
	if dryRun {
		msg = fmt.Sprintf("dry run: %d of %d users have stale stats", report.Mismatched, report.Users)
	}
	response.Success(c, msg, report)
}
