package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aiwuxian/recall-knowledge/internal/models"
	"github.com/aiwuxian/recall-knowledge/internal/services"
)

// Directory 宿主数据的读写
type Directory interface {
	services.ActorDirectory
	services.UserDirectory
	SaveActor(ctx context.Context, actor *models.Actor) error
	SaveUser(ctx context.Context, user *models.User) error
	SetParty(ctx context.Context, actorIDs []string) error
}

type Handler struct {
	recall   *services.RecallKnowledgeService
	dir      Directory
	events   *services.EventBus
	manager  *ConnectionManager
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

func NewHandler(recall *services.RecallKnowledgeService, dir Directory, events *services.EventBus,
	manager *ConnectionManager, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	h := &Handler{
		recall:   recall,
		dir:      dir,
		events:   events,
		manager:  manager,
		gatherer: gatherer,
		logger:   logger.Named("Handler"),
	}
	manager.Handle(models.MsgGMApprovalResponse, h.onApprovalResponse)
	return h
}

// Routes 注册路由
func (h *Handler) Routes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/ws", h.ServeWS)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	apiGroup := r.Group("/api")
	{
		// 宿主数据
		apiGroup.PUT("/actors/:id", h.SaveActor)
		apiGroup.GET("/actors/:id", h.GetActor)
		apiGroup.GET("/actors", h.ListActors)
		apiGroup.PUT("/users/:id", h.SaveUser)
		apiGroup.PUT("/party", h.SetParty)

		// 回忆知识
		apiGroup.POST("/recall", h.Recall)
		apiGroup.GET("/recall/known", h.KnownFacts)

		// GM批准
		apiGroup.GET("/approvals", h.ListApprovals)
		apiGroup.POST("/approvals/:id", h.AnswerApproval)

		// 用户设置
		apiGroup.GET("/users/:id/bonus-skill", h.GetBonusSkill)
		apiGroup.PUT("/users/:id/bonus-skill", h.SetBonusSkill)
		apiGroup.GET("/users/:id/actors/:actorId/thorough-reports", h.GetThoroughReports)
		apiGroup.PUT("/users/:id/actors/:actorId/thorough-reports", h.SetThoroughReports)
		apiGroup.GET("/creature-types", h.CreatureTypes)

		// 宿主事件
		apiGroup.POST("/events/:event", h.PublishEvent)
	}
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ServeWS WebSocket入口
func (h *Handler) ServeWS(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "需要user_id参数"})
		return
	}
	h.manager.ServeWS(c.Writer, c.Request, userID)
}

// SaveActor 新建或更新角色/生物
func (h *Handler) SaveActor(c *gin.Context) {
	var actor models.Actor
	if err := c.ShouldBindJSON(&actor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	actor.ID = c.Param("id")
	if actor.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "需要name字段"})
		return
	}

	if err := h.dir.SaveActor(c.Request.Context(), &actor); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, actor)
}

// GetActor 获取角色/生物
func (h *Handler) GetActor(c *gin.Context) {
	actor, err := h.dir.Actor(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if actor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "角色不存在"})
		return
	}
	c.JSON(http.StatusOK, actor)
}

// ListActors 列出角色/生物
func (h *Handler) ListActors(c *gin.Context) {
	actors, err := h.dir.Actors(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actors": actors})
}

// SaveUser 新建或更新用户
func (h *Handler) SaveUser(c *gin.Context) {
	var user models.User
	if err := c.ShouldBindJSON(&user); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	user.ID = c.Param("id")
	if user.Name == "" {
		user.Name = user.ID
	}

	if err := h.dir.SaveUser(c.Request.Context(), &user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, user)
}

// SetParty 设置队伍成员
func (h *Handler) SetParty(c *gin.Context) {
	var req struct {
		ActorIDs []string `json:"actor_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	if err := h.dir.SetParty(c.Request.Context(), req.ActorIDs); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor_ids": req.ActorIDs})
}

// Recall 发起回忆知识；对话框通过WebSocket完成，请求在流程结束后返回
func (h *Handler) Recall(c *gin.Context) {
	var req services.RecallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	outcome, err := h.recall.Initiate(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// KnownFacts 查看已知信息
func (h *Handler) KnownFacts(c *gin.Context) {
	view, err := h.recall.KnownFacts(c.Request.Context(), c.Query("user_id"), c.Query("actor_id"), c.Query("target_id"))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListApprovals 等待中的批准请求
func (h *Handler) ListApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"requests": h.recall.PendingApprovals()})
}

// AnswerApproval GM答复批准请求
func (h *Handler) AnswerApproval(c *gin.Context) {
	var resp models.ApprovalResponse
	if err := c.ShouldBindJSON(&resp); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	resp.RequestID = c.Param("id")

	if err := h.recall.HandleApprovalResponse(c.Request.Context(), resp); err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": resp.RequestID, "approved": resp.Approved})
}

// GetBonusSkill 兽典学者技能
func (h *Handler) GetBonusSkill(c *gin.Context) {
	skill, err := h.recall.BonusSkill(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bonus_skill": skill, "choices": services.BestiaryScholarChoices})
}

// SetBonusSkill 设定兽典学者技能
func (h *Handler) SetBonusSkill(c *gin.Context) {
	var req struct {
		BonusSkill string `json:"bonus_skill"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	if err := h.recall.SetBonusSkill(c.Request.Context(), c.Param("id"), req.BonusSkill); err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bonus_skill": req.BonusSkill})
}

// GetThoroughReports 详尽报告追踪的生物类型
func (h *Handler) GetThoroughReports(c *gin.Context) {
	types, err := h.recall.TrackedTypes(c.Request.Context(), c.Param("id"), c.Param("actorId"))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"types": nonNil(types)})
}

// SetThoroughReports 替换追踪的生物类型
func (h *Handler) SetThoroughReports(c *gin.Context) {
	var req struct {
		Types []string `json:"types"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}

	types, err := h.recall.SetTrackedTypes(c.Request.Context(), c.Param("id"), c.Param("actorId"), req.Types)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"types": nonNil(types)})
}

// CreatureTypes 可追踪的生物类型
func (h *Handler) CreatureTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": services.CreatureTypes()})
}

// PublishEvent 宿主事件（ready、roundStart）
func (h *Handler) PublishEvent(c *gin.Context) {
	event := c.Param("event")
	if event != services.EventReady && event != services.EventRoundStart {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知事件"})
		return
	}
	if err := h.events.Publish(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": event})
}

func (h *Handler) onApprovalResponse(ctx context.Context, userID string, msg models.Message) {
	var resp models.ApprovalResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		h.logger.Warn("无法解析的批准回复", zap.Error(err), zap.String("userID", userID))
		return
	}
	resp.GMID = userID
	if resp.RequestID == "" {
		resp.RequestID = msg.RequestID
	}
	if err := h.recall.HandleApprovalResponse(ctx, resp); err != nil {
		h.logger.Warn("批准回复被拒绝", zap.Error(err), zap.String("userID", userID))
	}
}

func (h *Handler) respondError(c *gin.Context, err error, outcome *services.RecallOutcome) {
	body := gin.H{"error": services.UserMessage(err), "code": services.CodeOf(err)}
	if outcome != nil {
		body["outcome"] = outcome
	}
	status := statusOf(services.CodeOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("请求失败", zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(status, body)
}

func statusOf(code services.Code) int {
	switch code {
	case services.CodeUserInputMissing, services.CodeInvalidSelection:
		return http.StatusBadRequest
	case services.CodeApprovalDenied:
		return http.StatusForbidden
	case services.CodeNotFound:
		return http.StatusNotFound
	case services.CodeConcurrentInvocation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
