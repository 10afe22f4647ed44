package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"desk_server/server/common/auth"
	commonlog "desk_server/server/common/log"
	"desk_server/server/common/middleware"
	"desk_server/server/common/transport/httpresp"
	"desk_server/server/desk/domain"
	"desk_server/server/desk/service"
)

var errorStatuses = []httpresp.StatusRule{
	{Err: domain.ErrNotFound, Status: http.StatusNotFound},
	{Err: domain.ErrForbidden, Status: http.StatusForbidden},
	{Err: domain.ErrConflict, Status: http.StatusConflict},
	{Err: domain.ErrBadRequest, Status: http.StatusBadRequest},
	{Err: domain.ErrUnavailable, Status: http.StatusServiceUnavailable},
}

type identityParser interface {
	ParseIdentity(token string) (auth.Identity, error)
}

// Gateway is the websocket side of the desk: the route handler plus a
// presence count for health.
type Gateway interface {
	ServeWS(c *gin.Context)
	OnlineCount() int
}

type Handler struct {
	desk   *service.Desk
	ws     Gateway
	tokens identityParser
}

func NewHandler(desk *service.Desk, ws Gateway, tokens identityParser) *Handler {
	return &Handler{desk: desk, ws: ws, tokens: tokens}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/ws", h.ws.ServeWS)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.tokens), middleware.RequireCompany(), h.requireMember)
	{
		api.POST("/tickets", h.createTicket)
		api.GET("/tickets", h.listTickets)
		api.GET("/tickets/:id", h.getTicket)
		api.POST("/tickets/:id/claim", h.claimTicket)
		api.POST("/tickets/:id/transfer", h.transferTicket)
		api.POST("/tickets/:id/close", h.closeTicket)
		api.POST("/tickets/:id/escalate", h.escalateTicket)
		api.POST("/tickets/:id/bot", h.botMessage)
		api.POST("/tickets/:id/messages", h.sendMessage)
		api.GET("/tickets/:id/messages", h.listMessages)
		api.POST("/tickets/:id/messages/read", h.bulkMarkRead)
		api.POST("/tickets/:id/messages/:messageId/read", h.markRead)
		api.PATCH("/tickets/:id/messages/:messageId", h.editMessage)
		api.GET("/tickets/:id/messages/:messageId/media", h.messageMedia)
		api.POST("/inbound", h.inbound)
	}
}

func (h *Handler) health(c *gin.Context) {
	if err := h.desk.Ping(c.Request.Context()); err != nil {
		commonlog.Warnf("event=desk_health status=failed err=%v", err)
		c.JSON(http.StatusServiceUnavailable, NewHealthResponse("unavailable", h.ws.OnlineCount()))
		return
	}
	c.JSON(http.StatusOK, NewHealthResponse("ok", h.ws.OnlineCount()))
}

func (h *Handler) requireMember(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	if err := h.desk.AuthorizeMember(c.Request.Context(), id.CompanyID, id.UserID); err != nil {
		h.abort(c, err)
		return
	}
	c.Next()
}

func (h *Handler) createTicket(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	var req struct {
		ClientID     int64  `json:"client_id" binding:"required"`
		DepartmentID *int64 `json:"department_id"`
		StartActive  bool   `json:"start_active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	in := service.CreateTicketInput{
		TenantID:     id.CompanyID,
		ClientID:     req.ClientID,
		DepartmentID: req.DepartmentID,
		StartActive:  req.StartActive,
	}
	if req.StartActive {
		in.ActingUserID = &id.UserID
	}
	t, err := h.desk.CreateTicket(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewTicketResponse(t))
}

func (h *Handler) listTickets(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	departmentID, ok := optionalInt64Query(c, "department_id")
	if !ok {
		return
	}
	limit, ok := limitQuery(c)
	if !ok {
		return
	}
	in := service.ListTicketsInput{
		TenantID:     id.CompanyID,
		Status:       strings.ToUpper(strings.TrimSpace(c.Query("status"))),
		DepartmentID: departmentID,
		Limit:        limit,
	}
	if c.Query("mine") == "true" {
		in.AttendantID = &id.UserID
	}
	items, err := h.desk.ListTickets(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewListResponse(NewTicketResponses(items)))
}

func (h *Handler) getTicket(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	t, err := h.desk.GetTicket(c.Request.Context(), id.CompanyID, ticketID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTicketResponse(t))
}

func (h *Handler) claimTicket(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	t, err := h.desk.Claim(c.Request.Context(), id.CompanyID, ticketID, id.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTicketResponse(t))
}

func (h *Handler) transferTicket(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req struct {
		DepartmentID *int64 `json:"department_id"`
		AttendantID  *int64 `json:"attendant_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	t, err := h.desk.Transfer(c.Request.Context(), service.TransferInput{
		TenantID:        id.CompanyID,
		TicketID:        ticketID,
		ByUserID:        id.UserID,
		NewDepartmentID: req.DepartmentID,
		NewAttendantID:  req.AttendantID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTicketResponse(t))
}

func (h *Handler) closeTicket(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	t, err := h.desk.Close(c.Request.Context(), id.CompanyID, ticketID, id.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTicketResponse(t))
}

func (h *Handler) escalateTicket(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req struct {
		DepartmentID int64 `json:"department_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	t, err := h.desk.EscalateToHuman(c.Request.Context(), id.CompanyID, ticketID, req.DepartmentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewTicketResponse(t))
}

type messageRequest struct {
	Content   *string `json:"content"`
	MediaType *string `json:"media_type"`
	MediaRef  *string `json:"media_ref"`
	ReplyToID *int64  `json:"reply_to_id"`
}

func (r messageRequest) mediaType() (*domain.MediaType, error) {
	return parseMediaType(r.MediaType)
}

func (h *Handler) sendMessage(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	media, err := req.mediaType()
	if err != nil {
		h.fail(c, err)
		return
	}
	m, err := h.desk.SendMessage(c.Request.Context(), service.SendMessageInput{
		TenantID:  id.CompanyID,
		TicketID:  ticketID,
		UserID:    id.UserID,
		Content:   req.Content,
		MediaType: media,
		MediaRef:  req.MediaRef,
		ReplyToID: req.ReplyToID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewMessageResponse(m))
}

func (h *Handler) botMessage(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	media, err := req.mediaType()
	if err != nil {
		h.fail(c, err)
		return
	}
	m, err := h.desk.BotReply(c.Request.Context(), service.BotReplyInput{
		TenantID:  id.CompanyID,
		TicketID:  ticketID,
		Content:   req.Content,
		MediaType: media,
		MediaRef:  req.MediaRef,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, NewMessageResponse(m))
}

func (h *Handler) inbound(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	var req struct {
		ClientID   int64   `json:"client_id" binding:"required"`
		Content    *string `json:"content"`
		MediaType  *string `json:"media_type"`
		MediaRef   *string `json:"media_ref"`
		ExternalID string  `json:"external_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	media, err := parseMediaType(req.MediaType)
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.desk.InboundFromClient(c.Request.Context(), service.InboundInput{
		TenantID:   id.CompanyID,
		ClientID:   req.ClientID,
		Content:    req.Content,
		MediaType:  media,
		MediaRef:   req.MediaRef,
		ExternalID: req.ExternalID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, NewInboundResponse(res))
}

func (h *Handler) listMessages(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	cursor, ok := optionalInt64Query(c, "cursor")
	if !ok {
		return
	}
	limit, ok := limitQuery(c)
	if !ok {
		return
	}
	items, err := h.desk.ListMessages(c.Request.Context(), id.CompanyID, ticketID, limit, cursor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewListResponse(NewMessageResponses(items)))
}

func (h *Handler) bulkMarkRead(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req struct {
		OlderThanID *int64 `json:"older_than_id"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
			return
		}
	}
	n, err := h.desk.BulkMarkRead(c.Request.Context(), id.CompanyID, ticketID, req.OlderThanID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, BulkReadResponse{Atualizadas: n})
}

func (h *Handler) markRead(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	messageID, ok := int64Param(c, "messageId")
	if !ok {
		return
	}
	m, err := h.desk.MarkRead(c.Request.Context(), id.CompanyID, ticketID, messageID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewMessageResponse(m))
}

func (h *Handler) editMessage(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	messageID, ok := int64Param(c, "messageId")
	if !ok {
		return
	}
	var req struct {
		Content   *string `json:"content"`
		MediaType *string `json:"media_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	media, err := parseMediaType(req.MediaType)
	if err != nil {
		h.fail(c, err)
		return
	}
	m, err := h.desk.EditMessage(c.Request.Context(), service.EditMessageInput{
		TenantID:     id.CompanyID,
		TicketID:     ticketID,
		MessageID:    messageID,
		NewContent:   req.Content,
		NewMediaType: media,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, NewMessageResponse(m))
}

func (h *Handler) messageMedia(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	ticketID, ok := int64Param(c, "id")
	if !ok {
		return
	}
	messageID, ok := int64Param(c, "messageId")
	if !ok {
		return
	}
	link, err := h.desk.GetMessageMedia(c.Request.Context(), id.CompanyID, ticketID, messageID)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := MediaResponse{URL: link.URL}
	if !link.ExpiresAt.IsZero() {
		resp.ExpiraEm = &link.ExpiresAt
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := httpresp.StatusFor(err, errorStatuses...)
	if status == http.StatusInternalServerError {
		commonlog.Errorf("event=desk_http status=failed method=%s path=%s err=%v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, NewErrorResponse(httpresp.ErrInternal))
		return
	}
	c.JSON(status, NewErrorResponse(err.Error()))
}

func (h *Handler) abort(c *gin.Context, err error) {
	h.fail(c, err)
	c.Abort()
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid "+name))
		return 0, false
	}
	return v, true
}

func limitQuery(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid limit"))
		return 0, false
	}
	return v, true
}

func optionalInt64Query(c *gin.Context, name string) (*int64, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("invalid "+name))
		return nil, false
	}
	return &v, true
}

func parseMediaType(raw *string) (*domain.MediaType, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	m, ok := domain.ParseMediaType(strings.ToUpper(strings.TrimSpace(*raw)))
	if !ok {
		return nil, domain.BadRequestf("unknown media type %q", *raw)
	}
	return &m, nil
}
