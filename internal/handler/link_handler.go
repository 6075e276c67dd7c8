// internal/handler/link_handler.go
package handler

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"comlink-service/internal/model"
	"comlink-service/internal/protocol"
	"comlink-service/internal/repository"
	"comlink-service/internal/service"
	"comlink-service/internal/utils"
)

// LinkController is the part of the link service used by the HTTP layer
type LinkController interface {
	AutoConnect(ctx context.Context, filter model.PortFilter) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, data []byte) (bool, error)
	Configure(ctx context.Context, mode protocol.Mode) error
	Status(ctx context.Context) (service.Status, error)
	IsConnected() bool
	ListPorts(ctx context.Context) ([]model.PortDescriptor, error)
}

// LinkHandler handles connection manager requests
type LinkHandler struct {
	link   LinkController
	events repository.EventRepository
	logger *utils.ServiceLogger
}

// NewLinkHandler creates a new link handler
func NewLinkHandler(link LinkController, events repository.EventRepository, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{
		link:   link,
		events: events,
		logger: utils.NewServiceLogger(logger, "link-handler"),
	}
}

// RegisterRoutes registers link, port and event history routes
func (h *LinkHandler) RegisterRoutes(router *gin.RouterGroup) {
	link := router.Group("/link")
	{
		link.GET("", h.GetStatus)
		link.POST("/connect", h.Connect)
		link.POST("/disconnect", h.Disconnect)
		link.POST("/send", h.Send)
		link.PUT("/config", h.UpdateConfig)
	}

	router.GET("/ports", h.ListPorts)
	router.GET("/events", h.ListEvents)
	router.GET("/events/summary", h.SummarizeEvents)
	router.GET("/events/:id", h.GetEvent)
}

// ConnectRequest selects the device to look for
type ConnectRequest struct {
	VID string `json:"vid,omitempty" example:"0x2341"`
	PID string `json:"pid,omitempty" example:"0x0043"`
}

// SendRequest carries outbound payload bytes
type SendRequest struct {
	Data     string `json:"data" binding:"required"`
	Encoding string `json:"encoding,omitempty" example:"text" enums:"text,hex,base64"`
}

// ConfigRequest holds the mode fields to change
type ConfigRequest struct {
	BaudRate    *int    `json:"baud_rate,omitempty" example:"115200"`
	DataBits    *int    `json:"data_bits,omitempty" example:"8"`
	Parity      *string `json:"parity,omitempty" example:"none"`
	StopBits    *string `json:"stop_bits,omitempty" example:"1"`
	FlowControl *string `json:"flow_control,omitempty" example:"none"`
}

// GetStatus returns the connection state
// @Summary Get link status
// @Description Get the connection state, active port, filter and serial mode
// @Tags Link
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.Status} "Link status retrieved"
// @Failure 503 {object} utils.APIResponse "Link unavailable"
// @Router /link [get]
func (h *LinkHandler) GetStatus(c *gin.Context) {
	status, err := h.link.Status(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to get link status", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Link status retrieved", status)
}

// Connect starts an auto-connect cycle
// @Summary Start auto-connect
// @Description Snapshot the present ports and try each one matching the VID/PID filter until a device identifies
// @Tags Link
// @Accept json
// @Produce json
// @Param request body ConnectRequest false "Port filter"
// @Success 202 {object} utils.APIResponse{data=service.Status} "Auto-connect started"
// @Failure 400 {object} utils.APIResponse "Invalid filter"
// @Failure 409 {object} utils.APIResponse "Link busy"
// @Failure 503 {object} utils.APIResponse "Port enumeration failed"
// @Router /link/connect [post]
func (h *LinkHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	filter, validation := parseFilter(req)
	if len(validation) > 0 {
		utils.ValidationErrorResponse(c, validation)
		return
	}

	if err := h.link.AutoConnect(c.Request.Context(), filter); err != nil {
		h.respondError(c, "Failed to start auto-connect", err)
		return
	}

	status, err := h.link.Status(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to get link status", err)
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Auto-connect started", status)
}

// Disconnect drops the current link
// @Summary Disconnect
// @Description Close the active port and continue with the remaining candidates
// @Tags Link
// @Produce json
// @Success 200 {object} utils.APIResponse "Link disconnected"
// @Failure 503 {object} utils.APIResponse "Link unavailable"
// @Router /link/disconnect [post]
func (h *LinkHandler) Disconnect(c *gin.Context) {
	if err := h.link.Disconnect(c.Request.Context()); err != nil {
		h.respondError(c, "Failed to disconnect", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Link disconnected", nil)
}

// Send writes bytes to the connected device
// @Summary Send data
// @Description Write a payload to the identified device. Nothing is written while no device is connected.
// @Tags Link
// @Accept json
// @Produce json
// @Param request body SendRequest true "Payload"
// @Success 200 {object} utils.APIResponse{data=object{sent=bool,bytes=int}} "Send processed"
// @Failure 400 {object} utils.APIResponse "Invalid payload"
// @Failure 502 {object} utils.APIResponse "Write failed"
// @Router /link/send [post]
func (h *LinkHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	data, err := decodePayload(req.Data, req.Encoding)
	if err != nil {
		utils.ValidationErrorResponse(c, map[string]string{"data": err.Error()})
		return
	}

	sent, err := h.link.Send(c.Request.Context(), data)
	if err != nil {
		h.respondError(c, "Failed to send data", err)
		return
	}

	message := "Data sent"
	if !sent {
		message = "No device connected, data discarded"
	}
	utils.SuccessResponse(c, http.StatusOK, message, gin.H{
		"sent":  sent,
		"bytes": len(data),
	})
}

// UpdateConfig changes the serial mode
// @Summary Update serial mode
// @Description Merge the given fields into the current serial mode and apply it to the open port, if any
// @Tags Link
// @Accept json
// @Produce json
// @Param request body ConfigRequest true "Mode fields"
// @Success 200 {object} utils.APIResponse{data=protocol.Mode} "Serial mode updated"
// @Failure 400 {object} utils.APIResponse "Invalid mode"
// @Router /link/config [put]
func (h *LinkHandler) UpdateConfig(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status, err := h.link.Status(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to get link status", err)
		return
	}

	mode := req.apply(status.Mode)
	if err := h.link.Configure(c.Request.Context(), mode); err != nil {
		h.respondError(c, "Failed to update serial mode", err)
		return
	}

	h.logger.Info("Serial mode updated", zap.Stringer("mode", mode))
	utils.SuccessResponse(c, http.StatusOK, "Serial mode updated", mode)
}

// ListPorts lists the serial ports currently present
// @Summary List ports
// @Description Enumerate serial ports with their USB identifiers
// @Tags Ports
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{count=int,ports=[]model.PortDescriptor}} "Ports retrieved"
// @Failure 503 {object} utils.APIResponse "Port enumeration failed"
// @Router /ports [get]
func (h *LinkHandler) ListPorts(c *gin.Context) {
	ports, err := h.link.ListPorts(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports retrieved", gin.H{
		"count": len(ports),
		"ports": ports,
	})
}

// ListEvents returns the recorded event history
// @Summary List events
// @Description List recorded link events, newest first
// @Tags Events
// @Produce json
// @Param type query string false "Event type" Enums(LINK_CONNECTED, LINK_DISCONNECTED, LINK_ERROR, DATA_RECEIVED, PORT_ADDED, PORT_REMOVED)
// @Param port query string false "Port name"
// @Param limit query int false "Maximum number of events" default(100)
// @Success 200 {object} utils.APIResponse{data=object{count=int,events=[]model.LinkEvent}} "Events retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid query"
// @Router /events [get]
func (h *LinkHandler) ListEvents(c *gin.Context) {
	var filter model.EventFilter

	if raw := c.Query("type"); raw != "" {
		eventType := model.EventType(raw)
		if !model.ValidEventType(eventType) {
			utils.ValidationErrorResponse(c, map[string]string{"type": "unknown event type"})
			return
		}
		filter.Type = &eventType
	}
	filter.Port = c.Query("port")

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			utils.ValidationErrorResponse(c, map[string]string{"limit": "must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	events, err := h.events.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list events", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Events retrieved", gin.H{
		"count":  len(events),
		"events": events,
	})
}

// SummarizeEvents counts recorded events per type
// @Summary Event summary
// @Description Count recorded link events per type within a recent window
// @Tags Events
// @Produce json
// @Param window query string false "Look-back window" default(24h)
// @Success 200 {object} utils.APIResponse{data=object{since=string,counts=object}} "Event summary retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid window"
// @Router /events/summary [get]
func (h *LinkHandler) SummarizeEvents(c *gin.Context) {
	window, err := time.ParseDuration(c.DefaultQuery("window", "24h"))
	if err != nil || window <= 0 {
		utils.ValidationErrorResponse(c, map[string]string{"window": "must be a positive duration such as 1h or 30m"})
		return
	}

	since := time.Now().Add(-window)
	counts, err := h.events.CountByType(c.Request.Context(), since)
	if err != nil {
		h.logger.Error("Failed to count events", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to count events", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Event summary retrieved", gin.H{
		"since":  since,
		"counts": counts,
	})
}

// GetEvent returns one recorded event
// @Summary Get event
// @Tags Events
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} utils.APIResponse{data=model.LinkEvent} "Event retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid event ID"
// @Failure 404 {object} utils.APIResponse "Event not found"
// @Router /events/{id} [get]
func (h *LinkHandler) GetEvent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid event ID", err)
		return
	}

	event, err := h.events.GetByID(c.Request.Context(), id)
	if err != nil {
		var notFound *repository.ErrEventNotFound
		if errors.As(err, &notFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Event not found", err)
			return
		}
		h.logger.Error("Failed to get event", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get event", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Event retrieved", event)
}

func (h *LinkHandler) respondError(c *gin.Context, message string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger := utils.LoggerWithRequestID(h.logger.Logger, c.GetString("request_id"))
		utils.LogError(logger, message, err, zap.Int("status", status))
	}
	utils.ErrorResponse(c, status, message, err)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotDisconnected):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrInvalidMode), errors.Is(err, protocol.ErrUnsupportedFlowControl):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTransportIO):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrManagerClosed), errors.Is(err, service.ErrPortEnumeration):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseFilter(req ConnectRequest) (model.PortFilter, map[string]string) {
	var (
		filter     model.PortFilter
		validation = make(map[string]string)
		err        error
	)
	if filter.VendorID, err = model.ParseUSBID(req.VID); err != nil {
		validation["vid"] = err.Error()
	}
	if filter.ProductID, err = model.ParseUSBID(req.PID); err != nil {
		validation["pid"] = err.Error()
	}
	return filter, validation
}

func decodePayload(data, encoding string) ([]byte, error) {
	switch encoding {
	case "", "text":
		return []byte(data), nil
	case "hex":
		return hex.DecodeString(data)
	case "base64":
		return base64.StdEncoding.DecodeString(data)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

func (r ConfigRequest) apply(mode protocol.Mode) protocol.Mode {
	if r.BaudRate != nil {
		mode.BaudRate = *r.BaudRate
	}
	if r.DataBits != nil {
		mode.DataBits = *r.DataBits
	}
	if r.Parity != nil {
		mode.Parity = protocol.Parity(*r.Parity)
	}
	if r.StopBits != nil {
		mode.StopBits = protocol.StopBits(*r.StopBits)
	}
	if r.FlowControl != nil {
		mode.FlowControl = protocol.FlowControl(*r.FlowControl)
	}
	return mode
}
