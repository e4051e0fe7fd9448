package handlers

import (
	"errors"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	notifyws "github.com/marens-d/CoachDeskBack/internal/websocket"
	"github.com/marens-d/CoachDeskBack/pkg/utils"
)

// NotificationStreamHandler upgrades authenticated clients onto the in-app
// notification hub.
type NotificationStreamHandler struct {
	hub       *notifyws.Hub
	jwtSecret string
}

func NewNotificationStreamHandler(hub *notifyws.Hub, jwtSecret string) *NotificationStreamHandler {
	return &NotificationStreamHandler{hub: hub, jwtSecret: jwtSecret}
}

func (h *NotificationStreamHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *NotificationStreamHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(int64)
	if userID <= 0 {
		_ = conn.Close()
		return
	}

	client := notifyws.NewClient(h.hub, conn, userID)
	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump()
}

func (h *NotificationStreamHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}
