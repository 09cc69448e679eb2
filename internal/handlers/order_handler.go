package handlers

import (
	"errors"
	"log"

	"warung/internal/models"
	"warung/internal/repositories"
	"warung/internal/services"

	"github.com/gofiber/fiber/v2"
)

// OrderHandler exposes the order projections and actions over HTTP for the
// app shell. All semantics live in the services; this layer only maps
// requests and errors.
type OrderHandler struct {
	service *services.OrderService
	engine  *services.ReconcilerService
	history repositories.HistoryRepository
	role    models.Role
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService, engine *services.ReconcilerService, history repositories.HistoryRepository, role models.Role) *OrderHandler {
	return &OrderHandler{
		service: service,
		engine:  engine,
		history: history,
		role:    role,
	}
}

// RegisterRoutes registers the order routes with the Fiber app.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orders := router.Group("/orders")
	orders.Get("/active", h.HandleActive)
	orders.Get("/needs-confirmation", h.HandleNeedsConfirmation)
	orders.Get("/history", h.HandleHistory)
	orders.Get("/archive", h.HandleArchive)
	orders.Get("/badges", h.HandleBadges)
	orders.Get("/reasons", h.HandleReasons)
	orders.Post("/refresh", h.HandleRefresh)
	orders.Get("/:id", h.HandleGetOrder)
	orders.Get("/:id/actions", h.HandleAvailableActions)
	orders.Post("/:id/confirm", h.action(services.ActionConfirm))
	orders.Post("/:id/prepare", h.action(services.ActionStartPreparing))
	orders.Post("/:id/ready", h.action(services.ActionMarkReady))
	orders.Post("/:id/deliver", h.action(services.ActionMarkDelivered))
	orders.Post("/:id/reject", h.action(services.ActionReject))
	orders.Post("/:id/cancel", h.action(services.ActionCancel))
	orders.Post("/:id/close", h.action(services.ActionClose))
	orders.Post("/:id/acknowledge", h.HandleAcknowledgeTerminal)
	orders.Post("/:id/delivery-received", h.HandleAcknowledgeDelivery)
	orders.Post("/:id/rating/retry", h.HandleRetryRating)
}

// requireRole rejects tokens for the other side of the marketplace; this
// process serves exactly one actor.
func (h *OrderHandler) requireRole(c *fiber.Ctx) error {
	if role, _ := c.Locals("role").(string); role != string(h.role) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"message": "Token role does not match this session",
		})
	}
	return nil
}

// HandleActive returns the role-specific active view.
func (h *OrderHandler) HandleActive(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	return c.JSON(h.service.Views().Active)
}

// HandleNeedsConfirmation returns terminal orders awaiting this actor.
func (h *OrderHandler) HandleNeedsConfirmation(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	return c.JSON(h.service.Views().NeedsConfirmation)
}

// HandleHistory returns the in-memory history view.
func (h *OrderHandler) HandleHistory(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	return c.JSON(h.service.Views().History)
}

// HandleArchive returns the locally persisted history.
func (h *OrderHandler) HandleArchive(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	if h.history == nil {
		return c.JSON([]models.OrderRecord{})
	}
	orders, err := h.history.GetAll()
	if err != nil {
		log.Printf("Error reading local archive: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Could not read local archive",
			"error":   err.Error(),
		})
	}
	return c.JSON(orders)
}

// HandleBadges returns the tab badge counts.
func (h *OrderHandler) HandleBadges(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	active, needs := h.engine.Store().BadgeCounts()
	return c.JSON(fiber.Map{
		"active":             active,
		"needs_confirmation": needs,
	})
}

// HandleRefresh forces a snapshot fetch, the on-focus resynchronization path.
func (h *OrderHandler) HandleRefresh(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	if err := h.engine.Refresh(c.Context()); err != nil {
		log.Printf("On-demand refresh failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"message": "Could not refresh orders from the backend",
			"error":   err.Error(),
		})
	}
	return c.JSON(h.service.Views())
}

// HandleReasons returns the fixed reason sets offered when rejecting or
// cancelling. Free text stays allowed; these are the quick picks.
func (h *OrderHandler) HandleReasons(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"rejection":    services.RejectionReasons,
		"cancellation": services.CancellationReasons,
	})
}

// HandleAvailableActions lists the actions the actor can take on one order.
func (h *OrderHandler) HandleAvailableActions(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	actions, err := h.service.AvailableActions(c.Params("id"))
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(fiber.Map{"actions": actions})
}

// HandleGetOrder returns one order.
func (h *OrderHandler) HandleGetOrder(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	order, err := h.service.Get(c.Params("id"))
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(order)
}

// action builds the handler for one lifecycle action endpoint.
func (h *OrderHandler) action(action services.OrderAction) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := h.requireRole(c); err != nil {
			return err
		}

		var params services.ActionParams
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&params); err != nil {
				log.Printf("Error parsing %s request body: %v", action, err)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"message": "Invalid request body",
					"error":   err.Error(),
				})
			}
		}

		order, err := h.service.Submit(c.Context(), c.Params("id"), action, params)
		if err != nil {
			// The transition may have committed with only the rating left
			// behind; return the record so the shell can re-offer the
			// rating step.
			if order.ID != "" {
				return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
					"message": "Transition recorded, rating submission pending retry",
					"order":   order,
				})
			}
			return h.renderError(c, err)
		}
		return c.JSON(order)
	}
}

// HandleAcknowledgeTerminal confirms a rejection or cancellation.
func (h *OrderHandler) HandleAcknowledgeTerminal(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	order, err := h.service.AcknowledgeTerminal(c.Context(), c.Params("id"))
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(order)
}

// HandleAcknowledgeDelivery records receipt of a delivered order.
func (h *OrderHandler) HandleAcknowledgeDelivery(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	order, err := h.service.AcknowledgeDelivery(c.Context(), c.Params("id"))
	if err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(order)
}

// HandleRetryRating re-submits a rating whose first submission failed.
func (h *OrderHandler) HandleRetryRating(c *fiber.Ctx) error {
	if err := h.requireRole(c); err != nil {
		return err
	}
	if err := h.service.RetryRating(c.Context(), c.Params("id")); err != nil {
		return h.renderError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Rating submitted"})
}

// renderError maps the error taxonomy to HTTP statuses.
func (h *OrderHandler) renderError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Order not found",
		})
	case errors.Is(err, models.ErrIllegalTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": "That action is not allowed for this order",
			"error":   err.Error(),
		})
	case errors.Is(err, models.ErrRatingIncomplete):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "A complete four-criteria rating is required",
			"error":   err.Error(),
		})
	case errors.Is(err, models.ErrActionSubmissionFailed),
		errors.Is(err, models.ErrAcknowledgementFailed):
		log.Printf("Backend submission failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"message": "The backend did not accept the request, please retry",
			"error":   err.Error(),
		})
	default:
		log.Printf("Unexpected error: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Internal error",
			"error":   err.Error(),
		})
	}
}
