package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shoplytics/cartsync/internal/activity"
	"github.com/shoplytics/cartsync/internal/backfill"
	"github.com/shoplytics/cartsync/internal/debounce"
	"github.com/shoplytics/cartsync/internal/events"
	"github.com/shoplytics/cartsync/internal/submit"
	"github.com/shoplytics/cartsync/internal/token"
	"github.com/shoplytics/cartsync/internal/validation"
)

// HandlerConfig groups dependencies for the tracking and sync routes.
type HandlerConfig struct {
	Coalescer *debounce.Coalescer
	Activity  *activity.Store
	Submitter *submit.Submitter
	Engine    *backfill.Engine
	Tokens    *token.Codec
}

// RegisterRoutes registers the tracking, recovery and sync-status routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()

	r.POST("/track/cart", func(c *gin.Context) {
		ctx := c.Request.Context()
		var req validation.TrackCartRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		identity, err := cfg.Coalescer.Touch(ctx, req.UserID, req.SessionID, req.Email, toSnapshot(req.Items, req.Total, req.Currency))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "touch_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"identity": identity})
	})

	r.POST("/track/checkout", func(c *gin.Context) {
		ctx := c.Request.Context()
		var req validation.TrackCheckoutRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		identity := activity.ResolveIdentity(req.UserID, req.SessionID)
		snap := toSnapshot(req.Items, req.Total, req.Currency)

		// checkout is a live signal, not debounced: the funnel step matters
		// even if the cart converts seconds later
		if _, err := cfg.Activity.Evaluate(ctx, identity, req.UserID, req.SessionID, req.Email, snap); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "record_update_failed", "detail": err.Error()})
			return
		}
		payload := events.NewPayload(events.TypeCheckoutStarted, identity, req.UserID, req.SessionID, snap, time.Now())
		if err := cfg.Submitter.SubmitEvent(ctx, payload); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "event_submission_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"identity": identity})
	})

	r.POST("/track/order", func(c *gin.Context) {
		ctx := c.Request.Context()
		var req validation.TrackOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		identity := activity.ResolveIdentity(req.UserID, req.SessionID)
		snap := toSnapshot(req.Items, req.Total, req.Currency)

		payload := events.NewPayload(events.TypeOrderCompleted, identity, req.UserID, req.SessionID, snap, time.Now())
		if err := cfg.Submitter.SubmitEvent(ctx, payload); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "event_submission_failed", "detail": err.Error()})
			return
		}
		// the cart converted: drop the activity record and its markers
		if err := cfg.Activity.Remove(ctx, identity); err != nil {
			log.Printf("[handlers] remove record for %s after order %s: %v", identity, req.OrderID, err)
		}
		c.JSON(http.StatusAccepted, gin.H{"identity": identity, "order_id": req.OrderID})
	})

	r.GET("/recover", func(c *gin.Context) {
		ctx := c.Request.Context()
		identity, err := cfg.Tokens.Validate(c.Query("token"))
		if err != nil {
			if errors.Is(err, token.ErrInvalid) {
				c.JSON(http.StatusGone, gin.H{"error": "invalid_or_expired_token"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token_validation_failed"})
			return
		}

		rec, err := cfg.Activity.Get(ctx, identity)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "record_lookup_failed", "detail": err.Error()})
			return
		}

		now := time.Now()
		snap := events.Snapshot{}
		userID, sessionID := "", ""
		if rec != nil {
			snap = rec.Snapshot
			userID, sessionID = rec.UserID, rec.SessionID
		}
		clicked := events.NewPayload(events.TypeCartRecoveryClicked, identity, userID, sessionID, snap, now)
		if err := cfg.Submitter.SubmitEvent(ctx, clicked); err != nil {
			log.Printf("[handlers] recovery click event for %s lost: %v", identity, err)
		}

		if rec == nil {
			// token is fine but the cart is gone (emptied or converted)
			c.JSON(http.StatusNotFound, gin.H{"error": "cart_no_longer_exists"})
			return
		}

		restored := events.NewPayload(events.TypeCartRestored, identity, userID, sessionID, snap, now)
		if err := cfg.Submitter.SubmitEvent(ctx, restored); err != nil {
			log.Printf("[handlers] restore event for %s lost: %v", identity, err)
		}
		c.JSON(http.StatusOK, gin.H{"identity": identity, "cart": rec.Snapshot})
	})

	r.GET("/sync/status", func(c *gin.Context) {
		ctx := c.Request.Context()
		// failsafe: the status poll doubles as the stall detector
		if err := cfg.Engine.CheckStale(ctx); err != nil {
			log.Printf("[handlers] stale check: %v", err)
		}
		p, err := cfg.Engine.Status(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status_unavailable", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	r.POST("/sync/start", func(c *gin.Context) {
		if err := cfg.Engine.Start(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "start_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": backfill.StatusStarting})
	})

	r.POST("/sync/reset", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := cfg.Engine.Reset(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reset_failed", "detail": err.Error()})
			return
		}
		// a reset immediately reinitializes from a fresh count
		if err := cfg.Engine.Start(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "restart_failed", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": backfill.StatusStarting})
	})
}

func toSnapshot(items []validation.CartItem, total float64, currency string) events.Snapshot {
	out := make([]events.Item, 0, len(items))
	count := 0
	for _, it := range items {
		out = append(out, events.Item{SKU: it.SKU, Name: it.Name, Quantity: it.Quantity, Price: it.Price})
		count += it.Quantity
	}
	return events.Snapshot{Items: out, Total: total, Currency: currency, ItemCount: count}
}
