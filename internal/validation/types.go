package validation

// CartItem is a single line item on a mutation signal.
type CartItem struct {
	SKU      string  `json:"sku" validate:"required"`            // stock keeping unit
	Name     string  `json:"name,omitempty"`                     // display name, optional
	Quantity int     `json:"quantity" validate:"required,min=1"` // must be >= 1
	Price    float64 `json:"price" validate:"required,gt=0"`     // price per unit
}

// TrackCartRequest is the payload for POST /track/cart. An empty item list is
// legal: it signals the cart was cleared.
type TrackCartRequest struct {
	UserID    string     `json:"user_id,omitempty"` // authenticated user, wins over session
	SessionID string     `json:"session_id,omitempty"`
	Email     string     `json:"email,omitempty" validate:"omitempty,email"`
	Items     []CartItem `json:"items" validate:"dive"`
	Total     float64    `json:"total" validate:"gte=0"` // total amount client claims
	Currency  string     `json:"currency" validate:"required,len=3"`
}

// TrackCheckoutRequest is the payload for POST /track/checkout.
type TrackCheckoutRequest struct {
	UserID    string     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Email     string     `json:"email,omitempty" validate:"omitempty,email"`
	Items     []CartItem `json:"items" validate:"required,min=1,dive"`
	Total     float64    `json:"total" validate:"required,gt=0"`
	Currency  string     `json:"currency" validate:"required,len=3"`
}

// TrackOrderRequest is the payload for POST /track/order, fired when a cart
// converts to an order.
type TrackOrderRequest struct {
	OrderID   string     `json:"order_id" validate:"required"`
	UserID    string     `json:"user_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Items     []CartItem `json:"items" validate:"required,min=1,dive"`
	Total     float64    `json:"total" validate:"required,gt=0"`
	Currency  string     `json:"currency" validate:"required,len=3"`
}
