package domain

import "context"

// Product is a catalog product as returned by the platform API
type Product struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	Price     string `json:"price"`
	CustomURL string `json:"custom_url"`
}

// Order is a customer order
type Order struct {
	ID          int64  `json:"id"`
	CustomerID  int64  `json:"customer_id"`
	Status      string `json:"status"`
	DateCreated string `json:"date_created"`
}

// OrderProduct is one line item of an order
type OrderProduct struct {
	ID        int64  `json:"id"`
	OrderID   int64  `json:"order_id"`
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

// PlatformAPI is the narrow slice of the commerce platform REST API the app uses
type PlatformAPI interface {
	Time(ctx context.Context) (map[string]any, error)
	Products(ctx context.Context) ([]Product, error)
	Orders(ctx context.Context, customerID string) ([]Order, error)
	OrderProducts(ctx context.Context, orderID int64) ([]OrderProduct, error)
	Product(ctx context.Context, id int64) (*Product, error)
}

// PlatformAPIFactory builds an API client authenticated as the given store
type PlatformAPIFactory interface {
	ForStore(store *Store) PlatformAPI
}

// AccessGrant is the result of exchanging an authorization code
type AccessGrant struct {
	AccessToken string
	Scope       string
	Context     string // "stores/{store_hash}"
	User        GrantUser
}

// GrantUser identifies the user who authorized the grant
type GrantUser struct {
	ID       int64
	Username string
	Email    string
}

// TokenExchanger exchanges a one-time authorization code for an access grant
type TokenExchanger interface {
	Exchange(ctx context.Context, code, storeContext, scope string) (*AccessGrant, error)
}

// AuthResult is the outcome of the OAuth install flow handed to the lifecycle
type AuthResult struct {
	Email   string
	Context string
	Scopes  string
	Token   string
}
