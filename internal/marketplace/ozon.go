package marketplace

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/marketsync/stock-reconciler/internal/credentials"
	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/retry"
	"go.uber.org/zap"
)

const ozonName = "OZON"

// OzonConfig configures the Ozon seller API client.
type OzonConfig struct {
	BaseURL   string
	CompanyID string
	Timeout   time.Duration
	// Warehouses maps internal warehouse ids to Ozon warehouse ids.
	Warehouses map[string]string
}

// OzonClient implements Adapter against the Ozon seller API.
type OzonClient struct {
	rest   *resty.Client
	cfg    OzonConfig
	creds  credentials.Store
	policy *retry.Policy
	log    *zap.Logger
}

// NewOzonClient creates an OzonClient. The policy is only consulted to
// classify logical errors embedded in 200 responses.
func NewOzonClient(cfg OzonConfig, creds credentials.Store, policy *retry.Policy, log *zap.Logger) *OzonClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	return &OzonClient{rest: rest, cfg: cfg, creds: creds, policy: policy, log: log}
}

// Marketplace returns "OZON".
func (c *OzonClient) Marketplace() string { return ozonName }

// ResolveWarehouse translates an internal warehouse id to the Ozon one.
func (c *OzonClient) ResolveWarehouse(internalID string) (string, error) {
	ext, ok := c.cfg.Warehouses[internalID]
	if !ok {
		return "", ErrUnmappedWarehouse(ozonName, internalID)
	}
	return ext, nil
}

func (c *OzonClient) request(ctx context.Context) (*resty.Request, error) {
	cr, err := c.creds.FindValid(ctx, c.cfg.CompanyID, ozonName)
	if err != nil {
		return nil, fmt.Errorf("ozon credentials unavailable: %w", err)
	}
	return c.rest.R().
		SetContext(ctx).
		SetHeader("Client-Id", cr.ClientID).
		SetHeader("Api-Key", cr.Secret), nil
}

type ozonErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ozonAPIError(resp *resty.Response) error {
	var body ozonErrorBody
	_ = jsonUnmarshal(resp.Body(), &body)
	code := body.Code
	if code == "" {
		code = httpFallbackCode(resp.StatusCode())
	}
	return &retry.APIError{Code: code, Message: body.Message, HTTPStatus: resp.StatusCode()}
}

type ozonStockItem struct {
	OfferID     string `json:"offer_id"`
	Stock       int64  `json:"stock"`
	WarehouseID int64  `json:"warehouse_id"`
}

type ozonStockResult struct {
	Result []struct {
		OfferID string `json:"offer_id"`
		Updated bool   `json:"updated"`
		Errors  []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"result"`
}

// PushStock sets an offer's stock at an Ozon warehouse.
func (c *OzonClient) PushStock(ctx context.Context, offerID string, quantity int64, externalWarehouseID string) error {
	whID, err := strconv.ParseInt(externalWarehouseID, 10, 64)
	if err != nil {
		return &retry.APIError{Code: "INVALID_ARGUMENT",
			Message: fmt.Sprintf("ozon warehouse id %q is not numeric", externalWarehouseID)}
	}

	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	var result ozonStockResult
	resp, err := req.
		SetBody(map[string][]ozonStockItem{
			"stocks": {{OfferID: offerID, Stock: quantity, WarehouseID: whID}},
		}).
		SetResult(&result).
		Post("/v2/products/stocks")
	if err != nil {
		return fmt.Errorf("ozon stock push failed: %w", err)
	}
	if resp.IsError() {
		return ozonAPIError(resp)
	}

	for _, item := range result.Result {
		if len(item.Errors) == 0 {
			continue
		}
		apiErr := &retry.APIError{
			Code:       item.Errors[0].Code,
			Message:    item.Errors[0].Message,
			HTTPStatus: resp.StatusCode(),
		}
		if c.policy != nil && !c.policy.ShouldRetryForResponse(resp.Body()) {
			// Force the fatal path even for codes outside the table.
			apiErr.Code = "VALIDATION_ERROR"
			apiErr.Message = item.Errors[0].Code + ": " + item.Errors[0].Message
		}
		return apiErr
	}
	return nil
}

type ozonPostingList struct {
	Result []struct {
		PostingNumber string    `json:"posting_number"`
		CreatedAt     time.Time `json:"created_at"`
		AnalyticsData struct {
			WarehouseID int64 `json:"warehouse_id"`
		} `json:"analytics_data"`
		Products []struct {
			OfferID  string `json:"offer_id"`
			Quantity int64  `json:"quantity"`
			Price    string `json:"price"`
		} `json:"products"`
	} `json:"result"`
}

// ListOrders fetches one page of FBO postings in a date range.
func (c *OzonClient) ListOrders(ctx context.Context, from, to time.Time, page, pageSize int) ([]ExternalOrder, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var list ozonPostingList
	resp, err := req.
		SetBody(map[string]any{
			"filter": map[string]string{
				"since": from.Format(time.RFC3339),
				"to":    to.Format(time.RFC3339),
			},
			"limit":  pageSize,
			"offset": (page - 1) * pageSize,
		}).
		SetResult(&list).
		Post("/v2/posting/fbo/list")
	if err != nil {
		return nil, fmt.Errorf("ozon order listing failed: %w", err)
	}
	if resp.IsError() {
		return nil, ozonAPIError(resp)
	}

	orders := make([]ExternalOrder, 0, len(list.Result))
	for _, p := range list.Result {
		o := ExternalOrder{
			PostingNumber: p.PostingNumber,
			CreatedAt:     p.CreatedAt,
			WarehouseID:   strconv.FormatInt(p.AnalyticsData.WarehouseID, 10),
		}
		for _, prod := range p.Products {
			price, _ := strconv.ParseFloat(prod.Price, 64)
			o.Items = append(o.Items, event.OrderItem{
				OfferID:  prod.OfferID,
				Quantity: prod.Quantity,
				Price:    price,
			})
		}
		orders = append(orders, o)
	}
	return orders, nil
}

type ozonWarehouseList struct {
	Result []struct {
		WarehouseID int64  `json:"warehouse_id"`
		Name        string `json:"name"`
	} `json:"result"`
}

// ListWarehouses fetches the seller's Ozon warehouses.
func (c *OzonClient) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var list ozonWarehouseList
	resp, err := req.SetResult(&list).Post("/v1/warehouse/list")
	if err != nil {
		return nil, fmt.Errorf("ozon warehouse listing failed: %w", err)
	}
	if resp.IsError() {
		return nil, ozonAPIError(resp)
	}
	out := make([]Warehouse, 0, len(list.Result))
	for _, w := range list.Result {
		out = append(out, Warehouse{ExternalID: strconv.FormatInt(w.WarehouseID, 10), Name: w.Name})
	}
	return out, nil
}

// TestConnection verifies credentials against the warehouse listing.
func (c *OzonClient) TestConnection(ctx context.Context) error {
	_, err := c.ListWarehouses(ctx)
	return err
}
