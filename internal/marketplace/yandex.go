package marketplace

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/marketsync/stock-reconciler/internal/credentials"
	"github.com/marketsync/stock-reconciler/internal/event"
	"go.uber.org/zap"

	"github.com/marketsync/stock-reconciler/internal/retry"
)

const yandexName = "YANDEX"

// YandexConfig configures the Yandex Market partner API client.
type YandexConfig struct {
	BaseURL    string
	CampaignID string
	CompanyID  string
	Timeout    time.Duration
	// Warehouses maps internal warehouse ids to Yandex warehouse ids.
	Warehouses map[string]string
}

// YandexClient implements Adapter against the Yandex Market partner API.
type YandexClient struct {
	rest  *resty.Client
	cfg   YandexConfig
	creds credentials.Store
	log   *zap.Logger
}

// NewYandexClient creates a YandexClient.
func NewYandexClient(cfg YandexConfig, creds credentials.Store, log *zap.Logger) *YandexClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)
	return &YandexClient{rest: rest, cfg: cfg, creds: creds, log: log}
}

// Marketplace returns "YANDEX".
func (c *YandexClient) Marketplace() string { return yandexName }

// ResolveWarehouse translates an internal warehouse id to the Yandex one.
func (c *YandexClient) ResolveWarehouse(internalID string) (string, error) {
	ext, ok := c.cfg.Warehouses[internalID]
	if !ok {
		return "", ErrUnmappedWarehouse(yandexName, internalID)
	}
	return ext, nil
}

func (c *YandexClient) request(ctx context.Context) (*resty.Request, error) {
	cr, err := c.creds.FindValid(ctx, c.cfg.CompanyID, yandexName)
	if err != nil {
		return nil, fmt.Errorf("yandex credentials unavailable: %w", err)
	}
	return c.rest.R().
		SetContext(ctx).
		SetHeader("Api-Key", cr.Secret), nil
}

type yandexErrorBody struct {
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func yandexAPIError(resp *resty.Response) error {
	var body yandexErrorBody
	_ = jsonUnmarshal(resp.Body(), &body)
	code := httpFallbackCode(resp.StatusCode())
	message := ""
	if len(body.Errors) > 0 {
		code = body.Errors[0].Code
		message = body.Errors[0].Message
	}
	return &retry.APIError{Code: code, Message: message, HTTPStatus: resp.StatusCode()}
}

// PushStock sets an offer's stock at a Yandex warehouse.
func (c *YandexClient) PushStock(ctx context.Context, offerID string, quantity int64, externalWarehouseID string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetBody(map[string]any{
			"skus": []map[string]any{{
				"sku":         offerID,
				"warehouseId": externalWarehouseID,
				"items": []map[string]any{{
					"count":     quantity,
					"updatedAt": time.Now().Format(time.RFC3339),
				}},
			}},
		}).
		Put(fmt.Sprintf("/campaigns/%s/offers/stocks", c.cfg.CampaignID))
	if err != nil {
		return fmt.Errorf("yandex stock push failed: %w", err)
	}
	if resp.IsError() {
		return yandexAPIError(resp)
	}
	return nil
}

type yandexOrderList struct {
	Orders []struct {
		ID        int64  `json:"id"`
		CreatedAt string `json:"creationDate"`
		Delivery  struct {
			WarehouseID string `json:"outletCode"`
		} `json:"delivery"`
		Items []struct {
			OfferID string  `json:"offerId"`
			Count   int64   `json:"count"`
			Price   float64 `json:"price"`
		} `json:"items"`
	} `json:"orders"`
}

// ListOrders fetches one page of orders in a date range.
func (c *YandexClient) ListOrders(ctx context.Context, from, to time.Time, page, pageSize int) ([]ExternalOrder, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var list yandexOrderList
	resp, err := req.
		SetQueryParams(map[string]string{
			"fromDate": from.Format("02-01-2006"),
			"toDate":   to.Format("02-01-2006"),
			"page":     strconv.Itoa(page),
			"pageSize": strconv.Itoa(pageSize),
		}).
		SetResult(&list).
		Get(fmt.Sprintf("/campaigns/%s/orders", c.cfg.CampaignID))
	if err != nil {
		return nil, fmt.Errorf("yandex order listing failed: %w", err)
	}
	if resp.IsError() {
		return nil, yandexAPIError(resp)
	}

	orders := make([]ExternalOrder, 0, len(list.Orders))
	for _, o := range list.Orders {
		created, err := time.Parse("02-01-2006 15:04:05", o.CreatedAt)
		if err != nil {
			c.log.Warn("skipping order with malformed creation date",
				zap.Int64("order_id", o.ID),
				zap.String("creation_date", o.CreatedAt))
			continue
		}
		ext := ExternalOrder{
			PostingNumber: strconv.FormatInt(o.ID, 10),
			CreatedAt:     created,
			WarehouseID:   o.Delivery.WarehouseID,
		}
		for _, it := range o.Items {
			ext.Items = append(ext.Items, event.OrderItem{
				OfferID:  it.OfferID,
				Quantity: it.Count,
				Price:    it.Price,
			})
		}
		orders = append(orders, ext)
	}
	return orders, nil
}

type yandexWarehouseList struct {
	Warehouses []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"warehouses"`
}

// ListWarehouses fetches the campaign warehouses.
func (c *YandexClient) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var list yandexWarehouseList
	resp, err := req.SetResult(&list).
		Get(fmt.Sprintf("/campaigns/%s/warehouses", c.cfg.CampaignID))
	if err != nil {
		return nil, fmt.Errorf("yandex warehouse listing failed: %w", err)
	}
	if resp.IsError() {
		return nil, yandexAPIError(resp)
	}
	out := make([]Warehouse, 0, len(list.Warehouses))
	for _, w := range list.Warehouses {
		out = append(out, Warehouse{ExternalID: strconv.FormatInt(w.ID, 10), Name: w.Name})
	}
	return out, nil
}

// TestConnection verifies credentials against the warehouse listing.
func (c *YandexClient) TestConnection(ctx context.Context) error {
	_, err := c.ListWarehouses(ctx)
	return err
}
