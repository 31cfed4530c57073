package lalamove

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/infrastructure/external/httpclient"
)

// Config holds Lalamove API configuration
type Config struct {
	BaseURL     string
	APIKey      string
	APISecret   string
	Market      string // e.g. BR
	ServiceType string // e.g. VAN
	Language    string // e.g. pt_BR
	StoreName   string
	StorePhone  string
	Timeout     time.Duration
}

// Client implements port.DeliveryProvider against the Lalamove v3 REST API
type Client struct {
	cfg    Config
	http   *httpclient.Client
	now    func() time.Time
	logger *zap.Logger
}

// NewClient creates a new Lalamove client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Market == "" {
		cfg.Market = "BR"
	}
	if cfg.ServiceType == "" {
		cfg.ServiceType = "VAN"
	}
	if cfg.Language == "" {
		cfg.Language = "pt_BR"
	}

	return &Client{
		cfg:    cfg,
		http:   httpclient.New("lalamove", cfg.Timeout, logger),
		now:    time.Now,
		logger: logger,
	}
}

type stop struct {
	StopID  string `json:"stopId,omitempty"`
	Address string `json:"address"`
}

type quotationItem struct {
	Quantity    string `json:"quantity"`
	Description string `json:"description,omitempty"`
}

type quotationRequest struct {
	ServiceType string        `json:"serviceType"`
	Language    string        `json:"language"`
	Stops       []stop        `json:"stops"`
	Item        quotationItem `json:"item"`
	ScheduleAt  string        `json:"scheduleAt,omitempty"`
}

type quotationResponse struct {
	QuotationID string `json:"quotationId"`
	Stops       []stop `json:"stops"`
}

type contact struct {
	StopID  string `json:"stopId"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Remarks string `json:"remarks,omitempty"`
}

type orderRequest struct {
	QuotationID string            `json:"quotationId"`
	Sender      contact           `json:"sender"`
	Recipients  []contact         `json:"recipients"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type orderResponse struct {
	OrderID   string `json:"orderId"`
	ShareLink string `json:"shareLink"`
	Status    string `json:"status"`
	DriverID  string `json:"driverId"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

// RequestDelivery books a courier from the store to the customer
func (c *Client) RequestDelivery(ctx context.Context, req port.DeliveryRequest) (*port.DispatchResult, error) {
	storeContact := contact{Name: c.cfg.StoreName, Phone: c.cfg.StorePhone}
	customer := contact{Name: req.ContactName, Phone: req.ContactPhone, Remarks: "Pedido " + req.OrderNumber}
	return c.book(ctx, req, req.StoreAddress, req.Address, storeContact, customer)
}

// RequestPickup books a courier from the customer back to the store
func (c *Client) RequestPickup(ctx context.Context, req port.DeliveryRequest) (*port.DispatchResult, error) {
	customer := contact{Name: req.ContactName, Phone: req.ContactPhone}
	storeContact := contact{Name: c.cfg.StoreName, Phone: c.cfg.StorePhone, Remarks: "Devolucao " + req.OrderNumber}
	return c.book(ctx, req, req.Address, req.StoreAddress, customer, storeContact)
}

func (c *Client) book(ctx context.Context, req port.DeliveryRequest, from, to string, sender, recipient contact) (*port.DispatchResult, error) {
	quote, err := c.quote(ctx, req, from, to)
	if err != nil {
		return nil, err
	}
	if len(quote.Stops) < 2 {
		return nil, fmt.Errorf("lalamove quotation %s returned %d stops", quote.QuotationID, len(quote.Stops))
	}

	sender.StopID = quote.Stops[0].StopID
	recipient.StopID = quote.Stops[1].StopID
	body := orderRequest{
		QuotationID: quote.QuotationID,
		Sender:      sender,
		Recipients:  []contact{recipient},
		Metadata:    map[string]string{"orderNumber": req.OrderNumber},
	}

	var order envelope[orderResponse]
	if err := c.call(ctx, http.MethodPost, "/v3/orders", envelope[orderRequest]{Data: body}, &order, "create order"); err != nil {
		return nil, err
	}

	c.logger.Info("Lalamove order created",
		zap.String("order_number", req.OrderNumber),
		zap.String("dispatch_id", order.Data.OrderID),
		zap.String("status", order.Data.Status))

	return &port.DispatchResult{
		DispatchID:  order.Data.OrderID,
		TrackingRef: order.Data.ShareLink,
		DriverInfo:  order.Data.DriverID,
		Status:      order.Data.Status,
	}, nil
}

func (c *Client) quote(ctx context.Context, req port.DeliveryRequest, from, to string) (*quotationResponse, error) {
	quantity := 0
	names := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		quantity += item.Quantity
		names = append(names, item.Name)
	}

	body := quotationRequest{
		ServiceType: c.cfg.ServiceType,
		Language:    c.cfg.Language,
		Stops:       []stop{{Address: from}, {Address: to}},
		Item:        quotationItem{Quantity: strconv.Itoa(quantity), Description: strings.Join(names, ", ")},
	}
	if req.ScheduledAt != nil {
		body.ScheduleAt = req.ScheduledAt.UTC().Format(time.RFC3339)
	}

	var quote envelope[quotationResponse]
	if err := c.call(ctx, http.MethodPost, "/v3/quotations", envelope[quotationRequest]{Data: body}, &quote, "create quotation"); err != nil {
		return nil, err
	}
	return &quote.Data, nil
}

// Cancel cancels a booked courier job
func (c *Client) Cancel(ctx context.Context, dispatchID string) error {
	if err := c.call(ctx, http.MethodDelete, "/v3/orders/"+dispatchID, nil, nil, "cancel order"); err != nil {
		return err
	}
	c.logger.Info("Lalamove order cancelled", zap.String("dispatch_id", dispatchID))
	return nil
}

// GetStatus returns the provider status of a courier job
func (c *Client) GetStatus(ctx context.Context, dispatchID string) (string, error) {
	var order envelope[orderResponse]
	if err := c.call(ctx, http.MethodGet, "/v3/orders/"+dispatchID, nil, &order, "get order"); err != nil {
		return "", err
	}
	return order.Data.Status, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out interface{}, action string) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		c.sign(req, path, payload)
		return req, nil
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return c.http.Rejected(resp, action)
	}

	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// sign sets the HMAC authorization header. The signed message is
// "{timestamp}\r\n{method}\r\n{path}\r\n\r\n{body}".
func (c *Client) sign(req *http.Request, path string, body []byte) {
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	signature := Signature(c.cfg.APISecret, timestamp, req.Method, path, body)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("hmac %s:%s:%s", c.cfg.APIKey, timestamp, signature))
	req.Header.Set("Market", c.cfg.Market)
	req.Header.Set("Request-ID", uuid.NewString())
}

// Signature computes the request signature
func Signature(secret, timestamp, method, path string, body []byte) string {
	message := timestamp + "\r\n" + method + "\r\n" + path + "\r\n\r\n" + string(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

var _ port.DeliveryProvider = (*Client)(nil)
