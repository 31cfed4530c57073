package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/equiprent/rental-workflow/internal/application/port"
	"github.com/equiprent/rental-workflow/internal/domain/entity"
	"github.com/equiprent/rental-workflow/internal/domain/errs"
	"github.com/equiprent/rental-workflow/internal/infrastructure/external/httpclient"
)

// Config holds Asaas API configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements port.PaymentGateway against the Asaas v3 REST API
type Client struct {
	cfg    Config
	http   *httpclient.Client
	logger *zap.Logger
}

// NewClient creates a new Asaas client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   httpclient.New("asaas", cfg.Timeout, logger),
		logger: logger,
	}
}

type customer struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	CpfCnpj     string `json:"cpfCnpj"`
	Email       string `json:"email,omitempty"`
	MobilePhone string `json:"mobilePhone,omitempty"`
}

type customerList struct {
	Data       []customer `json:"data"`
	TotalCount int        `json:"totalCount"`
}

type paymentRequest struct {
	Customer          string      `json:"customer"`
	BillingType       string      `json:"billingType"`
	Value             json.Number `json:"value"`
	DueDate           string      `json:"dueDate"`
	Description       string      `json:"description,omitempty"`
	ExternalReference string      `json:"externalReference,omitempty"`
	InstallmentCount  int         `json:"installmentCount,omitempty"`
	InstallmentValue  json.Number `json:"installmentValue,omitempty"`
}

type payment struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	InvoiceURL  string `json:"invoiceUrl"`
	BankSlipURL string `json:"bankSlipUrl"`
}

type pixQrCode struct {
	Payload string `json:"payload"`
}

// billingTypes maps payment methods to Asaas billing types
var billingTypes = map[entity.BillingMethod]string{
	entity.BillingMethodPix:        "PIX",
	entity.BillingMethodBoleto:     "BOLETO",
	entity.BillingMethodCreditCard: "CREDIT_CARD",
}

// FindOrCreateCustomer looks the payer up by document and registers it when missing
func (c *Client) FindOrCreateCustomer(ctx context.Context, ref port.CustomerRef) (string, error) {
	document := onlyDigits(ref.Document)
	if document == "" {
		return "", errs.New(errs.KindValidation, "customer document is required")
	}

	var found customerList
	if err := c.call(ctx, http.MethodGet, "/v3/customers?cpfCnpj="+url.QueryEscape(document), nil, &found, "list customers"); err != nil {
		return "", err
	}
	if len(found.Data) > 0 {
		return found.Data[0].ID, nil
	}

	var created customer
	body := customer{Name: ref.Name, CpfCnpj: document, Email: ref.Email, MobilePhone: onlyDigits(ref.Phone)}
	if err := c.call(ctx, http.MethodPost, "/v3/customers", body, &created, "create customer"); err != nil {
		return "", err
	}

	c.logger.Info("Asaas customer created", zap.String("customer_id", created.ID))
	return created.ID, nil
}

// CreateCharge creates a payment; PIX charges also carry the copy-and-paste code
func (c *Client) CreateCharge(ctx context.Context, req port.ChargeRequest) (*port.ChargeResult, error) {
	billingType, ok := billingTypes[req.Method]
	if !ok {
		return nil, errs.New(errs.KindValidation, "method %s is not charged through the gateway", req.Method)
	}

	body := paymentRequest{
		Customer:          req.CustomerID,
		BillingType:       billingType,
		Value:             json.Number(req.Amount.StringFixed(2)),
		DueDate:           req.DueDate.Format("2006-01-02"),
		Description:       req.Description,
		ExternalReference: req.Reference,
	}
	if req.InstallmentCount > 1 {
		body.InstallmentCount = req.InstallmentCount
		body.InstallmentValue = json.Number(req.InstallmentValue.StringFixed(2))
	}

	var created payment
	if err := c.call(ctx, http.MethodPost, "/v3/payments", body, &created, "create payment"); err != nil {
		return nil, err
	}

	result := &port.ChargeResult{
		ChargeID:   created.ID,
		Status:     created.Status,
		PaymentURL: created.InvoiceURL,
		BoletoURL:  created.BankSlipURL,
	}

	if req.Method == entity.BillingMethodPix {
		var qr pixQrCode
		if err := c.call(ctx, http.MethodGet, "/v3/payments/"+created.ID+"/pixQrCode", nil, &qr, "get pix qr code"); err != nil {
			c.logger.Warn("Failed to fetch PIX code, charge kept without it",
				zap.String("charge_id", created.ID),
				zap.Error(err))
		} else {
			result.PixCode = qr.Payload
		}
	}

	c.logger.Info("Asaas payment created",
		zap.String("reference", req.Reference),
		zap.String("charge_id", created.ID),
		zap.String("status", created.Status))
	return result, nil
}

// GetCharge fetches the current state of a payment
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*port.ChargeResult, error) {
	var p payment
	if err := c.call(ctx, http.MethodGet, "/v3/payments/"+chargeID, nil, &p, "get payment"); err != nil {
		return nil, err
	}
	return &port.ChargeResult{
		ChargeID:   p.ID,
		Status:     p.Status,
		PaymentURL: p.InvoiceURL,
		BoletoURL:  p.BankSlipURL,
	}, nil
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
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("access_token", c.cfg.APIKey)
		return req, nil
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return c.http.Rejected(resp, action)
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var _ port.PaymentGateway = (*Client)(nil)
