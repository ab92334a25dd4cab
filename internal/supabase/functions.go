package supabase

import (
	"context"
	"net/http"
	"strings"

	"storefront/internal/model"
)

type checkoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		InstrumentResponse struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

// InitiatePayment calls the checkout function and returns the hosted
// payment page URL.
func (c *Client) InitiatePayment(ctx context.Context, req model.PaymentRequest) (string, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/functions/v1/" + c.checkoutFn,
		body:   req,
		cred:   asAnon,
	})
	if err != nil {
		return "", err
	}
	var out checkoutResponse
	if err := resp.decode(&out); err != nil {
		return "", err
	}
	redirect := out.Data.InstrumentResponse.RedirectInfo.URL
	if !out.Success || redirect == "" {
		msg := out.Message
		if msg == "" {
			msg = "Payment initiation failed"
		}
		return "", model.NewPaymentError(msg)
	}
	return redirect, nil
}

type verifyResponse struct {
	Status string `json:"status"`
	Data   struct {
		Status string `json:"status"`
	} `json:"data"`
}

// VerifyPayment asks the verify function for the order's payment status.
// Unknown statuses count as failed.
func (c *Client) VerifyPayment(ctx context.Context, orderID model.ID) (string, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/functions/v1/" + c.verifyFn,
		body:   map[string]string{"orderId": orderID.String()},
	})
	if err != nil {
		return "", err
	}
	var out verifyResponse
	if err := resp.decode(&out); err != nil {
		return "", err
	}
	status := out.Status
	if status == "" {
		status = out.Data.Status
	}
	switch strings.ToLower(status) {
	case model.PaymentCompleted, "success":
		return model.PaymentCompleted, nil
	case model.PaymentPending:
		return model.PaymentPending, nil
	default:
		return model.PaymentFailed, nil
	}
}
