package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"rentpay/internal/domain"
)

type callbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string       `json:"MerchantRequestID"`
			CheckoutRequestID string       `json:"CheckoutRequestID"`
			ResultCode        *json.Number `json:"ResultCode"`
			ResultDesc        string       `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// ParseCallback extracts the result of an STK push from the gateway's
// notification body. It makes no network calls.
func ParseCallback(payload []byte) (*domain.CallbackResult, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("invalid callback json: %v: %w", err, domain.ErrMalformedCallback)
	}

	cb := env.Body.StkCallback
	if cb == nil {
		return nil, fmt.Errorf("missing Body.stkCallback: %w", domain.ErrMalformedCallback)
	}
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("missing CheckoutRequestID: %w", domain.ErrMalformedCallback)
	}
	if cb.ResultCode == nil {
		return nil, fmt.Errorf("missing ResultCode for %s: %w", cb.CheckoutRequestID, domain.ErrMalformedCallback)
	}
	// result_code is a 32-bit column.
	code64, err := strconv.ParseInt(cb.ResultCode.String(), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid ResultCode %q for %s: %w", cb.ResultCode.String(), cb.CheckoutRequestID, domain.ErrMalformedCallback)
	}
	code := int(code64)

	res := &domain.CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		GatewayRequestID:  cb.CheckoutRequestID,
		ResultCode:        code,
		ResultDesc:        cb.ResultDesc,
	}
	for _, item := range cb.CallbackMetadata.Item {
		if item.Value == nil {
			continue
		}
		switch item.Name {
		case "MpesaReceiptNumber":
			res.ReceiptID = fmt.Sprint(item.Value)
		case "PhoneNumber":
			res.PhoneNumber = fmt.Sprint(item.Value)
		}
	}

	if res.Succeeded() && res.ReceiptID == "" {
		return nil, fmt.Errorf("successful callback for %s has no MpesaReceiptNumber: %w", cb.CheckoutRequestID, domain.ErrMalformedCallback)
	}
	return res, nil
}
