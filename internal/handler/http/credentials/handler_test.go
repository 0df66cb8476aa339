package credentials_http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"rentpay/internal/domain"
)

type fakeVault struct {
	stored map[string]domain.GatewayCredential
}

func (v *fakeVault) Get(_ context.Context, landlordID string) (*domain.GatewayCredential, error) {
	cred, ok := v.stored[landlordID]
	if !ok {
		return nil, domain.ErrCredentialsNotFound
	}
	return &cred, nil
}

func (v *fakeVault) Upsert(_ context.Context, landlordID string, cred domain.GatewayCredential) (*domain.GatewayCredential, error) {
	if cred.Shortcode == "" || cred.Passkey == "" || cred.ConsumerKey == "" || cred.ConsumerSecret == "" || !cred.Environment.Valid() {
		return nil, fmt.Errorf("shortcode is required: %w", domain.ErrValidation)
	}
	cred.LandlordID = landlordID
	v.stored[landlordID] = cred
	return &cred, nil
}

func newRouter() (chi.Router, *fakeVault) {
	vault := &fakeVault{stored: map[string]domain.GatewayCredential{}}
	r := chi.NewRouter()
	RegisterRoutes(r, vault, zap.NewNop())
	return r, vault
}

func TestGetCredentialsNotConfigured(t *testing.T) {
	r, _ := newRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/landlord/landlord-1/credentials", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestUpsertThenGetCredentials(t *testing.T) {
	r, vault := newRouter()
	body := `{"shortcode":"174379","passkey":"pk","consumerKey":"ck","consumerSecret":"cs","environment":"sandbox"}`

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/landlord/landlord-1/credentials", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "message")
	assert.Equal(t, "174379", vault.stored["landlord-1"].Shortcode)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/landlord/landlord-1/credentials", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, body, rec.Body.String())
}

func TestUpsertCredentialsRejectsInvalidInput(t *testing.T) {
	r, _ := newRouter()

	for _, body := range []string{
		`not json`,
		`{"shortcode":"174379","passkey":"pk","consumerKey":"ck","consumerSecret":"cs","environment":"staging"}`,
		`{"shortcode":"","passkey":"pk","consumerKey":"ck","consumerSecret":"cs","environment":"sandbox"}`,
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/landlord/landlord-1/credentials", strings.NewReader(body)))

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}
