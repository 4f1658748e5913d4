package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-sender-api/internal/domain"
	jwtinfra "github.com/go-sender-api/internal/infrastructure/jwt"
	"github.com/go-sender-api/internal/transport/http/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockSenderSvc struct{ mock.Mock }

func (m *mockSenderSvc) Create(ctx context.Context, tenantID, tier string, req domain.CreateSenderRequest) (*domain.Sender, error) {
	args := m.Called(ctx, tenantID, tier, req)
	if s, _ := args.Get(0).(*domain.Sender); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSenderSvc) Get(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	args := m.Called(ctx, tenantID, senderID)
	if s, _ := args.Get(0).(*domain.Sender); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSenderSvc) List(ctx context.Context, tenantID string) ([]domain.Sender, error) {
	args := m.Called(ctx, tenantID)
	senders, _ := args.Get(0).([]domain.Sender)
	return senders, args.Error(1)
}
func (m *mockSenderSvc) Limits(ctx context.Context, tenantID, tier string) (*domain.TierLimits, error) {
	args := m.Called(ctx, tenantID, tier)
	if l, _ := args.Get(0).(*domain.TierLimits); l != nil {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSenderSvc) Update(ctx context.Context, tenantID, senderID string, req domain.UpdateSenderRequest) (*domain.Sender, error) {
	args := m.Called(ctx, tenantID, senderID, req)
	if s, _ := args.Get(0).(*domain.Sender); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockSenderSvc) Delete(ctx context.Context, tenantID, senderID string) error {
	return m.Called(ctx, tenantID, senderID).Error(0)
}

type mockVerificationSvc struct{ mock.Mock }

func (m *mockVerificationSvc) Poll(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	args := m.Called(ctx, tenantID, senderID)
	if s, _ := args.Get(0).(*domain.Sender); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockVerificationSvc) Reverify(ctx context.Context, tenantID, senderID string) (*domain.Sender, error) {
	args := m.Called(ctx, tenantID, senderID)
	if s, _ := args.Get(0).(*domain.Sender); s != nil {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockVerificationSvc) GetDomain(ctx context.Context, tenantID, dom string) (*domain.DomainVerificationRecord, error) {
	args := m.Called(ctx, tenantID, dom)
	if r, _ := args.Get(0).(*domain.DomainVerificationRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockVerificationSvc) DeleteDomain(ctx context.Context, tenantID, dom string) error {
	return m.Called(ctx, tenantID, dom).Error(0)
}

// --- helpers ---

// withClaims injects verified claims the way the auth middleware would.
func withClaims(r *http.Request, tenantID, tier string) *http.Request {
	claims := &jwtinfra.Claims{TenantID: tenantID, UserID: "u1", Tier: tier}
	return r.WithContext(context.WithValue(r.Context(), middleware.ClaimsKey, claims))
}

// withChiParam injects a chi URL param into the request context.
func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func createBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(domain.CreateSenderRequest{
		Email:            "alice@example.com",
		Name:             "Alice",
		VerificationType: "mailbox",
	})
	require.NoError(t, err)
	return body
}

// --- Create tests ---

func TestCreate_MissingClaims(t *testing.T) {
	h := NewSenderHandler(&mockSenderSvc{}, &mockVerificationSvc{})
	r := httptest.NewRequest(http.MethodPost, "/v1/senders", bytes.NewReader(createBody(t)))
	rr := httptest.NewRecorder()
	h.Create(rr, r) // called directly, no claims in context
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreate_InvalidBody(t *testing.T) {
	h := NewSenderHandler(&mockSenderSvc{}, &mockVerificationSvc{})
	r := withClaims(httptest.NewRequest(http.MethodPost, "/v1/senders", bytes.NewBufferString("not-json")), "t1", domain.TierFree)
	rr := httptest.NewRecorder()
	h.Create(rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreate_ValidationFailure(t *testing.T) {
	h := NewSenderHandler(&mockSenderSvc{}, &mockVerificationSvc{})
	body, _ := json.Marshal(domain.CreateSenderRequest{Email: "not-an-email", VerificationType: "mailbox"})
	r := withClaims(httptest.NewRequest(http.MethodPost, "/v1/senders", bytes.NewReader(body)), "t1", domain.TierFree)
	rr := httptest.NewRecorder()
	h.Create(rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreate_QuotaExceeded(t *testing.T) {
	svc := &mockSenderSvc{}
	svc.On("Create", mock.Anything, "t1", domain.TierFree, mock.Anything).Return(nil, domain.ErrBadRequest)
	h := NewSenderHandler(svc, &mockVerificationSvc{})
	r := withClaims(httptest.NewRequest(http.MethodPost, "/v1/senders", bytes.NewReader(createBody(t))), "t1", domain.TierFree)
	rr := httptest.NewRecorder()
	h.Create(rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertExpectations(t)
}

func TestCreate_CapabilityDenied(t *testing.T) {
	svc := &mockSenderSvc{}
	svc.On("Create", mock.Anything, "t1", domain.TierFree, mock.Anything).Return(nil, domain.ErrUnauthorized)
	h := NewSenderHandler(svc, &mockVerificationSvc{})
	r := withClaims(httptest.NewRequest(http.MethodPost, "/v1/senders", bytes.NewReader(createBody(t))), "t1", domain.TierFree)
	rr := httptest.NewRecorder()
	h.Create(rr, r)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreate_HappyPath(t *testing.T) {
	svc := &mockSenderSvc{}
	snd := &domain.Sender{
		SenderID: "s1", TenantID: "t1", Email: "alice@example.com",
		VerificationType: domain.VerificationTypeMailbox, VerificationStatus: domain.StatusPending,
		IsDefault: true,
	}
	svc.On("Create", mock.Anything, "t1", domain.TierFree, mock.Anything).Return(snd, nil)
	h := NewSenderHandler(svc, &mockVerificationSvc{})
	r := withClaims(httptest.NewRequest(http.MethodPost, "/v1/senders", bytes.NewReader(createBody(t))), "t1", domain.TierFree)
	rr := httptest.NewRecorder()
	h.Create(rr, r)

	assert.Equal(t, http.StatusCreated, rr.Code)
	var resp domain.Sender
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "s1", resp.SenderID)
	assert.Equal(t, domain.StatusPending, resp.VerificationStatus)
	assert.True(t, resp.IsDefault)
	svc.AssertExpectations(t)
}

// --- List / Limits tests ---

func TestList_EmptyTenantReturnsEmptyArray(t *testing.T) {
	svc := &mockSenderSvc{}
	svc.On("List", mock.Anything, "t1").Return(nil, nil)
	h := NewSenderHandler(svc, &mockVerificationSvc{})
	r := withClaims(httptest.NewRequest(http.MethodGet, "/v1/senders", nil), "t1", domain.TierFree)
	rr := httptest.NewRecorder()
	h.List(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp SenderListEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.NotNil(t, resp.Data)
	assert.Len(t, resp.Data, 0)
}

func TestLimits_HappyPath(t *testing.T) {
	svc := &mockSenderSvc{}
	svc.On("Limits", mock.Anything, "t1", domain.TierCreator).Return(&domain.TierLimits{
		Tier: domain.TierCreator, MaxSenders: 2, CurrentCount: 1, CanUseDNS: true, CanUseMailbox: true,
	}, nil)
	h := NewSenderHandler(svc, &mockVerificationSvc{})
	r := withClaims(httptest.NewRequest(http.MethodGet, "/v1/senders/limits", nil), "t1", domain.TierCreator)
	rr := httptest.NewRecorder()
	h.Limits(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp domain.TierLimits
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 2, resp.MaxSenders)
	assert.Equal(t, 1, resp.CurrentCount)
}

// --- Get / Update / Delete tests ---

func TestGet_NotFound(t *testing.T) {
	svc := &mockSenderSvc{}
	svc.On("Get", mock.Anything, "t1", "nope").Return(nil, domain.ErrNotFound)
	h := NewSenderHandler(svc, &mockVerificationSvc{})
	r := withClaims(httptest.NewRequest(http.MethodGet, "/v1/senders/nope", nil), "t1", domain.TierFree)
	r = withChiParam(r, "id", "nope")
	rr := httptest.NewRecorder()
	h.Get(rr, r)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdate_ImmutableFieldRejected(t *testing.T) {
	svc := &mockSenderSvc{}
	svc.On("Update", mock.Anything, "t1", "s1", mock.Anything).Return(nil, domain.ErrBadRequest)
	h := NewSenderHandler(svc, &mockVerificationSvc{})
	body, _ := json.Marshal(map[string]string{"email": "new@example.com"})
	r := withClaims(httptest.NewRequest(http.MethodPut, "/v1/senders/s1", bytes.NewReader(body)), "t1", domain.TierFree)
	r = withChiParam(r, "id", "s1")
	rr := httptest.NewRecorder()
	h.Update(rr, r)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDelete_HappyPath(t *testing.T) {
	svc := &mockSenderSvc{}
	svc.On("Delete", mock.Anything, "t1", "s1").Return(nil)
	h := NewSenderHandler(svc, &mockVerificationSvc{})
	r := withClaims(httptest.NewRequest(http.MethodDelete, "/v1/senders/s1", nil), "t1", domain.TierFree)
	r = withChiParam(r, "id", "s1")
	rr := httptest.NewRecorder()
	h.Delete(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp MessageEnvelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "sender deleted", resp.Message)
	svc.AssertExpectations(t)
}

// --- Verification endpoint tests ---

func TestPoll_ReturnsUpdatedSender(t *testing.T) {
	verSvc := &mockVerificationSvc{}
	verSvc.On("Poll", mock.Anything, "t1", "s1").Return(&domain.Sender{
		SenderID: "s1", VerificationStatus: domain.StatusVerified,
	}, nil)
	h := NewSenderHandler(&mockSenderSvc{}, verSvc)
	r := withClaims(httptest.NewRequest(http.MethodPost, "/v1/senders/s1/poll", nil), "t1", domain.TierFree)
	r = withChiParam(r, "id", "s1")
	rr := httptest.NewRecorder()
	h.Poll(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp domain.Sender
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, domain.StatusVerified, resp.VerificationStatus)
	verSvc.AssertExpectations(t)
}

func TestReverify_ConflictFromRacingUpdate(t *testing.T) {
	verSvc := &mockVerificationSvc{}
	verSvc.On("Reverify", mock.Anything, "t1", "s1").Return(nil, domain.ErrConflict)
	h := NewSenderHandler(&mockSenderSvc{}, verSvc)
	r := withClaims(httptest.NewRequest(http.MethodPost, "/v1/senders/s1/verify", nil), "t1", domain.TierFree)
	r = withChiParam(r, "id", "s1")
	rr := httptest.NewRecorder()
	h.Reverify(rr, r)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

// --- Domain handler tests ---

func TestDomainGet_ReturnsRecordWithDNS(t *testing.T) {
	verSvc := &mockVerificationSvc{}
	verSvc.On("GetDomain", mock.Anything, "t1", "example.com").Return(&domain.DomainVerificationRecord{
		Domain: "example.com", TenantID: "t1", VerificationStatus: domain.StatusPending,
		DNSRecords: []domain.DNSRecord{{Name: "tok1._domainkey.example.com", Type: "CNAME", Value: "tok1.dkim.amazonses.com"}},
	}, nil)
	h := NewDomainHandler(verSvc)
	r := withClaims(httptest.NewRequest(http.MethodGet, "/v1/domains/example.com", nil), "t1", domain.TierPro)
	r = withChiParam(r, "domain", "example.com")
	rr := httptest.NewRecorder()
	h.Get(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp domain.DomainVerificationRecord
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.DNSRecords, 1)
	assert.Equal(t, "CNAME", resp.DNSRecords[0].Type)
}

func TestDomainDelete_ConflictWhileInUse(t *testing.T) {
	verSvc := &mockVerificationSvc{}
	verSvc.On("DeleteDomain", mock.Anything, "t1", "example.com").Return(domain.ErrConflict)
	h := NewDomainHandler(verSvc)
	r := withClaims(httptest.NewRequest(http.MethodDelete, "/v1/domains/example.com", nil), "t1", domain.TierPro)
	r = withChiParam(r, "domain", "example.com")
	rr := httptest.NewRecorder()
	h.Delete(rr, r)
	assert.Equal(t, http.StatusConflict, rr.Code)
}
