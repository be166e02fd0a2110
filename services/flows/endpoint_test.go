package flows

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/services/conversation"
	"github.com/emeka-okafor/kudipal/services/kv"
	"github.com/emeka-okafor/kudipal/services/ledger"
	"github.com/emeka-okafor/kudipal/services/ports"
	"github.com/emeka-okafor/kudipal/services/storage"
	"github.com/emeka-okafor/kudipal/services/transactions"
	"github.com/emeka-okafor/kudipal/utils"
)

type stubMessenger struct {
	texts []string
}

func (m *stubMessenger) SendText(ctx context.Context, to, body string) error {
	m.texts = append(m.texts, body)
	return nil
}

func (m *stubMessenger) SendButtons(ctx context.Context, to, body string, buttons []ports.Button) error {
	return nil
}

func (m *stubMessenger) SendList(ctx context.Context, to, body, buttonText string, sections []ports.ListSection) error {
	return nil
}

func (m *stubMessenger) SendFlow(ctx context.Context, to string, prompt ports.FlowPrompt) error {
	return nil
}

func (m *stubMessenger) SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error {
	return nil
}

type stubBank struct {
	result ports.ProviderResult
	calls  int
}

func (b *stubBank) Transfer(ctx context.Context, req ports.BankTransferRequest) (ports.ProviderResult, error) {
	b.calls++
	return b.result, nil
}

func (b *stubBank) TransferStatus(ctx context.Context, reference string) (ports.ProviderResult, error) {
	return b.result, nil
}

func (b *stubBank) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	return "", nil
}

func (b *stubBank) CreateVirtualAccount(ctx context.Context, req ports.VirtualAccountRequest) (ports.VirtualAccount, error) {
	return ports.VirtualAccount{}, nil
}

type endpointFixture struct {
	svc      *Service
	tokens   *Tokens
	sessions *Sessions
	users    *storage.MemoryUserStore
	store    *storage.MemoryLedgerStore
	ledg     *ledger.Ledger
	msgr     *stubMessenger
	bank     *stubBank
}

func newEndpointFixture(t *testing.T) *endpointFixture {
	t.Helper()
	f := &endpointFixture{
		tokens:   NewTokens("test-secret"),
		sessions: NewSessions(kv.NewMemoryStore()),
		users:    storage.NewMemoryUserStore(),
		store:    storage.NewMemoryLedgerStore(),
		msgr:     &stubMessenger{},
		bank:     &stubBank{result: ports.ProviderResult{OK: true, ProviderRef: "PRV-FLOW"}},
	}
	f.ledg = ledger.New(f.store, ledger.Options{DefaultDailyLimit: 200_000, DefaultMonthlyLimit: 1_000_000})
	conv := conversation.NewStore(kv.NewMemoryStore())
	orch := transactions.NewOrchestrator(f.users, f.ledg, conv, f.msgr, f.bank, nil, transactions.FeePolicy{TransferFlat: 10, TransferRate: 0.005})
	f.svc = NewService(testKey(t), f.tokens, f.sessions, f.users, f.msgr, conv, f.ledg, nil, orch, FlowIDs{TransferPIN: "flow-123"})
	return f
}

func (f *endpointFixture) newUser(t *testing.T, balance float64) *models.User {
	t.Helper()
	ctx := context.Background()
	hash, err := utils.HashPIN("1234")
	require.NoError(t, err)
	user := &models.User{
		WhatsAppNumber: "+2348012345678",
		FirstName:      "Ada",
		OnboardingStep: models.OnboardingStepCompleted,
		PINHash:        hash,
		IsActive:       true,
	}
	require.NoError(t, f.users.Create(ctx, user))
	_, err = f.ledg.EnsureWallet(ctx, user.ID)
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.ledg.Credit(ctx, user.ID, balance, "funding", "VA_TEST", "Test funding", nil)
		require.NoError(t, err)
	}
	return user
}

// exchange encrypts payload, runs Handle and returns the decrypted response.
func (f *endpointFixture) exchange(t *testing.T, payload interface{}) (map[string]interface{}, error) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	iv := newIV(t)
	req, aesKey := clientEncrypt(t, &f.svc.priv.PublicKey, raw, iv, iv)

	body, err := f.svc.Handle(context.Background(), req)
	if err != nil {
		return nil, err
	}
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(clientDecrypt(t, body, aesKey, iv), &resp))
	return resp, nil
}

func TestHandlePing(t *testing.T) {
	f := newEndpointFixture(t)

	resp, err := f.exchange(t, map[string]string{"version": "3.0", "action": "ping"})
	require.NoError(t, err)
	data, _ := resp["data"].(map[string]interface{})
	require.NotNil(t, data)
	assert.Equal(t, "active", data["status"])
}

func TestHandleWithoutKey(t *testing.T) {
	svc := NewService(nil, NewTokens("s"), nil, nil, nil, nil, nil, nil, nil, FlowIDs{})
	_, err := svc.Handle(context.Background(), EncryptedRequest{})
	require.Error(t, err)
	assert.Equal(t, utils.KindFlowDecryptFailed, utils.KindOf(err))
}

func TestHandleRejectsBadToken(t *testing.T) {
	f := newEndpointFixture(t)

	_, err := f.exchange(t, map[string]string{
		"version": "3.0", "action": "data_exchange", "screen": ScreenPINVerification,
		"flow_token": "forged",
	})
	require.Error(t, err)
	assert.Equal(t, utils.KindFlowTokenInvalid, utils.KindOf(err))
}

func TestHandleRejectsDeadSession(t *testing.T) {
	f := newEndpointFixture(t)
	user := f.newUser(t, 0)

	// Valid signature, but no session behind it (expired or already consumed).
	token, err := f.tokens.Issue(user.ID, models.FlowTypeTransferPIN, time.Hour)
	require.NoError(t, err)

	_, err = f.exchange(t, map[string]string{
		"version": "3.0", "action": "data_exchange", "screen": ScreenPINVerification,
		"flow_token": token,
	})
	require.Error(t, err)
	assert.Equal(t, utils.KindFlowTokenInvalid, utils.KindOf(err))
}

func TestPINScreenExecutesTransfer(t *testing.T) {
	f := newEndpointFixture(t)
	ctx := context.Background()
	user := f.newUser(t, 10_000)

	draft := transactions.Draft{
		Kind:          models.TransactionTypeTransfer,
		Amount:        2000,
		Fee:           10,
		AccountNumber: "0123456789",
		BankCode:      "058",
		BankName:      "GTBank",
		AccountName:   "CHINEDU EZE",
	}
	token, err := f.tokens.Issue(user.ID, models.FlowTypeTransferPIN, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Create(ctx, token, &models.FlowSession{
		UserID:      user.ID,
		PhoneNumber: user.WhatsAppNumber,
		FlowType:    models.FlowTypeTransferPIN,
		Data:        map[string]interface{}{"draft": encodeDraft(draft)},
	}))

	resp, err := f.exchange(t, map[string]interface{}{
		"version": "3.0", "action": "data_exchange", "screen": ScreenPINVerification,
		"data":       map[string]string{"pin": "1234"},
		"flow_token": token,
	})
	require.NoError(t, err)
	assert.Equal(t, ScreenSuccess, resp["screen"])
	assert.Equal(t, 1, f.bank.calls)

	wallet, err := f.ledg.Wallet(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 7990.0, wallet.Available)
	assert.Zero(t, wallet.Pending)

	session, err := f.sessions.Get(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, session, "a consumed flow token is dead")
}

func TestPINScreenWrongPINKeepsKeypadOpen(t *testing.T) {
	f := newEndpointFixture(t)
	ctx := context.Background()
	user := f.newUser(t, 10_000)

	draft := transactions.Draft{
		Kind: models.TransactionTypeTransfer, Amount: 2000, Fee: 10,
		AccountNumber: "0123456789", BankCode: "058", BankName: "GTBank",
	}
	token, err := f.tokens.Issue(user.ID, models.FlowTypeTransferPIN, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Create(ctx, token, &models.FlowSession{
		UserID:   user.ID,
		FlowType: models.FlowTypeTransferPIN,
		Data:     map[string]interface{}{"draft": encodeDraft(draft)},
	}))

	resp, err := f.exchange(t, map[string]interface{}{
		"version": "3.0", "action": "data_exchange", "screen": ScreenPINVerification,
		"data":       map[string]string{"pin": "9999"},
		"flow_token": token,
	})
	require.NoError(t, err, "a wrong PIN is a screen error, not an exchange failure")
	assert.Equal(t, ScreenPINVerification, resp["screen"])
	data, _ := resp["data"].(map[string]interface{})
	require.NotNil(t, data)
	assert.Contains(t, data["error_message"], "Wrong PIN")

	assert.Zero(t, f.bank.calls)
	session, serr := f.sessions.Get(ctx, token)
	require.NoError(t, serr)
	assert.NotNil(t, session, "the session survives for another attempt")

	wallet, werr := f.ledg.Wallet(ctx, user.ID)
	require.NoError(t, werr)
	assert.Equal(t, 10_000.0, wallet.Available)
}
