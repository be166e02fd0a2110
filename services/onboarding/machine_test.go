package onboarding

import (
	"context"
	"fmt"
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
	"github.com/emeka-okafor/kudipal/utils"
)

type recordingMessenger struct {
	texts []string
}

func (m *recordingMessenger) SendText(ctx context.Context, to, body string) error {
	m.texts = append(m.texts, body)
	return nil
}

func (m *recordingMessenger) SendButtons(ctx context.Context, to, body string, buttons []ports.Button) error {
	m.texts = append(m.texts, body)
	return nil
}

func (m *recordingMessenger) SendList(ctx context.Context, to, body, buttonText string, sections []ports.ListSection) error {
	m.texts = append(m.texts, body)
	return nil
}

func (m *recordingMessenger) SendFlow(ctx context.Context, to string, prompt ports.FlowPrompt) error {
	m.texts = append(m.texts, prompt.Body)
	return nil
}

func (m *recordingMessenger) SendDocument(ctx context.Context, to, filename string, data []byte, caption string) error {
	return nil
}

func (m *recordingMessenger) last() string {
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1]
}

type provisioningBank struct {
	vaErr   error
	vaCalls int
}

func (b *provisioningBank) Transfer(ctx context.Context, req ports.BankTransferRequest) (ports.ProviderResult, error) {
	return ports.ProviderResult{}, fmt.Errorf("not supported")
}

func (b *provisioningBank) TransferStatus(ctx context.Context, reference string) (ports.ProviderResult, error) {
	return ports.ProviderResult{}, fmt.Errorf("not supported")
}

func (b *provisioningBank) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	return "", fmt.Errorf("not supported")
}

func (b *provisioningBank) CreateVirtualAccount(ctx context.Context, req ports.VirtualAccountRequest) (ports.VirtualAccount, error) {
	b.vaCalls++
	if b.vaErr != nil {
		return ports.VirtualAccount{}, b.vaErr
	}
	return ports.VirtualAccount{
		AccountNumber: "9900112233",
		BankCode:      "090",
		BankName:      "Partner MFB",
		AccountName:   req.FirstName + " " + req.LastName,
	}, nil
}

type stubKYC struct {
	result ports.BVNResult
	err    error
}

func (k *stubKYC) VerifyBVN(ctx context.Context, bvn, firstName, lastName string, dob *time.Time) (ports.BVNResult, error) {
	return k.result, k.err
}

type machineFixture struct {
	users   *storage.MemoryUserStore
	ledg    *ledger.Ledger
	conv    *conversation.Store
	msgr    *recordingMessenger
	bank    *provisioningBank
	kyc     *stubKYC
	machine *Machine
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()
	f := &machineFixture{
		users: storage.NewMemoryUserStore(),
		msgr:  &recordingMessenger{},
		bank:  &provisioningBank{},
		kyc:   &stubKYC{result: ports.BVNResult{Match: true}},
	}
	f.ledg = ledger.New(storage.NewMemoryLedgerStore(), ledger.Options{
		DefaultDailyLimit:   200_000,
		DefaultMonthlyLimit: 1_000_000,
	})
	f.conv = conversation.NewStore(kv.NewMemoryStore())
	f.machine = NewMachine(f.users, f.ledg, f.msgr, f.conv, f.kyc, f.bank)
	return f
}

func (f *machineFixture) newUser(t *testing.T) *models.User {
	t.Helper()
	user := &models.User{
		WhatsAppNumber: "+2348012345678",
		OnboardingStep: models.OnboardingStepInitial,
		IsActive:       true,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func text(body string) *models.InboundMessage {
	return &models.InboundMessage{Type: models.MessageTypeText, Text: body}
}

// noProvisionBackoff removes the provisioning retry delays for a test.
func noProvisionBackoff(t *testing.T) {
	t.Helper()
	saved := provisionBackoff
	provisionBackoff = []time.Duration{0, 0, 0}
	t.Cleanup(func() { provisionBackoff = saved })
}

const detailsText = "Name: Ada Obi\n" +
	"Date of birth: 14/02/1995\n" +
	"Gender: female\n" +
	"Address: 12 Allen Avenue, Ikeja, Lagos"

func TestOnboardingFullWalk(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	user := f.newUser(t)

	// First contact: greeting.
	require.NoError(t, f.machine.Handle(ctx, user, text("hi")))
	assert.Equal(t, models.OnboardingStepGreeting, user.OnboardingStep)
	assert.Contains(t, f.msgr.last(), "Welcome to KudiPal")

	// Any reply starts personal details; no Flow configured, so text prompt.
	require.NoError(t, f.machine.Handle(ctx, user, text("ok")))
	assert.Equal(t, models.OnboardingStepPersonalDetails, user.OnboardingStep)
	assert.Contains(t, f.msgr.last(), "Name: Ada Obi")

	state, err := f.conv.Get(ctx, user.WhatsAppNumber)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.AwaitingPersonalDetails, state.AwaitingInput)

	// Labelled-lines submission.
	require.NoError(t, f.machine.Handle(ctx, user, text(detailsText)))
	assert.Equal(t, models.OnboardingStepBVN, user.OnboardingStep)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "Obi", user.LastName)
	assert.Equal(t, "female", user.Gender)
	require.NotNil(t, user.DateOfBirth)
	assert.Equal(t, 1995, user.DateOfBirth.Year())
	assert.Contains(t, f.msgr.last(), "BVN")

	// BVN: identity verifies, account gets provisioned in the same turn.
	require.NoError(t, f.machine.Handle(ctx, user, text("12345678901")))
	assert.Equal(t, models.OnboardingStepPINSetup, user.OnboardingStep)
	assert.Equal(t, models.KYCStatusVerified, user.KYCStatus)
	assert.Equal(t, 1, f.bank.vaCalls)
	assert.Contains(t, f.msgr.last(), "PIN")

	wallet, err := f.ledg.Wallet(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "9900112233", wallet.VirtualAccountNumber)
	assert.Equal(t, "Partner MFB", wallet.VirtualBankName)
	assert.Equal(t, "Ada Obi", wallet.VirtualAccountName)

	// PIN entry and confirmation.
	require.NoError(t, f.machine.Handle(ctx, user, text("4321")))
	assert.Contains(t, f.msgr.last(), "once more to confirm")
	require.NoError(t, f.machine.Handle(ctx, user, text("4321")))

	assert.Equal(t, models.OnboardingStepCompleted, user.OnboardingStep)
	assert.True(t, utils.CheckPIN("4321", user.PINHash))
	assert.NotEmpty(t, user.ReferralCode)
	assert.NotNil(t, user.LastWelcomedAt)
	assert.Contains(t, f.msgr.last(), "9900112233", "welcome message carries the funding account")

	state, err = f.conv.Get(ctx, user.WhatsAppNumber)
	require.NoError(t, err)
	assert.Nil(t, state, "no dangling dialogue after completion")

	// A completed user is out of the machine's hands.
	sent := len(f.msgr.texts)
	require.NoError(t, f.machine.Handle(ctx, user, text("hello again")))
	assert.Len(t, f.msgr.texts, sent)
}

func TestPersonalDetailsRejectsUnparseable(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	user := f.newUser(t)
	user.OnboardingStep = models.OnboardingStepPersonalDetails

	require.NoError(t, f.machine.Handle(ctx, user, text("just my name is ada")))
	assert.Equal(t, models.OnboardingStepPersonalDetails, user.OnboardingStep)
	assert.Contains(t, f.msgr.last(), "format", "prompt is repeated with the format")
}

func TestBVNVerificationOutageStaysPending(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	user := f.newUser(t)
	user.OnboardingStep = models.OnboardingStepPersonalDetails
	require.NoError(t, f.machine.Handle(ctx, user, text(detailsText)))

	f.kyc.err = fmt.Errorf("registry timeout")
	require.NoError(t, f.machine.Handle(ctx, user, text("12345678901")))

	assert.Equal(t, models.KYCStatusPending, user.KYCStatus, "an outage never blocks onboarding")
	assert.Equal(t, models.OnboardingStepPINSetup, user.OnboardingStep)
}

func TestBVNMismatchIsRecordedAndContinues(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	user := f.newUser(t)
	user.OnboardingStep = models.OnboardingStepPersonalDetails
	require.NoError(t, f.machine.Handle(ctx, user, text(detailsText)))

	f.kyc.result = ports.BVNResult{Match: false, Reason: "name mismatch"}
	require.NoError(t, f.machine.Handle(ctx, user, text("12345678901")))

	assert.Equal(t, models.KYCStatusRejected, user.KYCStatus)
	assert.Equal(t, models.OnboardingStepPINSetup, user.OnboardingStep)
}

func TestProvisioningFailureRetriesOnNextMessage(t *testing.T) {
	noProvisionBackoff(t)
	f := newMachineFixture(t)
	ctx := context.Background()
	user := f.newUser(t)
	user.OnboardingStep = models.OnboardingStepPersonalDetails
	require.NoError(t, f.machine.Handle(ctx, user, text(detailsText)))

	f.bank.vaErr = fmt.Errorf("partner maintenance window")
	require.NoError(t, f.machine.Handle(ctx, user, text("12345678901")))
	assert.Equal(t, models.OnboardingStepVirtualAccount, user.OnboardingStep)
	assert.Equal(t, 3, f.bank.vaCalls, "transient failures are retried before giving up")
	assert.Contains(t, f.msgr.last(), "try again")

	// The partner recovers; any message retries provisioning.
	f.bank.vaErr = nil
	require.NoError(t, f.machine.Handle(ctx, user, text("hello?")))
	assert.Equal(t, models.OnboardingStepPINSetup, user.OnboardingStep)

	wallet, err := f.ledg.Wallet(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "9900112233", wallet.VirtualAccountNumber)
}

func TestProvisioningIsIdempotent(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	user := f.newUser(t)
	user.FirstName, user.LastName = "Ada", "Obi"
	user.OnboardingStep = models.OnboardingStepVirtualAccount

	require.NoError(t, f.machine.ProvisionVirtualAccount(ctx, user))
	require.NoError(t, f.machine.ProvisionVirtualAccount(ctx, user))
	assert.Equal(t, 1, f.bank.vaCalls, "an existing account is never provisioned twice")
}

func TestPINConfirmMismatchStartsOver(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	user := f.newUser(t)
	user.FirstName = "Ada"
	user.OnboardingStep = models.OnboardingStepVirtualAccount
	require.NoError(t, f.machine.Handle(ctx, user, text("anything")))
	require.Equal(t, models.OnboardingStepPINSetup, user.OnboardingStep)

	require.NoError(t, f.machine.Handle(ctx, user, text("4321")))
	require.NoError(t, f.machine.Handle(ctx, user, text("9999")))
	assert.Contains(t, f.msgr.texts[len(f.msgr.texts)-2], "don't match")
	assert.Empty(t, user.PINHash)

	state, err := f.conv.Get(ctx, user.WhatsAppNumber)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.AwaitingPINSetup, state.AwaitingInput, "mismatch restarts PIN setup")
}

func TestPINSetupRejectsWeakPIN(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	user := f.newUser(t)
	user.FirstName = "Ada"
	user.OnboardingStep = models.OnboardingStepVirtualAccount
	require.NoError(t, f.machine.Handle(ctx, user, text("anything")))

	require.NoError(t, f.machine.Handle(ctx, user, text("12")))
	assert.NotEqual(t, models.OnboardingStepCompleted, user.OnboardingStep)
	assert.Empty(t, user.PINHash)
}

func TestStepsNeverRegress(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	user := f.newUser(t)
	user.OnboardingStep = models.OnboardingStepPINSetup

	require.NoError(t, f.machine.advance(ctx, user, models.OnboardingStepGreeting))
	assert.Equal(t, models.OnboardingStepPINSetup, user.OnboardingStep)

	require.NoError(t, f.machine.advance(ctx, user, models.OnboardingStepCompleted))
	assert.Equal(t, models.OnboardingStepCompleted, user.OnboardingStep)
}
