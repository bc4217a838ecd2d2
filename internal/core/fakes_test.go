package core

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository for service tests.
type fakeRepo struct {
	mu            sync.Mutex
	rowLocks      map[uint]*sync.Mutex
	accounts      map[uint]*Account
	devices       map[uint]*AccountDevice
	resetTokens   map[uint]*PasswordResetToken
	telemetry     map[uint]*TelemetryRecord
	registrations map[string]*DeviceRegistration
	plans         map[uint]*Plan
	subs          map[uint]*Subscription
	tanks         map[uint]*Tank
	nextID        uint

	failSaveTelemetry bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rowLocks:      make(map[uint]*sync.Mutex),
		accounts:      make(map[uint]*Account),
		devices:       make(map[uint]*AccountDevice),
		resetTokens:   make(map[uint]*PasswordResetToken),
		telemetry:     make(map[uint]*TelemetryRecord),
		registrations: make(map[string]*DeviceRegistration),
		plans:         make(map[uint]*Plan),
		subs:          make(map[uint]*Subscription),
		tanks:         make(map[uint]*Tank),
	}
}

func (f *fakeRepo) id() uint {
	f.nextID++
	return f.nextID
}

func (f *fakeRepo) CreateAccount(_ context.Context, a *Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == 0 {
		a.ID = f.id()
	}
	cp := *a
	f.accounts[a.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateAccount(_ context.Context, a *Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[a.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *a
	f.accounts[a.ID] = &cp
	return nil
}

func (f *fakeRepo) DeleteAccount(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, id)
	for did, d := range f.devices {
		if d.AccountID == id {
			delete(f.devices, did)
		}
	}
	return nil
}

func (f *fakeRepo) GetAccount(_ context.Context, id uint) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAccountForUpdate outside a transaction takes no lock; fakeTx overrides
// it with the row-lock behavior.
func (f *fakeRepo) GetAccountForUpdate(ctx context.Context, id uint) (*Account, error) {
	return f.GetAccount(ctx, id)
}

func (f *fakeRepo) rowLock(id uint) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rowLocks[id]
	if !ok {
		m = &sync.Mutex{}
		f.rowLocks[id] = m
	}
	return m
}

func (f *fakeRepo) GetAccountWithDevices(ctx context.Context, id uint) (*Account, error) {
	a, err := f.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.AccountID == id {
			a.Devices = append(a.Devices, *d)
		}
	}
	return a, nil
}

func (f *fakeRepo) GetAccountByEmail(_ context.Context, email string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) AccountEmailExists(ctx context.Context, email string) (bool, error) {
	_, err := f.GetAccountByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeRepo) ListAccountsByRoles(_ context.Context, roles []string) ([]*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Account
	for _, a := range f.accounts {
		for _, role := range roles {
			if a.Role == role {
				cp := *a
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) UpdateAccountLastLogin(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	a.LastLoginDate = &now
	return nil
}

func (f *fakeRepo) CreateAccountDevice(_ context.Context, d *AccountDevice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.devices {
		if existing.AccountID == d.AccountID && existing.DeviceID == d.DeviceID {
			return gorm.ErrDuplicatedKey
		}
	}
	if d.ID == 0 {
		d.ID = f.id()
	}
	cp := *d
	f.devices[d.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateAccountDevice(_ context.Context, d *AccountDevice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[d.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *d
	f.devices[d.ID] = &cp
	return nil
}

func (f *fakeRepo) DeleteAccountDevice(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices, id)
	return nil
}

func (f *fakeRepo) GetAccountDevice(_ context.Context, accountID, deviceID uint) (*AccountDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[deviceID]
	if !ok || d.AccountID != accountID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRepo) ListAccountDevices(_ context.Context, accountID uint) ([]*AccountDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*AccountDevice
	for _, d := range f.devices {
		if d.AccountID == accountID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CountAccountDevices(ctx context.Context, accountID uint) (int64, error) {
	devices, _ := f.ListAccountDevices(ctx, accountID)
	return int64(len(devices)), nil
}

func (f *fakeRepo) ClearPrimaryDevices(_ context.Context, accountID uint, exceptID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.devices {
		if d.AccountID == accountID && d.ID != exceptID {
			d.IsPrimary = false
		}
	}
	return nil
}

func (f *fakeRepo) CreateResetToken(_ context.Context, t *PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == 0 {
		t.ID = f.id()
	}
	cp := *t
	f.resetTokens[t.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateResetToken(_ context.Context, t *PasswordResetToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.resetTokens[t.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *t
	f.resetTokens[t.ID] = &cp
	return nil
}

func (f *fakeRepo) DeleteResetTokensByEmail(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.resetTokens {
		if t.Email == email {
			delete(f.resetTokens, id)
		}
	}
	return nil
}

func (f *fakeRepo) GetUnusedResetToken(_ context.Context, email string, otp int) (*PasswordResetToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.resetTokens {
		if t.Email == email && t.OTP == otp && !t.Used {
			cp := *t
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) SaveTelemetry(_ context.Context, rec *TelemetryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSaveTelemetry {
		return errors.New("storage failure")
	}
	if rec.ID == 0 {
		rec.ID = f.id()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	cp := *rec
	f.telemetry[rec.ID] = &cp
	return nil
}

func (f *fakeRepo) SaveTelemetryBatch(ctx context.Context, records []*TelemetryRecord) error {
	for _, rec := range records {
		if err := f.SaveTelemetry(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRepo) MarkTelemetryForwarded(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.telemetry[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	rec.Forwarded = true
	return nil
}

func (f *fakeRepo) sortedTelemetry() []*TelemetryRecord {
	var out []*TelemetryRecord
	for _, rec := range f.telemetry {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (f *fakeRepo) FindTelemetryByDeviceAndRange(_ context.Context, deviceID string, start, end time.Time) ([]*TelemetryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*TelemetryRecord
	for _, rec := range f.sortedTelemetry() {
		if rec.DeviceID == deviceID && !rec.Timestamp.Before(start) && !rec.Timestamp.After(end) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindTelemetryByDevice(_ context.Context, deviceID string, page, size int) ([]*TelemetryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*TelemetryRecord
	for _, rec := range f.sortedTelemetry() {
		if rec.DeviceID == deviceID {
			matched = append(matched, rec)
		}
	}
	return paginate(matched, page, size), nil
}

func (f *fakeRepo) FindTelemetryByTenant(_ context.Context, tenantID string, page, size int) ([]*TelemetryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*TelemetryRecord
	for _, rec := range f.sortedTelemetry() {
		if rec.TenantID == tenantID {
			matched = append(matched, rec)
		}
	}
	return paginate(matched, page, size), nil
}

func (f *fakeRepo) FindTelemetryByType(_ context.Context, dataType string) ([]*TelemetryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*TelemetryRecord
	for _, rec := range f.sortedTelemetry() {
		if rec.DataType == dataType {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindLatestTelemetry(ctx context.Context, deviceID string, limit int) ([]*TelemetryRecord, error) {
	out, err := f.FindTelemetryByDevice(ctx, deviceID, 0, limit)
	return out, err
}

func (f *fakeRepo) CountTelemetrySince(_ context.Context, deviceID string, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, rec := range f.telemetry {
		if rec.DeviceID == deviceID && !rec.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) ListUnforwardedTelemetry(_ context.Context, limit int) ([]*TelemetryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*TelemetryRecord
	for _, rec := range f.sortedTelemetry() {
		if !rec.Forwarded {
			out = append(out, rec)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func paginate(records []*TelemetryRecord, page, size int) []*TelemetryRecord {
	start := page * size
	if start >= len(records) {
		return nil
	}
	end := start + size
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}

func (f *fakeRepo) CreateDeviceRegistration(_ context.Context, d *DeviceRegistration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == 0 {
		d.ID = f.id()
	}
	cp := *d
	f.registrations[d.DeviceID] = &cp
	return nil
}

func (f *fakeRepo) UpdateDeviceRegistration(_ context.Context, d *DeviceRegistration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.registrations[d.DeviceID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *d
	f.registrations[d.DeviceID] = &cp
	return nil
}

func (f *fakeRepo) DeleteDeviceRegistration(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registrations, deviceID)
	return nil
}

func (f *fakeRepo) GetDeviceRegistration(_ context.Context, deviceID string) (*DeviceRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.registrations[deviceID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRepo) DeviceRegistrationExists(ctx context.Context, deviceID string) (bool, error) {
	_, err := f.GetDeviceRegistration(ctx, deviceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeRepo) ListDeviceRegistrations(_ context.Context, filter DeviceRegistrationFilter) ([]*DeviceRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*DeviceRegistration
	for _, d := range f.registrations {
		if filter.TenantID != "" && d.TenantID != filter.TenantID {
			continue
		}
		if filter.DeviceType != "" && d.DeviceType != filter.DeviceType {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CreatePlan(_ context.Context, p *Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == 0 {
		p.ID = f.id()
	}
	cp := *p
	f.plans[p.ID] = &cp
	return nil
}

func (f *fakeRepo) GetPlan(_ context.Context, id uint) (*Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) ListPlans(_ context.Context) ([]*Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Plan
	for _, p := range f.plans {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CreateSubscription(_ context.Context, s *Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == 0 {
		s.ID = f.id()
	}
	cp := *s
	f.subs[s.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateSubscription(_ context.Context, s *Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *s
	f.subs[s.ID] = &cp
	return nil
}

func (f *fakeRepo) GetSubscription(_ context.Context, id uint) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeRepo) ListAccountSubscriptions(_ context.Context, accountID uint) ([]*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Subscription
	for _, s := range f.subs {
		if s.AccountID == accountID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) CreateTank(_ context.Context, t *Tank) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == 0 {
		t.ID = f.id()
	}
	cp := *t
	f.tanks[t.ID] = &cp
	return nil
}

func (f *fakeRepo) UpdateTank(_ context.Context, t *Tank) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tanks[t.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *t
	f.tanks[t.ID] = &cp
	return nil
}

func (f *fakeRepo) GetTank(_ context.Context, id uint) (*Tank, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tanks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRepo) ListAccountTanks(_ context.Context, accountID uint) ([]*Tank, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Tank
	for _, t := range f.tanks {
		if t.AccountID == accountID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) WithTransaction(ctx context.Context, fn func(context.Context, Repository) error) error {
	tx := &fakeTx{fakeRepo: f}
	defer tx.release()
	return fn(ctx, tx)
}

// fakeTx mimics transaction-scoped row locks: a locked account row stays
// locked until the transaction function returns.
type fakeTx struct {
	*fakeRepo
	held []*sync.Mutex
}

func (t *fakeTx) GetAccountForUpdate(ctx context.Context, id uint) (*Account, error) {
	m := t.rowLock(id)
	m.Lock()
	t.held = append(t.held, m)
	return t.GetAccount(ctx, id)
}

func (t *fakeTx) release() {
	for _, m := range t.held {
		m.Unlock()
	}
	t.held = nil
}

// --- collaborator fakes ---

type fakeSigner struct {
	signErr   error
	verifyErr error
	down      bool
}

func (s *fakeSigner) Sign(_ context.Context, plaintext string) (string, error) {
	if s.down || s.signErr != nil {
		if s.signErr != nil {
			return "", s.signErr
		}
		return "", errors.New("signer unreachable")
	}
	return "sigof(" + plaintext + ")", nil
}

func (s *fakeSigner) Verify(_ context.Context, plaintext, signature string) (bool, error) {
	if s.down || s.verifyErr != nil {
		if s.verifyErr != nil {
			return false, s.verifyErr
		}
		return false, errors.New("signer unreachable")
	}
	return signature == "sigof("+plaintext+")", nil
}

type fakeRegistry struct {
	roles []string
	err   error
}

func (r *fakeRegistry) Roles(context.Context, string) ([]string, error) {
	return r.roles, r.err
}

type fakeIDGen struct {
	next string
	err  error
}

func (g *fakeIDGen) Next(context.Context, string, string) (string, error) {
	return g.next, g.err
}

type fakeMailer struct {
	mu       sync.Mutex
	welcomes []string
	otps     []int
}

func (m *fakeMailer) SendWelcome(to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomes = append(m.welcomes, to)
	return nil
}

func (m *fakeMailer) SendPasswordResetOTP(_ string, otp int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps = append(m.otps, otp)
	return nil
}

type fakeForwarder struct {
	mu     sync.Mutex
	sent   []uint
	err    error
	failed int
}

func (f *fakeForwarder) Forward(_ context.Context, rec *TelemetryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		f.failed++
		return f.err
	}
	f.sent = append(f.sent, rec.ID)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	topics  []string
	payload []byte
	err     error
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payload = payload
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
