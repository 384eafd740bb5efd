package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeAccounts is an in-memory AccountRepository.
type fakeAccounts struct {
	mu       sync.Mutex
	admins   map[string]AdministratorRecord
	partners map[int64]PartnerRecord
	nextID   int64
	err      error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		admins:   map[string]AdministratorRecord{},
		partners: map[int64]PartnerRecord{},
		nextID:   100,
	}
}

func (f *fakeAccounts) FindAdministrator(_ context.Context, username string) (*AdministratorRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.admins[username]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &a, nil
}

func (f *fakeAccounts) FindPartner(_ context.Context, email string) (*PartnerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.partners {
		if strings.EqualFold(p.Email, email) {
			return &p, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (f *fakeAccounts) GetPartner(_ context.Context, id int64) (*PartnerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.partners[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	p.PasswordHash = ""
	return &p, nil
}

func (f *fakeAccounts) HasAdministrator(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.admins) > 0, f.err
}

func (f *fakeAccounts) CreateAdministrator(_ context.Context, username, hash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.admins[username]; ok {
		return 0, ErrAccountExists
	}
	f.nextID++
	f.admins[username] = AdministratorRecord{ID: f.nextID, Username: username, PasswordHash: hash, CreatedAt: time.Now()}
	return f.nextID, nil
}

func (f *fakeAccounts) CreatePartner(_ context.Context, company, email, hash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.partners {
		if strings.EqualFold(p.Email, email) {
			return 0, ErrAccountExists
		}
	}
	f.nextID++
	f.partners[f.nextID] = PartnerRecord{BusinessID: f.nextID, CompanyName: company, Email: email, PasswordHash: hash, CreatedAt: time.Now()}
	return f.nextID, nil
}

func (f *fakeAccounts) ListPartners(_ context.Context, page, perPage int) ([]PartnerRecord, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PartnerRecord
	for _, p := range f.partners {
		p.PasswordHash = ""
		out = append(out, p)
	}
	return out, len(out), nil
}

type fakeActivity struct {
	mu     sync.Mutex
	events []LoginEvent
	err    error
}

func (f *fakeActivity) Record(_ context.Context, ev LoginEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append([]LoginEvent{ev}, f.events...)
	return nil
}

func (f *fakeActivity) Recent(_ context.Context, limit int) ([]LoginEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.events) {
		limit = len(f.events)
	}
	return append([]LoginEvent(nil), f.events[:limit]...), nil
}

func (f *fakeActivity) outcomes() []LoginOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]LoginOutcome, 0, len(f.events))
	for i := len(f.events) - 1; i >= 0; i-- {
		out = append(out, f.events[i].Outcome)
	}
	return out
}

func testSecurityConfig() SecurityConfig {
	cfg := DefaultSecurityConfig()
	cfg.SigningKey = "test-signing-key-0123456789abcdef"
	return cfg
}
