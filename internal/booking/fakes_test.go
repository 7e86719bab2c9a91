package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/salon-ai-platform/internal/appointment"
	"github.com/wolfman30/salon-ai-platform/internal/availability"
	"github.com/wolfman30/salon-ai-platform/internal/salon"
	"github.com/wolfman30/salon-ai-platform/internal/storage/postgres"
)

// memStore mimics the Postgres repository: resource and appointment row locks
// are held until the transaction ends and writes become visible only on commit.
type memStore struct {
	mu        sync.Mutex
	resources map[uuid.UUID]appointment.Resource
	appts     map[uuid.UUID]appointment.Appointment
	blocks    map[uuid.UUID]appointment.BlockingEvent
	rowLocks  map[uuid.UUID]*sync.Mutex

	insertErr error
	commits   int
}

type memTx struct {
	held   []*sync.Mutex
	locked map[uuid.UUID]bool
	appts  map[uuid.UUID]appointment.Appointment
	blocks map[uuid.UUID]*appointment.BlockingEvent
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		resources: map[uuid.UUID]appointment.Resource{},
		appts:     map[uuid.UUID]appointment.Appointment{},
		blocks:    map[uuid.UUID]appointment.BlockingEvent{},
		rowLocks:  map[uuid.UUID]*sync.Mutex{},
	}
}

func (s *memStore) addResource(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.resources[id] = appointment.Resource{ID: id, Name: name, CalendarID: name + "@salon.test", Active: true}
	return id
}

func (s *memStore) put(a appointment.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts[a.ID] = a
}

func (s *memStore) get(id uuid.UUID) (appointment.Appointment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	return a, ok
}

func (s *memStore) active(resourceID uuid.UUID) []appointment.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range s.appts {
		if a.ResourceID == resourceID && a.Status.IsActive() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *memStore) rowLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[id] = l
	}
	return l
}

func txOf(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	return tx
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := &memTx{
		locked: map[uuid.UUID]bool{},
		appts:  map[uuid.UUID]appointment.Appointment{},
		blocks: map[uuid.UUID]*appointment.BlockingEvent{},
	}
	defer func() {
		for i := len(tx.held) - 1; i >= 0; i-- {
			tx.held[i].Unlock()
		}
	}()
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range tx.appts {
		s.appts[id] = a
	}
	for id, b := range tx.blocks {
		if b == nil {
			delete(s.blocks, id)
			continue
		}
		s.blocks[id] = *b
	}
	s.commits++
	return nil
}

func (s *memStore) lock(ctx context.Context, id uuid.UUID) {
	tx := txOf(ctx)
	if tx == nil || tx.locked[id] {
		return
	}
	l := s.rowLock(id)
	l.Lock()
	tx.held = append(tx.held, l)
	tx.locked[id] = true
}

func (s *memStore) LockResource(ctx context.Context, resourceID uuid.UUID) (appointment.Resource, error) {
	s.mu.Lock()
	res, ok := s.resources[resourceID]
	s.mu.Unlock()
	if !ok || !res.Active {
		return appointment.Resource{}, postgres.ErrResourceNotFound
	}
	s.lock(ctx, resourceID)
	return res, nil
}

func (s *memStore) GetResource(_ context.Context, resourceID uuid.UUID) (appointment.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[resourceID]
	if !ok {
		return appointment.Resource{}, postgres.ErrResourceNotFound
	}
	return res, nil
}

func (s *memStore) ListBusy(ctx context.Context, resourceID uuid.UUID, from, to time.Time) ([]availability.BusyInterval, error) {
	return s.ListBusyExcluding(ctx, resourceID, from, to, uuid.Nil)
}

func (s *memStore) ListBusyExcluding(ctx context.Context, resourceID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]availability.BusyInterval, error) {
	s.mu.Lock()
	view := make(map[uuid.UUID]appointment.Appointment, len(s.appts))
	for id, a := range s.appts {
		view[id] = a
	}
	var busy []availability.BusyInterval
	for _, b := range s.blocks {
		if b.ResourceID == resourceID && availability.Overlaps(b.StartTime, b.EndTime, from, to) {
			busy = append(busy, availability.BusyInterval{Start: b.StartTime, End: b.EndTime, Kind: availability.BusyBlockingEvent, Label: string(b.Category), RefID: b.ID})
		}
	}
	s.mu.Unlock()

	if tx := txOf(ctx); tx != nil {
		for id, a := range tx.appts {
			view[id] = a
		}
	}
	for _, a := range view {
		if a.ResourceID != resourceID || a.ID == exclude || !a.Status.IsActive() {
			continue
		}
		if availability.Overlaps(a.StartTime, a.EndTime(), from, to) {
			busy = append(busy, availability.BusyInterval{Start: a.StartTime, End: a.EndTime(), Kind: availability.BusyAppointment, Label: string(a.Status), RefID: a.ID})
		}
	}
	availability.SortBusy(busy)
	return busy, nil
}

func (s *memStore) InsertAppointment(ctx context.Context, a *appointment.Appointment) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	txOf(ctx).appts[a.ID] = *a
	return nil
}

func (s *memStore) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	a, ok := s.get(id)
	if !ok {
		return nil, postgres.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *memStore) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if _, ok := s.get(id); !ok {
		return nil, postgres.ErrAppointmentNotFound
	}
	s.lock(ctx, id)
	a, _ := s.get(id)
	return &a, nil
}

func (s *memStore) SaveStatus(ctx context.Context, a *appointment.Appointment) error {
	txOf(ctx).appts[a.ID] = *a
	return nil
}

func (s *memStore) Reschedule(ctx context.Context, a *appointment.Appointment) error {
	txOf(ctx).appts[a.ID] = *a
	return nil
}

func (s *memStore) InsertBlock(ctx context.Context, b *appointment.BlockingEvent) error {
	cp := *b
	txOf(ctx).blocks[b.ID] = &cp
	return nil
}

func (s *memStore) DeleteBlock(ctx context.Context, resourceID, blockID uuid.UUID) (*appointment.BlockingEvent, error) {
	s.mu.Lock()
	b, ok := s.blocks[blockID]
	s.mu.Unlock()
	if !ok || b.ResourceID != resourceID {
		return nil, postgres.ErrBlockNotFound
	}
	txOf(ctx).blocks[blockID] = nil
	return &b, nil
}

type memCatalog struct {
	services map[string]salon.Service
	schedule salon.Schedule
	err      error
}

func newMemCatalog(loc *time.Location) *memCatalog {
	return &memCatalog{
		services: map[string]salon.Service{
			"cut":       {ID: "cut", Name: "Haircut", Category: "hair", DurationMinutes: 45, Active: true},
			"color":     {ID: "color", Name: "Colour", Category: "hair", DurationMinutes: 90, Active: true},
			"manicure":  {ID: "manicure", Name: "Manicure", Category: "nails", DurationMinutes: 30, Active: true},
			"perm-2019": {ID: "perm-2019", Name: "Perm", Category: "hair", DurationMinutes: 120, Active: false},
		},
		schedule: salon.Schedule{
			Location: loc,
			Hours:    salon.DefaultBusinessHours(),
			Holidays: []salon.Holiday{{Date: "2025-12-25", Name: "Christmas"}},
		},
	}
}

func (c *memCatalog) GetServices(_ context.Context, ids []string) ([]salon.Service, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]salon.Service, 0, len(ids))
	for _, id := range ids {
		svc, ok := c.services[id]
		if !ok || !svc.Active {
			return nil, postgres.ErrServiceNotFound
		}
		out = append(out, svc)
	}
	return out, nil
}

func (c *memCatalog) LoadSchedule(context.Context) (salon.Schedule, error) {
	return c.schedule, nil
}

type recordedEvent struct {
	aggregateID uuid.UUID
	eventType   string
	payload     any
}

type memOutbox struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (o *memOutbox) Insert(_ context.Context, aggregateID uuid.UUID, eventType string, payload any) (uuid.UUID, error) {
	if o.err != nil {
		return uuid.Nil, o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, recordedEvent{aggregateID: aggregateID, eventType: eventType, payload: payload})
	return uuid.New(), nil
}

func (o *memOutbox) types() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.eventType)
	}
	return out
}

type memMirror struct {
	mu          sync.Mutex
	eventID     *string
	pushed      []uuid.UUID
	updated     []uuid.UUID
	deleted     []uuid.UUID
	blocks      []uuid.UUID
	blocksFreed []uuid.UUID
}

func (m *memMirror) Push(_ context.Context, appt appointment.Appointment) *string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = append(m.pushed, appt.ID)
	return m.eventID
}

func (m *memMirror) Update(appt appointment.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, appt.ID)
}

func (m *memMirror) Delete(appt appointment.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, appt.ID)
}

func (m *memMirror) PushBlock(b appointment.BlockingEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks = append(m.blocks, b.ID)
}

func (m *memMirror) DeleteBlock(b appointment.BlockingEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocksFreed = append(m.blocksFreed, b.ID)
}

var errBoom = errors.New("connection reset")
