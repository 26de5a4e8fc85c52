package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iotmonitor/ingest-service/internal/db"
	"github.com/iotmonitor/ingest-service/internal/mq"
	"github.com/iotmonitor/ingest-service/internal/repository"
)

type fakeStore struct {
	mu sync.Mutex

	credentials map[string]*db.APICredential
	devices     map[uuid.UUID]*db.Device

	energy []db.EnergyReading
	water  []db.WaterReading
	alerts []db.Alert

	credentialUses map[int64]int
	onlineDevices  map[uuid.UUID]time.Time
	powerHistory   []float64

	insertErr error
	touchErr  error
	lookupErr error
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		credentials:    map[string]*db.APICredential{},
		devices:        map[uuid.UUID]*db.Device{},
		credentialUses: map[int64]int{},
		onlineDevices:  map[uuid.UUID]time.Time{},
	}
}

func (f *fakeStore) addDevice(class db.DeviceClass, apiKey string) *db.Device {
	f.mu.Lock()
	defer f.mu.Unlock()

	device := &db.Device{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		DeviceName: "test device",
		DeviceType: class,
		IsActive:   true,
		Status:     db.DeviceStatusOffline,
	}
	f.devices[device.ID] = device
	f.credentials[apiKey] = &db.APICredential{
		ID:       int64(len(f.credentials) + 1),
		APIKey:   apiKey,
		DeviceID: device.ID,
		IsActive: true,
	}
	return device
}

func (f *fakeStore) GetActiveCredential(_ context.Context, apiKey string) (*db.APICredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	credential, ok := f.credentials[apiKey]
	if !ok || !credential.IsActive {
		return nil, repository.ErrNotFound
	}
	return credential, nil
}

func (f *fakeStore) GetDevice(_ context.Context, id uuid.UUID) (*db.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return device, nil
}

func (f *fakeStore) InsertEnergyReading(_ context.Context, reading *db.EnergyReading) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextID++
	reading.ID = f.nextID
	f.energy = append(f.energy, *reading)
	return reading.ID, nil
}

func (f *fakeStore) InsertWaterReading(_ context.Context, reading *db.WaterReading) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextID++
	reading.ID = f.nextID
	f.water = append(f.water, *reading)
	return reading.ID, nil
}

func (f *fakeStore) RecordCredentialUse(_ context.Context, credentialID int64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	f.credentialUses[credentialID]++
	return nil
}

func (f *fakeStore) MarkDeviceOnline(_ context.Context, deviceID uuid.UUID, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	f.onlineDevices[deviceID] = seenAt
	if device, ok := f.devices[deviceID]; ok {
		device.Status = db.DeviceStatusOnline
		device.LastSeen = &seenAt
	}
	return nil
}

func (f *fakeStore) RecentPowerReadings(_ context.Context, _ uuid.UUID, _ int64, _ int) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.powerHistory, nil
}

func (f *fakeStore) HasUnresolvedAlert(_ context.Context, deviceID uuid.UUID, alertType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, alert := range f.alerts {
		if alert.DeviceID == deviceID && alert.AlertType == alertType && !alert.IsResolved {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertAlert(_ context.Context, alert *db.Alert) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert.ID = int64(len(f.alerts) + 1)
	f.alerts = append(f.alerts, *alert)
	return alert.ID, nil
}

func (f *fakeStore) ListEnergyReadings(_ context.Context, deviceID uuid.UUID, limit int) ([]db.EnergyReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.EnergyReading
	for i := len(f.energy) - 1; i >= 0 && len(out) < limit; i-- {
		if f.energy[i].DeviceID == deviceID {
			out = append(out, f.energy[i])
		}
	}
	return out, nil
}

func (f *fakeStore) ListWaterReadings(_ context.Context, deviceID uuid.UUID, limit int) ([]db.WaterReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []db.WaterReading
	for i := len(f.water) - 1; i >= 0 && len(out) < limit; i-- {
		if f.water[i].DeviceID == deviceID {
			out = append(out, f.water[i])
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	readings []mq.ReadingEvent
	alerts   []mq.AlertEvent
	err      error
}

func (p *fakePublisher) PublishReading(_ context.Context, event mq.ReadingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.readings = append(p.readings, event)
	return nil
}

func (p *fakePublisher) PublishAlert(_ context.Context, event mq.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.alerts = append(p.alerts, event)
	return nil
}

var errStoreDown = errors.New("connection refused")
