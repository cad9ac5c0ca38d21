package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gsfleet/fleetman/internal/messaging"
	"github.com/gsfleet/fleetman/internal/models"
)

// fakeDAL is an in-memory worker DAL.
type fakeDAL struct {
	mu sync.Mutex

	nextWorkerID   int64
	nextInstanceID int64

	workers     map[int64]*models.Worker
	instances   map[int64]*models.GameServerInstance
	configs     map[int64]models.GameServerConfig
	gameServers map[int64]models.GameServer

	heartbeatCount    int
	closeOtherCalls   []int64
	instanceShutdowns []int64
}

func newFakeDAL() *fakeDAL {
	return &fakeDAL{
		workers:     make(map[int64]*models.Worker),
		instances:   make(map[int64]*models.GameServerInstance),
		configs:     make(map[int64]models.GameServerConfig),
		gameServers: make(map[int64]models.GameServer),
	}
}

func (d *fakeDAL) addConfig(config models.GameServerConfig, server models.GameServer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs[config.GameServerConfigID] = config
	d.gameServers[server.GameServerID] = server
}

func (d *fakeDAL) WorkerCreate(ctx context.Context) (*models.Worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextWorkerID++
	worker := &models.Worker{WorkerID: d.nextWorkerID, CreatedAt: time.Now().UTC()}
	d.workers[worker.WorkerID] = worker
	return worker, nil
}

func (d *fakeDAL) WorkerShutdown(ctx context.Context, workerID int64) (*models.Worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	worker, ok := d.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("worker %d not found", workerID)
	}
	now := time.Now().UTC()
	worker.EndedAt = &now
	return worker, nil
}

func (d *fakeDAL) CloseOtherWorkers(ctx context.Context, workerID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeOtherCalls = append(d.closeOtherCalls, workerID)
	return nil
}

func (d *fakeDAL) WorkerHeartbeat(ctx context.Context, workerID int64) (*models.Worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heartbeatCount++
	worker, ok := d.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("worker %d not found", workerID)
	}
	now := time.Now().UTC()
	worker.LastHeartbeat = &now
	return worker, nil
}

func (d *fakeDAL) InstanceCreate(ctx context.Context, gameServerConfigID, workerID int64) (*models.GameServerInstance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextInstanceID++
	instance := &models.GameServerInstance{
		GameServerInstanceID: d.nextInstanceID,
		GameServerConfigID:   gameServerConfigID,
		WorkerID:             workerID,
		CreatedAt:            time.Now().UTC(),
	}
	d.instances[instance.GameServerInstanceID] = instance
	return instance, nil
}

func (d *fakeDAL) InstanceShutdown(ctx context.Context, instanceID int64) (*models.GameServerInstance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instanceShutdowns = append(d.instanceShutdowns, instanceID)
	instance, ok := d.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("instance %d not found", instanceID)
	}
	now := time.Now().UTC()
	instance.EndedAt = &now
	return instance, nil
}

func (d *fakeDAL) InstanceHeartbeat(ctx context.Context, instanceID int64) (*models.GameServerInstance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	instance, ok := d.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("instance %d not found", instanceID)
	}
	now := time.Now().UTC()
	instance.LastHeartbeat = &now
	return instance, nil
}

func (d *fakeDAL) GameServer(ctx context.Context, gameServerID int64) (*models.GameServer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	server, ok := d.gameServers[gameServerID]
	if !ok {
		return nil, fmt.Errorf("game server %d not found", gameServerID)
	}
	return &server, nil
}

func (d *fakeDAL) GameServerConfig(ctx context.Context, configID int64) (*models.GameServerConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	config, ok := d.configs[configID]
	if !ok {
		return nil, fmt.Errorf("config %d not found", configID)
	}
	return &config, nil
}

func (d *fakeDAL) instanceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.instances)
}

func (d *fakeDAL) shutdownInstances() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int64, len(d.instanceShutdowns))
	copy(out, d.instanceShutdowns)
	return out
}

func (d *fakeDAL) heartbeats() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heartbeatCount
}

// fakeStatusPub records published statuses.
type fakeStatusPub struct {
	mu       sync.Mutex
	statuses []models.InternalStatusInfo
	closed   bool
}

func (p *fakeStatusPub) Publish(ctx context.Context, status models.InternalStatusInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
	return nil
}

func (p *fakeStatusPub) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakeStatusPub) statusTypes() []models.StatusType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.StatusType, len(p.statuses))
	for i, s := range p.statuses {
		out[i] = s.StatusType
	}
	return out
}

// fakeCmdConsumer is fed by tests.
type fakeCmdConsumer struct {
	mu       sync.Mutex
	queue    []models.Command
	shutdown bool
}

func (c *fakeCmdConsumer) push(cmd models.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, cmd)
}

func (c *fakeCmdConsumer) Consume() []models.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.queue
	c.queue = nil
	return batch
}

func (c *fakeCmdConsumer) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = true
}

// fakeFabric hands out recording endpoints keyed by entity and identifier.
type fakeFabric struct {
	mu        sync.Mutex
	pubs      map[string]*fakeStatusPub
	consumers map[string]*fakeCmdConsumer
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{
		pubs:      make(map[string]*fakeStatusPub),
		consumers: make(map[string]*fakeCmdConsumer),
	}
}

func fabricKey(entity messaging.Entity, identifier string) string {
	return string(entity) + "/" + identifier
}

func (f *fakeFabric) StatusPublisher(entity messaging.Entity, identifier string) (StatusPublisher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fabricKey(entity, identifier)
	if _, ok := f.pubs[key]; !ok {
		f.pubs[key] = &fakeStatusPub{}
	}
	return f.pubs[key], nil
}

func (f *fakeFabric) CommandConsumer(entity messaging.Entity, identifier string) (CommandConsumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fabricKey(entity, identifier)
	if _, ok := f.consumers[key]; !ok {
		f.consumers[key] = &fakeCmdConsumer{}
	}
	return f.consumers[key], nil
}

func (f *fakeFabric) pubFor(entity messaging.Entity, identifier string) *fakeStatusPub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pubs[fabricKey(entity, identifier)]
}

func (f *fakeFabric) consumerFor(entity messaging.Entity, identifier string) *fakeCmdConsumer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumers[fabricKey(entity, identifier)]
}

// fakeInstaller records install calls.
type fakeInstaller struct {
	mu    sync.Mutex
	err   error
	calls []installCall
}

type installCall struct {
	appID      int64
	installDir string
}

func (i *fakeInstaller) Install(appID int64, installDir string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, installCall{appID: appID, installDir: installDir})
	return i.err
}

func (i *fakeInstaller) installCalls() []installCall {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]installCall, len(i.calls))
	copy(out, i.calls)
	return out
}
