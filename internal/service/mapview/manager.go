package mapview

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventmap/internal/domain/event"
	"eventmap/internal/domain/mapview"
	geosvc "eventmap/internal/service/geo"
	"eventmap/internal/service/notify"
)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	StateTopic         string
	SessionTTL         time.Duration
	MonitoringInterval time.Duration
	Coordinator        CoordinatorConfig
}

type session struct {
	coordinator *Coordinator
	userID      string
	lastActive  atomic.Int64
	unsubscribe func()
}

func (s *session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

// Manager holds one Coordinator per open map session, feeds them listings,
// forwards their snapshots to the event bus and expires idle sessions
type Manager struct {
	events    event.Store
	resolver  *Resolver
	clusterer *geosvc.Clusterer
	bus       *notify.BusPublisher
	userPrefs func(userID string) mapview.KeyValueStore
	config    ManagerConfig
	now       func() time.Time
	logger    zerolog.Logger

	sessions sync.Map
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates a session manager. Call Start to begin expiring idle sessions.
func NewManager(
	events event.Store,
	resolver *Resolver,
	clusterer *geosvc.Clusterer,
	bus *notify.BusPublisher,
	config ManagerConfig,
	logger zerolog.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	if config.StateTopic == "" {
		config.StateTopic = "mapview"
	}

	return &Manager{
		events:    events,
		resolver:  resolver,
		clusterer: clusterer,
		bus:       bus,
		config:    config,
		now:       time.Now,
		logger:    logger.With().Str("component", "mapview").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetUserPrefs makes each session read and persist locations in the
// key-value store of its user instead of the resolver's shared one
func (m *Manager) SetUserPrefs(prefs func(userID string) mapview.KeyValueStore) {
	m.userPrefs = prefs
}

// StateSubject returns the bus subject a session's snapshots are published on
func (m *Manager) StateSubject(sessionID string) string {
	return fmt.Sprintf("%s.%s.state", m.config.StateTopic, sessionID)
}

// Open creates a session, loads listings and runs the first activation.
// location may be nil when the client reported no permission or fix.
func (m *Manager) Open(ctx context.Context, userID string, location mapview.LocationProvider) (*Coordinator, error) {
	id := uuid.New().String()

	resolver := m.resolver
	if location != nil {
		resolver = resolver.WithLocation(location)
	}
	if m.userPrefs != nil && userID != "" {
		resolver = resolver.WithPrefs(m.userPrefs(userID))
	}

	coordinator := NewCoordinator(id, resolver, m.config.Coordinator,
		WithClusterer(m.clusterer),
		WithClock(m.now),
		WithLogger(m.logger),
	)

	s := &session{coordinator: coordinator, userID: userID}
	s.touch(m.now())
	s.unsubscribe = coordinator.Subscribe(func(snap mapview.Snapshot) {
		if err := m.bus.Publish(m.StateSubject(snap.SessionID), snap); err != nil {
			m.logger.Warn().Err(err).Str("session_id", snap.SessionID).Msg("failed to publish map state")
		}
	})
	m.sessions.Store(id, s)

	if err := m.refresh(ctx, coordinator); err != nil {
		m.Close(id)
		return nil, err
	}

	if err := coordinator.Activate(ctx); err != nil {
		m.Close(id)
		return nil, err
	}

	m.logger.Info().Str("session_id", id).Str("user_id", userID).Msg("map session opened")
	return coordinator, nil
}

// Get returns the coordinator for a session and marks it active
func (m *Manager) Get(id string) (*Coordinator, error) {
	value, ok := m.sessions.Load(id)
	if !ok {
		return nil, mapview.ErrSessionNotFound
	}

	s := value.(*session)
	s.touch(m.now())
	return s.coordinator, nil
}

// Refresh reloads listings for a session
func (m *Manager) Refresh(ctx context.Context, id string) error {
	coordinator, err := m.Get(id)
	if err != nil {
		return err
	}
	return m.refresh(ctx, coordinator)
}

func (m *Manager) refresh(ctx context.Context, coordinator *Coordinator) error {
	records, err := m.events.ListEvents(ctx, nil)
	if err != nil {
		return fmt.Errorf("error loading events: %w", err)
	}
	coordinator.SetEvents(records)
	return nil
}

// Close ends a session; unknown ids are ignored
func (m *Manager) Close(id string) {
	value, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return
	}

	s := value.(*session)
	s.coordinator.Blur()
	s.unsubscribe()
	m.logger.Debug().Str("session_id", id).Msg("map session closed")
}

// CloseUser ends every session owned by userID
func (m *Manager) CloseUser(userID string) int {
	closed := 0
	m.sessions.Range(func(key, value interface{}) bool {
		if value.(*session).userID == userID {
			m.Close(key.(string))
			closed++
		}
		return true
	})
	return closed
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	n := 0
	m.sessions.Range(func(key, value interface{}) bool {
		n++
		return true
	})
	return n
}

// Start begins expiring idle sessions in the background
func (m *Manager) Start() {
	if m.config.MonitoringInterval <= 0 || m.config.SessionTTL <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.monitorSessions()
	}()
}

// Stop stops background work and closes every session
func (m *Manager) Stop(ctx context.Context) error {
	m.cancel()

	c := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(c)
	}()

	select {
	case <-c:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.sessions.Range(func(key, value interface{}) bool {
		m.Close(key.(string))
		return true
	})
	return nil
}

func (m *Manager) monitorSessions() {
	ticker := time.NewTicker(m.config.MonitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.expireIdle()
		}
	}
}

// expireIdle closes sessions not touched within SessionTTL
func (m *Manager) expireIdle() int {
	cutoff := m.now().Add(-m.config.SessionTTL).UnixNano()
	expired := 0

	m.sessions.Range(func(key, value interface{}) bool {
		if value.(*session).lastActive.Load() < cutoff {
			m.Close(key.(string))
			expired++
		}
		return true
	})

	if expired > 0 {
		m.logger.Info().Int("expired", expired).Msg("expired idle map sessions")
	}
	return expired
}
