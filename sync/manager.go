package sync

import (
	"fmt"
	stdsync "sync"

	"github.com/pribylovaa/go-annotations/models"
)

// Manager раздаёт ядра синхронизации по сущностям со счётчиком ссылок:
// несколько представлений одной сущности делят одно ядро (и одну подписку
// на события), последний release останавливает его.
type Manager struct {
	opts Options

	mu     stdsync.Mutex
	closed bool
	cores  map[string]*managedCore
}

type managedCore struct {
	core *Core
	refs int
}

// NewManager создаёт менеджер; opts передаются каждому создаваемому ядру.
func NewManager(opts Options) (*Manager, error) {
	const op = "sync/manager/NewManager"

	if opts.Gateway == nil {
		return nil, fmt.Errorf("%s: %w: nil gateway", op, ErrValidation)
	}

	return &Manager{
		opts:  opts,
		cores: make(map[string]*managedCore),
	}, nil
}

func entityKey(e models.EntityRef) string {
	return e.Type + "/" + e.ID
}

// Acquire возвращает ядро для сущности, создавая его при первом обращении.
// Возвращённый release обязан быть вызван ровно один раз; повторные вызовы
// игнорируются.
func (m *Manager) Acquire(entity models.EntityRef) (*Core, func(), error) {
	const op = "sync/manager/Acquire"

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrClosed)
	}

	key := entityKey(entity)

	mc, ok := m.cores[key]
	if !ok {
		core, err := New(entity, m.opts)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}

		mc = &managedCore{core: core}
		m.cores[key] = mc
	}

	mc.refs++

	var once stdsync.Once
	release := func() {
		once.Do(func() { m.release(key) })
	}

	return mc.core, release, nil
}

func (m *Manager) release(key string) {
	m.mu.Lock()

	mc, ok := m.cores[key]
	if !ok {
		m.mu.Unlock()
		return
	}

	mc.refs--
	if mc.refs > 0 {
		m.mu.Unlock()
		return
	}

	delete(m.cores, key)
	m.mu.Unlock()

	// Закрытие вне mu: Close дожидается внутренних горутин ядра.
	_ = mc.core.Close()
}

// Close останавливает все живые ядра независимо от счётчиков ссылок.
func (m *Manager) Close() error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return nil
	}

	m.closed = true
	cores := make([]*managedCore, 0, len(m.cores))
	for _, mc := range m.cores {
		cores = append(cores, mc)
	}
	m.cores = make(map[string]*managedCore)

	m.mu.Unlock()

	for _, mc := range cores {
		_ = mc.core.Close()
	}

	return nil
}
