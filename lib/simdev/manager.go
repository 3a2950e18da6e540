package simdev

import (
	"fmt"
	"sync"

	"github.com/gotmc/labbench"
)

// Manager is a fake labbench.ResourceManager serving Devices.
type Manager struct {
	mu      sync.Mutex
	order   []string
	devices map[string]*Device
	opens   map[string]int
	listErr error
}

var _ labbench.ResourceManager = (*Manager)(nil)

// NewManager returns a manager listing the given devices in order.
func NewManager(devices ...*Device) *Manager {
	m := &Manager{devices: map[string]*Device{}, opens: map[string]int{}}
	for _, d := range devices {
		m.Plug(d)
	}
	return m
}

// Plug makes d listable.
func (m *Manager) Plug(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.Resource()]; !ok {
		m.order = append(m.order, d.Resource())
	}
	m.devices[d.Resource()] = d
}

// Unplug removes the resource from the listing and breaks the device.
func (m *Manager) Unplug(resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[resource]
	if !ok {
		return
	}
	d.Unplug(nil)
	delete(m.devices, resource)
	for i, r := range m.order {
		if r == resource {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// FailList makes ListResources fail.
func (m *Manager) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// Opens returns how many times resource was opened.
func (m *Manager) Opens(resource string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[resource]
}

func (m *Manager) ListResources(filter string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	p, err := labbench.CompilePattern(filter)
	if err != nil {
		return nil, err
	}
	return p.Filter(m.order), nil
}

func (m *Manager) OpenResource(resource string) (labbench.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[resource]
	if !ok {
		return nil, fmt.Errorf("resource %s not found", resource)
	}
	m.opens[resource]++
	d.reopen()
	return d, nil
}
