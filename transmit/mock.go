package transmit

import "sync"

// MockTransmission records enqueued lines so tests can verify what
// was forwarded.
type MockTransmission struct {
	Mux     sync.Mutex
	Lines   []string
	Flushes int
}

func (m *MockTransmission) Start() error {
	m.Lines = make([]string, 0)
	return nil
}

func (m *MockTransmission) EnqueueLine(line []byte) {
	m.Mux.Lock()
	defer m.Mux.Unlock()
	m.Lines = append(m.Lines, string(line))
}

func (m *MockTransmission) Flush() {
	m.Mux.Lock()
	defer m.Mux.Unlock()
	m.Flushes++
}

// Drain returns the recorded lines and clears the record.
func (m *MockTransmission) Drain() []string {
	m.Mux.Lock()
	defer m.Mux.Unlock()
	lines := m.Lines
	m.Lines = make([]string, 0)
	return lines
}

var _ Transmission = (*MockTransmission)(nil)
