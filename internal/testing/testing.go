// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/providers"
	"github.com/desertthunder/tsundoku/internal/services"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// MockProvider is an in-memory [providers.Provider] and [providers.ContentFetcher].
//
// Items, Units (keyed by item id) and Pages (keyed by unit id) are served as-is; Bodies maps content URLs to bytes.
type MockProvider struct {
	Src    models.ContentSource
	Items  []providers.Item
	Units  map[string][]providers.Unit
	Pages  map[string][]providers.Content
	Bodies map[string]string

	PageSize int
	FetchErr error

	mu      sync.Mutex
	fetched []string
}

// NewMockProvider creates a provider with every capability.
func NewMockProvider(id string) *MockProvider {
	return &MockProvider{
		Src: models.ContentSource{
			ID:   id,
			Name: "Mock " + id,
			Kind: models.MediaText,
			Capabilities: []models.Capability{
				models.CapSearch, models.CapDetails, models.CapUnits, models.CapContent, models.CapDownload,
			},
		},
		Units:  make(map[string][]providers.Unit),
		Pages:  make(map[string][]providers.Content),
		Bodies: make(map[string]string),
	}
}

func (m *MockProvider) Source() models.ContentSource { return m.Src }

func (m *MockProvider) Search(ctx context.Context, filter providers.SearchFilter) (*providers.SearchResult, error) {
	var matches []providers.Item
	q := shared.NormalizeTitle(filter.Query)
	for _, it := range m.Items {
		if strings.Contains(shared.NormalizeTitle(it.Title), q) {
			matches = append(matches, it)
		}
	}

	size := m.PageSize
	if size <= 0 {
		size = 10
	}
	start := (filter.NormalizedPage() - 1) * size
	if start >= len(matches) {
		return &providers.SearchResult{Items: []providers.Item{}}, nil
	}
	end := min(start+size, len(matches))
	return &providers.SearchResult{Items: matches[start:end], HasNextPage: end < len(matches)}, nil
}

func (m *MockProvider) GetDetails(ctx context.Context, itemID string) (*providers.Item, error) {
	for _, it := range m.Items {
		if it.ID == itemID {
			return &it, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrItemNotFound, itemID)
}

func (m *MockProvider) ListUnits(ctx context.Context, itemID string) ([]providers.Unit, error) {
	units, ok := m.Units[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrItemNotFound, itemID)
	}
	out := append([]providers.Unit(nil), units...)
	providers.SortUnits(out)
	return out, nil
}

func (m *MockProvider) GetUnitContent(ctx context.Context, unitID string) ([]providers.Content, error) {
	pages, ok := m.Pages[unitID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnitNotFound, unitID)
	}
	return append([]providers.Content(nil), pages...), nil
}

func (m *MockProvider) FetchContent(ctx context.Context, c providers.Content) (io.ReadCloser, error) {
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	body, ok := m.Bodies[c.URL]
	if !ok {
		return nil, fmt.Errorf("no body for %s", c.URL)
	}
	m.mu.Lock()
	m.fetched = append(m.fetched, c.URL)
	m.mu.Unlock()
	return io.NopCloser(strings.NewReader(body)), nil
}

// Fetched returns the content URLs fetched so far, in order.
func (m *MockProvider) Fetched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.fetched...)
}

// AddUnit registers a unit with one page per body.
func (m *MockProvider) AddUnit(itemID string, unit providers.Unit, bodies ...string) {
	unit.ItemID = itemID
	m.Units[itemID] = append(m.Units[itemID], unit)
	pages := make([]providers.Content, 0, len(bodies))
	for i, b := range bodies {
		url := fmt.Sprintf("%s/%d.jpg", unit.ID, i)
		pages = append(pages, providers.Content{Index: i, URL: url, MIMEType: "image/jpeg"})
		m.Bodies[url] = b
	}
	m.Pages[unit.ID] = pages
}

// TrackerUpdate is one recorded [services.Tracker.UpdateProgress] call.
type TrackerUpdate struct {
	RemoteID int
	Progress int
	Status   services.RemoteStatus
}

// MockTracker is a [services.Tracker] recording every update.
//
// UpdateErr, when set, is returned by every UpdateProgress call; UpdateErrs is consumed first, one error per call.
type MockTracker struct {
	mu sync.Mutex

	Token      bool
	Remote     map[int]services.RemoteProgress
	UpdateErr  error
	UpdateErrs []error
	GetErr     error
	ListErr    error

	updates []TrackerUpdate
	calls   int
}

// NewMockTracker creates an authenticated tracker with an empty remote list.
func NewMockTracker() *MockTracker {
	return &MockTracker{Token: true, Remote: make(map[int]services.RemoteProgress)}
}

func (m *MockTracker) Name() string { return "Mock" }

func (m *MockTracker) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Token
}

// SetAuthenticated toggles the credential.
func (m *MockTracker) SetAuthenticated(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Token = v
}

// SetUpdateErr replaces the error returned by UpdateProgress.
func (m *MockTracker) SetUpdateErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateErr = err
}

func (m *MockTracker) ListProgress(ctx context.Context, kind models.MediaKind) ([]services.RemoteProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []services.RemoteProgress
	for _, r := range m.Remote {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockTracker) GetProgress(ctx context.Context, remoteID int) (*services.RemoteProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	r, ok := m.Remote[remoteID]
	if !ok {
		return nil, fmt.Errorf("%w: media %d", shared.ErrItemNotFound, remoteID)
	}
	return &r, nil
}

func (m *MockTracker) UpdateProgress(ctx context.Context, remoteID, progress int, status services.RemoteStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	var err error
	if len(m.UpdateErrs) > 0 {
		err, m.UpdateErrs = m.UpdateErrs[0], m.UpdateErrs[1:]
	} else {
		err = m.UpdateErr
	}
	if err != nil {
		return err
	}

	m.updates = append(m.updates, TrackerUpdate{RemoteID: remoteID, Progress: progress, Status: status})
	r := m.Remote[remoteID]
	r.RemoteID, r.Progress, r.RemoteStatus, r.Status = remoteID, progress, status, services.LocalStatus(status)
	m.Remote[remoteID] = r
	return nil
}

// Updates returns the successful updates in call order.
func (m *MockTracker) Updates() []TrackerUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TrackerUpdate(nil), m.updates...)
}

// Calls returns the number of remote calls made, successful or not.
func (m *MockTracker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Notification is one recorded notification.
type Notification struct {
	Title, Body, Icon string
}

// MockNotifier records notifications.
type MockNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (m *MockNotifier) Notify(title, body, icon string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, Notification{title, body, icon})
}

// Sent returns the notifications received so far.
func (m *MockNotifier) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.sent...)
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
