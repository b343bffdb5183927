package memory

import (
	"context"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

func (m *Store) CreateIPO(ctx context.Context, ipo models.IPO) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ipos[ipo.ID]; exists {
		return xerrors.ErrConflict
	}
	m.ipos[ipo.ID] = ipo
	return nil
}

func (m *Store) GetIPO(ctx context.Context, ipoId string) (models.IPO, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ipo, exists := m.ipos[ipoId]
	if !exists {
		return models.IPO{}, xerrors.ErrIPONotFound
	}
	return ipo, nil
}

func (m *Store) SaveIPO(ctx context.Context, ipo models.IPO) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ipos[ipo.ID]; !exists {
		return xerrors.ErrIPONotFound
	}
	m.ipos[ipo.ID] = ipo
	return nil
}

func (m *Store) CreateApplication(ctx context.Context, app models.IPOApplication) (models.IPOApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ipos[app.IPOID]; !exists {
		return models.IPOApplication{}, xerrors.ErrIPONotFound
	}
	if _, exists := m.apps[app.ID]; exists {
		return models.IPOApplication{}, xerrors.ErrConflict
	}
	app.Sequence = int64(len(m.appsByIPO[app.IPOID]) + 1)
	m.apps[app.ID] = app
	m.appsByIPO[app.IPOID] = append(m.appsByIPO[app.IPOID], app.ID)
	return app, nil
}

func (m *Store) GetApplication(ctx context.Context, applicationId string) (models.IPOApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	app, exists := m.apps[applicationId]
	if !exists {
		return models.IPOApplication{}, xerrors.ErrApplicationNotFound
	}
	return app, nil
}

func (m *Store) SaveApplication(ctx context.Context, app models.IPOApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.apps[app.ID]; !exists {
		return xerrors.ErrApplicationNotFound
	}
	m.apps[app.ID] = app
	return nil
}

// ListApplications returns the applications in submission order.
func (m *Store) ListApplications(ctx context.Context, ipoId string) ([]models.IPOApplication, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.appsByIPO[ipoId]
	result := make([]models.IPOApplication, 0, len(ids))
	for _, id := range ids {
		result = append(result, m.apps[id])
	}
	return result, nil
}

func (m *Store) CompleteAllotment(ctx context.Context, ipo models.IPO, apps []models.IPOApplication, summary models.AllotmentSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ipos[ipo.ID]; !exists {
		return xerrors.ErrIPONotFound
	}
	for _, a := range apps {
		if _, exists := m.apps[a.ID]; !exists {
			return xerrors.ErrApplicationNotFound
		}
	}

	m.ipos[ipo.ID] = ipo
	for _, a := range apps {
		m.apps[a.ID] = a
	}
	m.summaries[ipo.ID] = summary
	return nil
}

func (m *Store) GetSummary(ctx context.Context, ipoId string) (models.AllotmentSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.summaries[ipoId]
	if !exists {
		return models.AllotmentSummary{}, xerrors.ErrNotFound
	}
	return s, nil
}
