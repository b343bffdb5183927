package interfaces

import (
	"context"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
)

type IPOStore interface {
	CreateIPO(ctx context.Context, ipo models.IPO) error
	GetIPO(ctx context.Context, ipoId string) (models.IPO, error)
	SaveIPO(ctx context.Context, ipo models.IPO) error

	// CreateApplication assigns the next submission sequence of the IPO and returns the stored application.
	CreateApplication(ctx context.Context, app models.IPOApplication) (models.IPOApplication, error)
	GetApplication(ctx context.Context, applicationId string) (models.IPOApplication, error)
	SaveApplication(ctx context.Context, app models.IPOApplication) error
	ListApplications(ctx context.Context, ipoId string) ([]models.IPOApplication, error)

	// CompleteAllotment writes the IPO, its applications and summary atomically.
	CompleteAllotment(ctx context.Context, ipo models.IPO, apps []models.IPOApplication, summary models.AllotmentSummary) error
	GetSummary(ctx context.Context, ipoId string) (models.AllotmentSummary, error)
}
