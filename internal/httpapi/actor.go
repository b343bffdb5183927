package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

const (
	headerActorID           = "X-Actor-ID"
	headerActorCapabilities = "X-Actor-Capabilities"
)

var errMissingActor = errors.New("missing " + headerActorID + " header")

// actorFrom reads the caller identity set by the upstream gateway.
func actorFrom(r *http.Request) (models.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(headerActorID))
	if id == "" {
		return models.Actor{}, errMissingActor
	}
	actor := models.Actor{ID: id}
	for _, c := range strings.Split(r.Header.Get(headerActorCapabilities), ",") {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			actor.Capabilities = append(actor.Capabilities, models.Capability(c))
		}
	}
	return actor, nil
}

func requireMaker(actor models.Actor) error {
	if !actor.Can(models.CapabilityMaker) {
		return fmt.Errorf("%w: actor %q lacks the maker capability", xerrors.ErrUnauthorized, actor.ID)
	}
	return nil
}

func requireChecker(actor models.Actor) error {
	if !actor.Can(models.CapabilityChecker) {
		return fmt.Errorf("%w: actor %q lacks the checker capability", xerrors.ErrUnauthorized, actor.ID)
	}
	return nil
}
