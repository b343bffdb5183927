package allotment

import (
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
)

// Allocation is the number of shares one application receives.
type Allocation struct {
	ApplicationID string
	Requested     int64
	Shares        int64
}

// Allocate distributes issueSize shares over apps, which must be in
// submission order. When demand fits the issue every application is filled.
// Otherwise each gets floor(requested*issueSize/totalRequested) and the
// shares left over go out one at a time in submission order, never past an
// application's requested quantity. The result depends only on the inputs.
func Allocate(issueSize int64, apps []models.IPOApplication) []Allocation {
	out := make([]Allocation, len(apps))
	var total int64
	for i, a := range apps {
		out[i] = Allocation{ApplicationID: a.ID, Requested: a.Quantity}
		total += a.Quantity
	}
	if total == 0 || issueSize <= 0 {
		return out
	}
	if total <= issueSize {
		for i := range out {
			out[i].Shares = out[i].Requested
		}
		return out
	}

	issue := decimal.NewFromInt(issueSize)
	demand := decimal.NewFromInt(total)
	var given int64
	for i := range out {
		q, _ := decimal.NewFromInt(out[i].Requested).Mul(issue).QuoRem(demand, 0)
		out[i].Shares = q.IntPart()
		given += out[i].Shares
	}

	for left := issueSize - given; left > 0; {
		progressed := false
		for i := range out {
			if left == 0 {
				break
			}
			if out[i].Shares < out[i].Requested {
				out[i].Shares++
				left--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}
