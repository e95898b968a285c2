// Package history answers queries over settled transaction records.
// Records are written by the settlement worker; this package only reads.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xtrntr/coinex/internal/models"
)

// PageSize is the number of records in one page of history
const PageSize = 10

// RecentLimit bounds the recent order view
const RecentLimit = 10

// AllTypes selects every transaction type
const AllTypes = "ALL"

// Repository is the persistent history table
type Repository interface {
	FindHistory(ctx context.Context, f models.HistoryFilter) ([]models.TransactionHistory, int, error)
}

// Coins validates asset codes
type Coins interface {
	FindCoin(ctx context.Context, code string) (*models.Coin, error)
}

type Service struct {
	repo  Repository
	coins Coins
	now   func() time.Time
}

func NewService(repo Repository, coins Coins) *Service {
	return &Service{repo: repo, coins: coins, now: time.Now}
}

// FindParams are the raw query inputs of a history search
type FindParams struct {
	Period string
	Type   string
	Code   string
	Page   int
}

// PageInfo describes where a page sits in the full result
type PageInfo struct {
	Page          int `json:"page"`
	Size          int `json:"size"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
}

// Page is one page of history records
type Page struct {
	Data     []models.TransactionHistory `json:"data"`
	PageInfo PageInfo                    `json:"pageInfo"`
}

// PeriodStart returns the earliest creation time included by period.
// An empty period means one week.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	switch period {
	case "", "w":
		return now.AddDate(0, 0, -7), nil
	case "m":
		return now.AddDate(0, -1, 0), nil
	case "3m":
		return now.AddDate(0, -3, 0), nil
	case "6m":
		return now.AddDate(0, -6, 0), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", models.ErrInvalidPeriod, period)
}

// ParseType maps a query type onto a filter; ALL and empty select everything
func ParseType(s string) (models.TransactionType, error) {
	if s == "" || s == AllTypes {
		return "", nil
	}
	return models.ParseTransactionType(s)
}

// Find returns one page of a user's history
func (s *Service) Find(ctx context.Context, userID int64, p FindParams) (*Page, error) {
	since, err := PeriodStart(p.Period, s.now())
	if err != nil {
		return nil, err
	}
	typ, err := ParseType(p.Type)
	if err != nil {
		return nil, err
	}
	if p.Code != "" {
		if _, err := s.coins.FindCoin(ctx, p.Code); err != nil {
			return nil, err
		}
	}
	page := p.Page
	if page < 1 {
		page = 1
	}

	records, total, err := s.repo.FindHistory(ctx, models.HistoryFilter{
		UserID: userID,
		Since:  since,
		Type:   typ,
		Code:   p.Code,
		Limit:  PageSize,
		Offset: (page - 1) * PageSize,
	})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.TransactionHistory{}
	}
	return &Page{
		Data: records,
		PageInfo: PageInfo{
			Page:          page,
			Size:          PageSize,
			TotalElements: total,
			TotalPages:    (total + PageSize - 1) / PageSize,
		},
	}, nil
}

// RecentOrders returns the latest order fills of a user on one asset,
// combining the newest bids and asks.
func (s *Service) RecentOrders(ctx context.Context, userID int64, code string) ([]models.TransactionHistory, error) {
	if _, err := s.coins.FindCoin(ctx, code); err != nil {
		return nil, err
	}

	var merged []models.TransactionHistory
	for _, typ := range []models.TransactionType{models.TransactionBid, models.TransactionAsk} {
		records, _, err := s.repo.FindHistory(ctx, models.HistoryFilter{
			UserID: userID,
			Type:   typ,
			Code:   code,
			Limit:  RecentLimit,
		})
		if err != nil {
			return nil, err
		}
		merged = append(merged, records...)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].CreatedAt.After(merged[j].CreatedAt) })
	if len(merged) > RecentLimit {
		merged = merged[:RecentLimit]
	}
	if merged == nil {
		merged = []models.TransactionHistory{}
	}
	return merged, nil
}
