package repositories

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/rowan/pkg/database"
	"github.com/Ramsey-B/rowan/pkg/models"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// AddressRepository handles address history persistence
type AddressRepository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewAddressRepository creates a new address repository
func NewAddressRepository(db database.DB, logger ectologger.Logger) *AddressRepository {
	return &AddressRepository{
		db:     db,
		logger: logger,
	}
}

// AddAddress appends an address to a person's history
func (r *AddressRepository) AddAddress(ctx context.Context, a *models.Address) error {
	ctx, span := tracing.StartSpan(ctx, "repositories.AddressRepository.AddAddress")
	defer span.End()

	ib := database.NewInsertBuilder("addresses")
	ib.Cols("person_id", "street", "city", "region", "country", "effective_date", "source_id")
	ib.Values(a.PersonID, a.Street, a.City, a.Region, a.Country, a.EffectiveDate, a.SourceID)
	ib.Returning("id", "created_at")

	query, args := ib.Build()
	if err := r.db.Conn(ctx).GetContext(ctx, a, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("person_id", a.PersonID).Error("Failed to add address")
		tracing.RecordError(span, err)
		return mapError(err, "add address")
	}
	return nil
}

// ListAddresses returns a person's addresses oldest first, unknown dates first
func (r *AddressRepository) ListAddresses(ctx context.Context, personID int64) ([]models.Address, error) {
	ctx, span := tracing.StartSpan(ctx, "repositories.AddressRepository.ListAddresses")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("id", "person_id", "street", "city", "region", "country", "effective_date", "source_id", "created_at")
	sb.From("addresses")
	sb.Where(sb.Equal("person_id", personID))
	sb.OrderBy("id")

	query, args := sb.Build()
	addresses := make([]models.Address, 0)
	if err := r.db.Conn(ctx).SelectContext(ctx, &addresses, query, args...); err != nil {
		return nil, mapError(err, "list addresses of person %d", personID)
	}
	// partial dates do not sort correctly as text
	sort.SliceStable(addresses, func(i, j int) bool { return models.AddressLess(addresses[i], addresses[j]) })
	return addresses, nil
}
