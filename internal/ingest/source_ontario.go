package ingest

import (
	"context"

	"github.com/david/childcare-leads/internal/models"
)

const ontarioDatasetURL = "https://data.ontario.ca/dataset/licensed-child-care-facilities-in-ontario"

// OntarioStrategy reads the Ontario licensed child care facilities CSV.
type OntarioStrategy struct{}

func (OntarioStrategy) Fetch(ctx context.Context, config SourceConfig, env Env) (SourceResult, error) {
	urls := append([]string{config.URL}, config.FallbackURLs...)
	today := env.now().Format(isoDate)

	return runTableSource(ctx, config, env, urls, func(t *Table) rowMapper {
		var (
			name     = t.Column("Centre Name", "center_name", "Name")
			holder   = t.Column("Licence Holder", "License Holder", "licence_holder")
			address  = t.Column("Address", "Street Address")
			city     = t.Column("City", "Municipality")
			postal   = t.Column("Postal Code", "postal_code", "PostalCode")
			license  = t.Column("Licence Number", "License Number", "licence_number")
			capacity = t.Column("Total Capacity", "Capacity", "total_capacity")
			phone    = t.Column("Phone", "Telephone")
			email    = t.Column("Email", "E-mail")
			issued   = t.Column("Issue Date", "issue_date", "Licence Issue Date")
		)

		return func(row []string) (models.RawRecord, bool) {
			holderName := t.Value(row, holder)
			centre := firstNonEmpty(t.Value(row, name), holderName)
			if centre == "" {
				return models.RawRecord{}, false
			}
			return models.RawRecord{
				Name:           centre,
				Address:        appendPostcode(t.Value(row, address), t.Value(row, postal)),
				City:           t.Value(row, city),
				Province:       firstNonEmpty(config.Province, "Ontario"),
				Country:        firstNonEmpty(config.Country, "Canada"),
				Capacity:       capacityCell(t.Value(row, capacity)),
				LicenseNumber:  t.Value(row, license),
				LicenseStatus:  "issued",
				Phone:          t.Value(row, phone),
				Email:          t.Value(row, email),
				DiscoveredDate: today,
				Source:         config.Name,
				SourceURL:      ontarioDatasetURL,
				Type:           "new",
				Notes: joinNotes(
					[2]string{"Licence holder", holderName},
					[2]string{"Issued", t.Value(row, issued)},
				),
			}, true
		}
	})
}
